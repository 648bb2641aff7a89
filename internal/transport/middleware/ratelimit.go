package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	errs "github.com/frahmantamala/partner-payout/internal"
	"github.com/frahmantamala/partner-payout/internal/auth"
	"github.com/frahmantamala/partner-payout/internal/transport"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
)

const rateLimitPrefix = "partner-payout:rate"

// RateLimit limits requests per admin, or per client IP before
// authentication. rate uses the limiter format, e.g. "60-M". A nil redis
// client keeps counters in memory.
func RateLimit(rate string, client *redis.Client, lg *slog.Logger) (func(http.Handler) http.Handler, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit %q: %w", rate, err)
	}

	var store limiter.Store
	if client != nil {
		store, err = redisstore.NewStoreWithOptions(client, limiter.StoreOptions{
			Prefix:   rateLimitPrefix,
			MaxRetry: 3,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis rate limit store: %w", err)
		}
	} else {
		store = memory.NewStoreWithOptions(limiter.StoreOptions{
			Prefix:          rateLimitPrefix,
			CleanUpInterval: parsed.Period,
		})
	}

	base := transport.NewBaseHandler(lg)
	instance := limiter.New(store, parsed, limiter.WithTrustForwardHeader(true))
	mw := stdlib.NewMiddleware(instance,
		stdlib.WithKeyGetter(func(r *http.Request) string {
			if admin, ok := auth.AdminFromContext(r.Context()); ok {
				return "admin:" + admin.ID
			}
			return "ip:" + instance.GetIPKey(r)
		}),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			lg.Warn("rate limit reached", "path", r.URL.Path)
			base.HandleError(w, errs.NewRateLimitError("too many requests"))
		}),
	)
	return mw.Handler, nil
}
