package paymentgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gw "github.com/frahmantamala/partner-payout/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/partner-payout/pkg/money"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	payoutsPath  = "/v1/payments/payouts"
	tokenPath    = "/v1/oauth2/token"
	pageSize     = 100
	maxPages     = 1000
	maxBodyBytes = 4 << 20
)

var ErrAuthFailed = errors.New("gateway authentication failed")

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to a PayPal-compatible payouts API. It owns its token
// lifecycle; callers never pass credentials per request.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  oauth2.TokenSource
	logger  *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	var missing []string
	if config.BaseURL == "" {
		missing = append(missing, "base_url")
	}
	if config.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if config.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("gateway config: missing %s", strings.Join(missing, ", "))
	}
	if _, err := url.ParseRequestURI(config.BaseURL); err != nil {
		return nil, fmt.Errorf("gateway config: invalid base_url: %w", err)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	baseURL := strings.TrimRight(config.BaseURL, "/")
	credentials := &clientcredentials.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		TokenURL:     baseURL + tokenPath,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	// The token source outlives any single request, so it gets its own context.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)

	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		tokens:  credentials.TokenSource(tokenCtx),
		logger:  logger,
	}, nil
}

func (c *Client) token() (*oauth2.Token, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return nil, fmt.Errorf("%w: token endpoint returned %d", ErrAuthFailed, retrieveErr.Response.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return tok, nil
}

// Authenticate makes sure a valid access token is cached.
func (c *Client) Authenticate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tok, err := c.token()
	if err != nil {
		c.logger.Error("gateway authentication failed", "error", err)
		return err
	}
	c.logger.Debug("gateway token ready", "expires_at", tok.Expiry)
	return nil
}

type amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type senderBatchHeader struct {
	SenderBatchID string `json:"sender_batch_id"`
	EmailSubject  string `json:"email_subject,omitempty"`
	EmailMessage  string `json:"email_message,omitempty"`
}

type payoutItem struct {
	RecipientType string `json:"recipient_type"`
	Receiver      string `json:"receiver"`
	Amount        amount `json:"amount"`
	Note          string `json:"note,omitempty"`
	SenderItemID  string `json:"sender_item_id"`
}

type createPayoutRequest struct {
	SenderBatchHeader senderBatchHeader `json:"sender_batch_header"`
	Items             []payoutItem      `json:"items"`
}

type batchHeader struct {
	PayoutBatchID string `json:"payout_batch_id"`
	BatchStatus   string `json:"batch_status"`
}

type itemError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

type payoutItemDetail struct {
	PayoutItemID      string     `json:"payout_item_id"`
	TransactionID     string     `json:"transaction_id"`
	TransactionStatus string     `json:"transaction_status"`
	PayoutItem        payoutItem `json:"payout_item"`
	Errors            *itemError `json:"errors,omitempty"`
}

type batchResponse struct {
	BatchHeader batchHeader        `json:"batch_header"`
	Items       []payoutItemDetail `json:"items"`
	TotalItems  int                `json:"total_items"`
	TotalPages  int                `json:"total_pages"`
}

type errorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
}

// CreateBatch submits a batch payout. SenderBatchID is sent as the
// PayPal-Request-Id so the gateway itself rejects duplicate submissions.
func (c *Client) CreateBatch(ctx context.Context, req gw.BatchRequest) (*gw.BatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	body := createPayoutRequest{
		SenderBatchHeader: senderBatchHeader{
			SenderBatchID: req.SenderBatchID,
			EmailSubject:  req.EmailSubject,
			EmailMessage:  req.EmailMessage,
		},
		Items: make([]payoutItem, len(req.Lines)),
	}
	for i, line := range req.Lines {
		body.Items[i] = payoutItem{
			RecipientType: "EMAIL",
			Receiver:      line.Receiver,
			Amount:        amount{Value: money.FormatCents(line.AmountCents), Currency: strings.ToUpper(line.Currency)},
			Note:          line.Note,
			SenderItemID:  line.SenderItemID,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal payout request: %w", err)
	}

	c.logger.Info("submitting payout batch",
		"sender_batch_id", req.SenderBatchID,
		"items", len(req.Lines))

	var resp batchResponse
	headers := map[string]string{"PayPal-Request-Id": req.SenderBatchID}
	if err := c.do(ctx, http.MethodPost, c.baseURL+payoutsPath, payload, headers, &resp); err != nil {
		return nil, err
	}
	if resp.BatchHeader.PayoutBatchID == "" {
		return nil, errors.New("gateway response is missing payout_batch_id")
	}

	c.logger.Info("payout batch accepted",
		"sender_batch_id", req.SenderBatchID,
		"payout_batch_id", resp.BatchHeader.PayoutBatchID,
		"batch_status", resp.BatchHeader.BatchStatus)

	return toResult(resp.BatchHeader, resp.Items), nil
}

// GetBatch fetches the current status of every item in a batch, following pages.
func (c *Client) GetBatch(ctx context.Context, payoutBatchID string) (*gw.BatchResult, error) {
	if payoutBatchID == "" {
		return nil, errors.New("payout batch id is required")
	}

	var (
		header batchHeader
		items  []payoutItemDetail
	)
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("page_size", strconv.Itoa(pageSize))
		q.Set("total_required", "true")
		endpoint := fmt.Sprintf("%s%s/%s?%s", c.baseURL, payoutsPath, url.PathEscape(payoutBatchID), q.Encode())

		var resp batchResponse
		if err := c.do(ctx, http.MethodGet, endpoint, nil, nil, &resp); err != nil {
			return nil, err
		}
		header = resp.BatchHeader
		items = append(items, resp.Items...)

		if len(resp.Items) == 0 || page >= resp.TotalPages {
			break
		}
	}

	c.logger.Debug("payout batch status fetched",
		"payout_batch_id", payoutBatchID,
		"batch_status", header.BatchStatus,
		"items", len(items))

	result := toResult(header, items)
	if result.PayoutBatchID == "" {
		result.PayoutBatchID = payoutBatchID
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte, headers map[string]string, out interface{}) error {
	tok, err := c.token()
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("request creation error: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}
	tok.SetAuthHeader(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("response read error: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &gw.APIError{StatusCode: resp.StatusCode}
		var parsed errorResponse
		if json.Unmarshal(raw, &parsed) == nil {
			apiErr.Name = parsed.Name
			apiErr.Message = parsed.Message
			apiErr.DebugID = parsed.DebugID
		}
		c.logger.Error("gateway returned an error",
			"method", method,
			"status", resp.StatusCode,
			"name", apiErr.Name,
			"debug_id", apiErr.DebugID)
		return apiErr
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("response unmarshal error: %w", err)
	}
	return nil
}

func toResult(header batchHeader, items []payoutItemDetail) *gw.BatchResult {
	result := &gw.BatchResult{
		PayoutBatchID: header.PayoutBatchID,
		BatchStatus:   header.BatchStatus,
		Items:         make([]gw.ItemResult, 0, len(items)),
	}
	for _, it := range items {
		r := gw.ItemResult{
			SenderItemID:      it.PayoutItem.SenderItemID,
			PayoutItemID:      it.PayoutItemID,
			TransactionID:     it.TransactionID,
			TransactionStatus: gw.TransactionStatus(strings.ToUpper(it.TransactionStatus)),
		}
		if it.Errors != nil {
			r.FailureReason = strings.TrimSpace(it.Errors.Name + " " + it.Errors.Message)
		}
		result.Items = append(result.Items, r)
	}
	return result
}
