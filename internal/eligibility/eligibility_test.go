package eligibility_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/frahmantamala/partner-payout/internal/eligibility"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestEligibility(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Eligibility Suite")
}

type mockEligibilityRepository struct {
	candidates []eligibility.Candidate
	err        error
	currency   string
	minimum    int64
}

func (m *mockEligibilityRepository) FindEligible(_ context.Context, currency string, minimumCents int64) ([]eligibility.Candidate, error) {
	m.currency = currency
	m.minimum = minimumCents
	return m.candidates, m.err
}

var _ = Describe("Evaluator", func() {
	var (
		repo      *mockEligibilityRepository
		evaluator *eligibility.Evaluator
		criteria  eligibility.Criteria
	)

	BeforeEach(func() {
		repo = &mockEligibilityRepository{}
		evaluator = eligibility.NewEvaluator(repo, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
		criteria = eligibility.Criteria{
			PeriodStart:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			PeriodEnd:          time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
			Currency:           "usd",
			PayoutMinimumCents: 1000,
		}
	})

	It("normalizes the currency and orders candidates by partner", func() {
		repo.candidates = []eligibility.Candidate{{PartnerID: "b"}, {PartnerID: "a"}}
		out, err := evaluator.Evaluate(context.Background(), criteria)
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.currency).To(Equal("USD"))
		Expect(repo.minimum).To(Equal(int64(1000)))
		Expect(out[0].PartnerID).To(Equal("a"))
	})

	It("propagates storage errors unchanged", func() {
		cause := errors.New("db down")
		repo.err = cause
		_, err := evaluator.Evaluate(context.Background(), criteria)
		Expect(errors.Is(err, cause)).To(BeTrue())
	})
})
