package report_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/frahmantamala/partner-payout/internal/payout"
	"github.com/frahmantamala/partner-payout/internal/report"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type stubExporter struct {
	period  report.Period
	batchID string
	masked  bool
}

func (s *stubExporter) SummaryCSV(_ context.Context, w io.Writer, p report.Period) (int, error) {
	s.period = p
	_, err := io.WriteString(w, "batch_id\nbatch-1\n")
	return 1, err
}

func (s *stubExporter) ItemsCSV(_ context.Context, w io.Writer, batchID string, masked bool) (int, error) {
	if batchID == "missing" {
		return 0, fmt.Errorf("export: %w", payout.ErrBatchNotFound)
	}
	s.batchID, s.masked = batchID, masked
	_, err := io.WriteString(w, "item_id\n")
	return 0, err
}

type stubAuthorizer struct{ allowed bool }

func (s stubAuthorizer) Allowed(context.Context, string) bool { return s.allowed }

var _ = Describe("Handler", func() {
	var (
		exporter *stubExporter
		allowPII bool
	)

	BeforeEach(func() {
		exporter = &stubExporter{}
		allowPII = false
	})

	get := func(path string) *httptest.ResponseRecorder {
		h := report.NewHandler(exporter, stubAuthorizer{allowed: allowPII})
		router := chi.NewRouter()
		router.Get("/reports/payouts/summary.csv", h.SummaryCSV)
		router.Get("/reports/payouts/batches/{id}/items.csv", h.ItemsCSV)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	It("serves the summary as a csv attachment", func() {
		rec := get("/reports/payouts/summary.csv?from=2024-01-01&to=2024-01-31")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Header().Get("Content-Type")).To(HavePrefix("text/csv"))
		Expect(rec.Header().Get("Content-Disposition")).To(ContainSubstring("payout-summary-2024-01-01-2024-01-31.csv"))
		Expect(rec.Body.String()).To(Equal("batch_id\nbatch-1\n"))
		Expect(exporter.period.To.Day()).To(Equal(31))
	})

	It("rejects a malformed or inverted period", func() {
		Expect(get("/reports/payouts/summary.csv?from=jan&to=2024-01-31").Code).To(Equal(http.StatusBadRequest))
		Expect(get("/reports/payouts/summary.csv?from=2024-02-01&to=2024-01-31").Code).To(Equal(http.StatusBadRequest))
	})

	It("masks items by default", func() {
		rec := get("/reports/payouts/batches/batch-1/items.csv")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(exporter.batchID).To(Equal("batch-1"))
		Expect(exporter.masked).To(BeTrue())
	})

	It("requires view_payout_pii for an unmasked export", func() {
		Expect(get("/reports/payouts/batches/batch-1/items.csv?masked=false").Code).To(Equal(http.StatusForbidden))

		allowPII = true
		Expect(get("/reports/payouts/batches/batch-1/items.csv?masked=false").Code).To(Equal(http.StatusOK))
		Expect(exporter.masked).To(BeFalse())
	})

	It("returns 404 for an unknown batch", func() {
		Expect(get("/reports/payouts/batches/missing/items.csv").Code).To(Equal(http.StatusNotFound))
	})
})
