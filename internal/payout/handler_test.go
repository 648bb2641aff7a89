package payout_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	errs "github.com/frahmantamala/partner-payout/internal"
	gw "github.com/frahmantamala/partner-payout/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/partner-payout/internal/eligibility"
	"github.com/frahmantamala/partner-payout/internal/payout"
	"github.com/go-chi/chi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type stubReconciler struct {
	result *payout.ReconcileResult
	err    error
}

func (s *stubReconciler) Reconcile(_ context.Context, batchID string) (*payout.ReconcileResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	res := *s.result
	res.BatchID = batchID
	return &res, nil
}

var _ = Describe("Handler", func() {
	var (
		gateway *mockGateway
		router  chi.Router
	)

	BeforeEach(func() {
		gateway = &mockGateway{}
		evaluator := &mockEvaluator{candidates: []eligibility.Candidate{
			{PartnerID: "p1", Receiver: "a@example.com", AmountCents: 4000, Currency: "USD"},
		}}
		service := payout.NewService(newMockRepository(), gateway, evaluator, nil, payout.Options{}, testLogger())
		reconciler := &stubReconciler{result: &payout.ReconcileResult{Success: true, Status: payout.BatchStatusCompleted, Applied: 1}}
		h := payout.NewHandler(service, reconciler)

		router = chi.NewRouter()
		router.Post("/payouts/preview", h.Preview)
		router.Post("/payouts/batches", h.Submit)
		router.Get("/payouts/batches/{id}", h.GetBatch)
		router.Post("/payouts/batches/{id}/reconcile", h.Reconcile)
		router.Post("/payouts/batches/{id}/release", h.Release)
	})

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req = req.WithContext(errs.ContextWithAdminID(req.Context(), "admin-1"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	previewBody := `{"period_start":"2024-01-01","period_end":"2024-01-31","currency":"USD","payout_minimum_cents":1000}`

	submitBody := func() string {
		rec := do(http.MethodPost, "/payouts/preview", previewBody)
		Expect(rec.Code).To(Equal(http.StatusOK))
		var pr payout.PreviewResult
		Expect(json.Unmarshal(rec.Body.Bytes(), &pr)).To(Succeed())

		items, err := json.Marshal(pr.ItemsPreview)
		Expect(err).NotTo(HaveOccurred())
		return `{"period_start":"2024-01-01","period_end":"2024-01-31","currency":"USD","payout_minimum_cents":1000,` +
			`"idempotency_key":"` + pr.IdempotencyKey + `","items":` + string(items) + `}`
	}

	It("rejects a malformed period", func() {
		rec := do(http.MethodPost, "/payouts/preview", `{"period_start":"2024-13-01","period_end":"2024-01-31"}`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(rec.Body.String()).To(ContainSubstring(string(errs.ErrCodeInvalidPeriod)))
	})

	It("creates a batch and answers 200 on replay", func() {
		body := submitBody()
		rec := do(http.MethodPost, "/payouts/batches", body)
		Expect(rec.Code).To(Equal(http.StatusCreated))
		Expect(rec.Body.String()).To(ContainSubstring(`"paypal_batch_id":"PP-BATCH-1"`))

		rec = do(http.MethodPost, "/payouts/batches", body)
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"replayed":true`))
		Expect(gateway.calls).To(HaveLen(1))
	})

	It("answers 502 with the failure body when the gateway rejects the batch", func() {
		gateway.createErr = &gw.APIError{StatusCode: 500, Name: "INTERNAL_SERVICE_ERROR"}
		rec := do(http.MethodPost, "/payouts/batches", submitBody())
		Expect(rec.Code).To(Equal(http.StatusBadGateway))
		Expect(rec.Body.String()).To(ContainSubstring(`"funds_reserved":true`))
		Expect(rec.Body.String()).To(ContainSubstring(`"success":false`))
		Expect(rec.Body.String()).To(ContainSubstring(`"code":"GATEWAY_SUBMISSION_FAILED"`))
	})

	It("answers 404 for an unknown batch", func() {
		rec := do(http.MethodGet, "/payouts/batches/missing", "")
		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("runs a reconcile for the batch in the path", func() {
		rec := do(http.MethodPost, "/payouts/batches/b-9/reconcile", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring(`"batch_id":"b-9"`))
	})

	It("requires a release reason", func() {
		rec := do(http.MethodPost, "/payouts/batches/b-9/release", `{}`)
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})
})
