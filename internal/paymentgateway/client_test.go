package paymentgateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	gw "github.com/frahmantamala/partner-payout/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/partner-payout/internal/paymentgateway"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestPaymentGateway(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "PaymentGateway Suite")
}

// fakePayPal implements the token, create and status endpoints.
type fakePayPal struct {
	tokenCalls   int32
	rejectToken  bool
	createStatus int
	lastBody     map[string]interface{}
	lastHeaders  http.Header
	pages        [][]map[string]interface{}
}

func (f *fakePayPal) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.tokenCalls, 1)
		user, pass, ok := r.BasicAuth()
		if f.rejectToken || !ok || user != "client" || pass != "secret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/payments/payouts", func(w http.ResponseWriter, r *http.Request) {
		f.lastHeaders = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
		w.Header().Set("Content-Type", "application/json")
		if f.createStatus != 0 {
			w.WriteHeader(f.createStatus)
			_, _ = w.Write([]byte(`{"name":"INSUFFICIENT_FUNDS","message":"Sender does not have sufficient funds.","debug_id":"dbg-1"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"batch_header":{"payout_batch_id":"PP-1","batch_status":"PENDING"}}`))
	})
	mux.HandleFunc("/v1/payments/payouts/PP-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" || r.URL.Query().Get("total_required") != "true" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		page := 1
		if p := r.URL.Query().Get("page"); p == "2" {
			page = 2
		}
		resp := map[string]interface{}{
			"batch_header": map[string]interface{}{"payout_batch_id": "PP-1", "batch_status": "SUCCESS"},
			"items":        f.pages[page-1],
			"total_pages":  len(f.pages),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	return mux
}

var _ = Describe("Client", func() {
	var (
		fake   *fakePayPal
		server *httptest.Server
		client *paymentgateway.Client
		ctx    context.Context
	)

	request := gw.BatchRequest{
		SenderBatchID: "key-abc",
		EmailSubject:  "You have a payout",
		Lines: []gw.BatchLine{
			{SenderItemID: "item-1", Receiver: "a@example.com", AmountCents: 4000, Currency: "usd", Note: "January"},
		},
	}

	BeforeEach(func() {
		fake = &fakePayPal{pages: [][]map[string]interface{}{
			{{"payout_item_id": "PPI-1", "transaction_id": "TX-1", "transaction_status": "SUCCESS", "payout_item": map[string]interface{}{"sender_item_id": "item-1"}}},
			{{"payout_item_id": "PPI-2", "transaction_status": "FAILED", "payout_item": map[string]interface{}{"sender_item_id": "item-2"},
				"errors": map[string]interface{}{"name": "RECEIVER_UNREGISTERED", "message": "Receiver is unregistered"}}},
		}}
		server = httptest.NewServer(fake.handler())

		var err error
		client, err = paymentgateway.NewClient(paymentgateway.Config{
			BaseURL: server.URL, ClientID: "client", ClientSecret: "secret",
		}, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	AfterEach(func() {
		server.Close()
	})

	It("refuses to build without credentials", func() {
		_, err := paymentgateway.NewClient(paymentgateway.Config{BaseURL: server.URL}, slog.Default())
		Expect(err).To(MatchError(ContainSubstring("client_id")))
	})

	It("fetches the access token once across calls", func() {
		Expect(client.Authenticate(ctx)).To(Succeed())
		_, err := client.CreateBatch(ctx, request)
		Expect(err).NotTo(HaveOccurred())
		_, err = client.GetBatch(ctx, "PP-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(atomic.LoadInt32(&fake.tokenCalls)).To(Equal(int32(1)))
	})

	It("reports a rejected token request as an auth failure", func() {
		fake.rejectToken = true
		err := client.Authenticate(ctx)
		Expect(errors.Is(err, paymentgateway.ErrAuthFailed)).To(BeTrue())
	})

	It("sends the idempotency key and PayPal wire format", func() {
		res, err := client.CreateBatch(ctx, request)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.PayoutBatchID).To(Equal("PP-1"))
		Expect(res.BatchStatus).To(Equal("PENDING"))

		Expect(fake.lastHeaders.Get("PayPal-Request-Id")).To(Equal("key-abc"))
		Expect(fake.lastHeaders.Get("Authorization")).To(Equal("Bearer tok-1"))

		header := fake.lastBody["sender_batch_header"].(map[string]interface{})
		Expect(header["sender_batch_id"]).To(Equal("key-abc"))
		Expect(header["email_subject"]).To(Equal("You have a payout"))

		items := fake.lastBody["items"].([]interface{})
		Expect(items).To(HaveLen(1))
		item := items[0].(map[string]interface{})
		Expect(item["recipient_type"]).To(Equal("EMAIL"))
		Expect(item["sender_item_id"]).To(Equal("item-1"))
		Expect(item["amount"]).To(Equal(map[string]interface{}{"value": "40.00", "currency": "USD"}))
	})

	It("returns a structured error for a non-2xx response", func() {
		fake.createStatus = http.StatusUnprocessableEntity
		_, err := client.CreateBatch(ctx, request)

		var apiErr *gw.APIError
		Expect(errors.As(err, &apiErr)).To(BeTrue())
		Expect(apiErr.StatusCode).To(Equal(http.StatusUnprocessableEntity))
		Expect(apiErr.Name).To(Equal("INSUFFICIENT_FUNDS"))
		Expect(apiErr.DebugID).To(Equal("dbg-1"))
	})

	It("rejects an invalid request before calling the gateway", func() {
		_, err := client.CreateBatch(ctx, gw.BatchRequest{SenderBatchID: "k"})
		Expect(err).To(MatchError(ContainSubstring("at least one line")))
		Expect(fake.lastBody).To(BeNil())
	})

	It("follows pagination and normalizes item results", func() {
		res, err := client.GetBatch(ctx, "PP-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.BatchStatus).To(Equal("SUCCESS"))
		Expect(res.Items).To(HaveLen(2))

		Expect(res.Items[0]).To(Equal(gw.ItemResult{
			SenderItemID: "item-1", PayoutItemID: "PPI-1", TransactionID: "TX-1", TransactionStatus: gw.TransactionStatusSuccess,
		}))
		Expect(res.Items[1].TransactionStatus).To(Equal(gw.TransactionStatusFailed))
		Expect(strings.HasPrefix(res.Items[1].FailureReason, "RECEIVER_UNREGISTERED")).To(BeTrue())
	})
})
