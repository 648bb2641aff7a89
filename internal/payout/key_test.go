package payout_test

import (
	"errors"
	"time"

	gw "github.com/frahmantamala/partner-payout/internal/core/datamodel/paymentgateway"
	"github.com/frahmantamala/partner-payout/internal/payout"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("DeriveIdempotencyKey", func() {
	params := payout.Params{
		PeriodStart:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:          time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		Currency:           "USD",
		PayoutMinimumCents: 1000,
		NoteTemplate:       payout.DefaultNoteTemplate,
	}
	items := []payout.Item{
		{PartnerID: "p1", Receiver: "a@example.com", AmountCents: 4000, Currency: "USD"},
		{PartnerID: "p2", Receiver: "b@example.com", AmountCents: 5000, Currency: "USD"},
	}

	It("is a 64 character hex digest that is stable across calls", func() {
		key := payout.DeriveIdempotencyKey(params, items)
		Expect(key).To(MatchRegexp(`^[0-9a-f]{64}$`))
		Expect(payout.DeriveIdempotencyKey(params, items)).To(Equal(key))
	})

	It("does not depend on item order or currency case", func() {
		shuffled := []payout.Item{items[1], items[0]}
		lower := params
		lower.Currency = "usd"
		Expect(payout.DeriveIdempotencyKey(lower, shuffled)).To(Equal(payout.DeriveIdempotencyKey(params, items)))
	})

	It("ignores the time of day on period bounds", func() {
		later := params
		later.PeriodStart = time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)
		Expect(payout.DeriveIdempotencyKey(later, items)).To(Equal(payout.DeriveIdempotencyKey(params, items)))
	})

	DescribeTable("changes when any logical input changes",
		func(mutate func(p *payout.Params, its []payout.Item)) {
			p := params
			its := append([]payout.Item(nil), items...)
			mutate(&p, its)
			Expect(payout.DeriveIdempotencyKey(p, its)).NotTo(Equal(payout.DeriveIdempotencyKey(params, items)))
		},
		Entry("period end", func(p *payout.Params, _ []payout.Item) { p.PeriodEnd = p.PeriodEnd.AddDate(0, 0, 1) }),
		Entry("currency", func(p *payout.Params, _ []payout.Item) { p.Currency = "EUR" }),
		Entry("minimum", func(p *payout.Params, _ []payout.Item) { p.PayoutMinimumCents = 2000 }),
		Entry("note template", func(p *payout.Params, _ []payout.Item) { p.NoteTemplate = "Thanks" }),
		Entry("item amount", func(_ *payout.Params, its []payout.Item) { its[0].AmountCents = 4001 }),
		Entry("receiver", func(_ *payout.Params, its []payout.Item) { its[1].Receiver = "c@example.com" }),
	)
})

var _ = Describe("RenderNote", func() {
	It("fills period and currency tokens", func() {
		p := payout.Params{
			PeriodStart: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			PeriodEnd:   time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
			Currency:    "usd",
		}
		Expect(payout.RenderNote("", p)).To(Equal("Partner payout for 2024-02-01 to 2024-02-29"))
		Expect(payout.RenderNote("{currency} earnings until {period_end}", p)).To(Equal("USD earnings until 2024-02-29"))
	})
})

var _ = Describe("MapGatewayStatus", func() {
	DescribeTable("maps every known gateway status",
		func(in gw.TransactionStatus, want payout.ItemStatus) {
			got, err := payout.MapGatewayStatus(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
		},
		Entry("SUCCESS", gw.TransactionStatusSuccess, payout.ItemStatusPaid),
		Entry("PENDING", gw.TransactionStatusPending, payout.ItemStatusSubmitted),
		Entry("PROCESSING", gw.TransactionStatusProcessing, payout.ItemStatusSubmitted),
		Entry("UNCLAIMED", gw.TransactionStatusUnclaimed, payout.ItemStatusSubmitted),
		Entry("ONHOLD", gw.TransactionStatusOnHold, payout.ItemStatusSubmitted),
		Entry("RETURNED", gw.TransactionStatusReturned, payout.ItemStatusReturned),
		Entry("REFUNDED", gw.TransactionStatusRefunded, payout.ItemStatusReturned),
		Entry("REVERSED", gw.TransactionStatusReversed, payout.ItemStatusReturned),
		Entry("FAILED", gw.TransactionStatusFailed, payout.ItemStatusFailed),
		Entry("BLOCKED", gw.TransactionStatusBlocked, payout.ItemStatusFailed),
		Entry("DENIED", gw.TransactionStatusDenied, payout.ItemStatusFailed),
	)

	It("refuses to guess an unknown status", func() {
		_, err := payout.MapGatewayStatus("NEW_STATUS")
		Expect(errors.Is(err, payout.ErrUnknownGatewayStatus)).To(BeTrue())
	})
})

var _ = Describe("AggregateStatus", func() {
	DescribeTable("derives the batch status from its items",
		func(items []payout.ItemStatus, want payout.BatchStatus) {
			Expect(payout.AggregateStatus(items)).To(Equal(want))
		},
		Entry("all paid", []payout.ItemStatus{payout.ItemStatusPaid, payout.ItemStatusPaid}, payout.BatchStatusCompleted),
		Entry("one failed", []payout.ItemStatus{payout.ItemStatusPaid, payout.ItemStatusFailed}, payout.BatchStatusFailed),
		Entry("one returned while others pend", []payout.ItemStatus{payout.ItemStatusSubmitted, payout.ItemStatusReturned}, payout.BatchStatusFailed),
		Entry("some pending", []payout.ItemStatus{payout.ItemStatusPaid, payout.ItemStatusSubmitted}, payout.BatchStatusProcessing),
		Entry("no items", []payout.ItemStatus{}, payout.BatchStatusProcessing),
	)

	It("knows when nothing can change any more", func() {
		Expect(payout.AllTerminal([]payout.ItemStatus{payout.ItemStatusPaid, payout.ItemStatusReturned})).To(BeTrue())
		Expect(payout.AllTerminal([]payout.ItemStatus{payout.ItemStatusPaid, payout.ItemStatusQueued})).To(BeFalse())
	})
})
