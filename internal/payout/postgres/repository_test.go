package postgres

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	ledgerrow "github.com/frahmantamala/partner-payout/internal/core/datamodel/ledger"
	"github.com/frahmantamala/partner-payout/internal/core/datamodel/partner"
	payoutrow "github.com/frahmantamala/partner-payout/internal/core/datamodel/payout"
	"github.com/frahmantamala/partner-payout/internal/ledger"
	ledgerstore "github.com/frahmantamala/partner-payout/internal/ledger/postgres"
	"github.com/frahmantamala/partner-payout/internal/payout"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestPayoutRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "PayoutRepository Suite")
}

var _ = Describe("BatchRepository", func() {
	var (
		db    *gorm.DB
		store *ledgerstore.Store
		repo  *BatchRepository
		ctx   context.Context
	)

	params := payout.Params{
		PeriodStart:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:          time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		Currency:           "USD",
		PayoutMinimumCents: 1000,
		NoteTemplate:       payout.DefaultNoteTemplate,
	}

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)

		Expect(db.AutoMigrate(&partner.Balance{}, &ledgerrow.Transaction{}, &payoutrow.Batch{}, &payoutrow.Item{})).To(Succeed())

		store = ledgerstore.NewStore(db)
		repo = NewBatchRepository(db, store, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
		ctx = context.Background()

		for _, p := range []struct {
			id    string
			cents int64
		}{{"p1", 10000}, {"p2", 5000}} {
			_, err := store.Accrue(ctx, ledger.AccrualInput{PartnerID: p.id, AmountCents: p.cents, Currency: "USD", SourceEventID: "seed-" + p.id})
			Expect(err).NotTo(HaveOccurred())
		}
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		Expect(sqlDB.Close()).To(Succeed())
	})

	expectBalance := func(partnerID string, available, pending int64) {
		bal, err := store.Balance(ctx, partnerID)
		Expect(err).NotTo(HaveOccurred())
		Expect(bal.AvailableCents).To(Equal(available), "available for "+partnerID)
		Expect(bal.PendingCents).To(Equal(pending), "pending for "+partnerID)
	}

	countEntries := func(typ ledger.TxType) int64 {
		var n int64
		Expect(db.Model(&ledgerrow.Transaction{}).Where("type = ?", string(typ)).Count(&n).Error).To(Succeed())
		return n
	}

	request := func(key string, items ...payout.Item) payout.ReservationRequest {
		return payout.ReservationRequest{
			IdempotencyKey: key,
			Params:         params,
			Items:          items,
			AdminID:        "admin-1",
			Snapshot:       []byte(`{"ok":true}`),
		}
	}

	p1 := payout.Item{PartnerID: "p1", Receiver: "p1@example.com", AmountCents: 4000, Currency: "USD"}
	p2 := payout.Item{PartnerID: "p2", Receiver: "p2@example.com", AmountCents: 5000, Currency: "USD"}

	Describe("Reserve", func() {
		It("moves each amount from available to pending and writes one debit per item", func() {
			res, err := repo.Reserve(ctx, request("key-1", p2, p1))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Replayed).To(BeFalse())
			Expect(res.Batch.Status).To(Equal(payout.BatchStatusSubmitted))
			Expect(res.Batch.SubmittedAt).NotTo(BeNil())
			Expect(res.Items).To(HaveLen(2))
			Expect(res.Items[0].PartnerID).To(Equal("p1"))
			Expect(res.Items[0].Status).To(Equal(payout.ItemStatusQueued))

			expectBalance("p1", 6000, 4000)
			expectBalance("p2", 0, 5000)
			Expect(countEntries(ledger.TxTypePayoutDebit)).To(Equal(int64(2)))

			var entry ledgerrow.Transaction
			Expect(db.Where("type = ? AND partner_id = ?", string(ledger.TxTypePayoutDebit), "p1").Take(&entry).Error).To(Succeed())
			Expect(entry.AmountCents).To(Equal(int64(-4000)))
			Expect(entry.ReferenceType).To(Equal(ledger.ReferenceTypePayoutBatch))
			Expect(entry.ReferenceID).To(Equal(res.Batch.ID))
			Expect(entry.Memo).To(ContainSubstring(res.Items[0].ID))
		})

		It("returns the stored batch for a repeated key and reserves only once", func() {
			first, err := repo.Reserve(ctx, request("key-1", p1))
			Expect(err).NotTo(HaveOccurred())

			second, err := repo.Reserve(ctx, request("key-1", p1))
			Expect(err).NotTo(HaveOccurred())
			Expect(second.Replayed).To(BeTrue())
			Expect(second.Batch.ID).To(Equal(first.Batch.ID))

			expectBalance("p1", 6000, 4000)
			Expect(countEntries(ledger.TxTypePayoutDebit)).To(Equal(int64(1)))
		})

		It("rolls everything back when one partner cannot cover its amount", func() {
			short := payout.Item{PartnerID: "p2", Receiver: "p2@example.com", AmountCents: 5001, Currency: "USD"}
			_, err := repo.Reserve(ctx, request("key-1", p1, short))
			Expect(errors.Is(err, ledger.ErrInsufficientFunds)).To(BeTrue())

			var insufficient *ledger.InsufficientFundsError
			Expect(errors.As(err, &insufficient)).To(BeTrue())
			Expect(insufficient.PartnerID).To(Equal("p2"))

			expectBalance("p1", 10000, 0)
			expectBalance("p2", 5000, 0)

			var batches, items int64
			Expect(db.Model(&payoutrow.Batch{}).Count(&batches).Error).To(Succeed())
			Expect(db.Model(&payoutrow.Item{}).Count(&items).Error).To(Succeed())
			Expect(batches).To(BeZero())
			Expect(items).To(BeZero())
			Expect(countEntries(ledger.TxTypePayoutDebit)).To(BeZero())
		})

		It("reserves once when the same key is submitted concurrently", func() {
			var wg sync.WaitGroup
			results := make([]*payout.Reservation, 4)
			errs := make([]error, 4)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					results[i], errs[i] = repo.Reserve(ctx, request("key-race", p1))
				}(i)
			}
			wg.Wait()

			fresh := 0
			for i := range results {
				Expect(errs[i]).NotTo(HaveOccurred())
				Expect(results[i].Batch.ID).To(Equal(results[0].Batch.ID))
				if !results[i].Replayed {
					fresh++
				}
			}
			Expect(fresh).To(Equal(1))
			expectBalance("p1", 6000, 4000)
			Expect(countEntries(ledger.TxTypePayoutDebit)).To(Equal(int64(1)))
		})
		It("replays the batch that another submit inserted between lookup and insert", func() {
			fired := false
			Expect(db.Callback().Create().Before("gorm:create").Register("test:insert_first", func(tx *gorm.DB) {
				batch, ok := tx.Statement.Dest.(*payoutrow.Batch)
				if fired || !ok || batch.IdempotencyKey != "key-race" {
					return
				}
				fired = true
				winner := *batch
				winner.ID = "winner"
				Expect(tx.Session(&gorm.Session{NewDB: true}).Create(&winner).Error).To(Succeed())
			})).To(Succeed())

			res, err := repo.Reserve(ctx, request("key-race", p1))
			Expect(err).NotTo(HaveOccurred())
			Expect(fired).To(BeTrue())
			Expect(res.Replayed).To(BeTrue())
			Expect(res.Batch.ID).To(Equal("winner"))

			expectBalance("p1", 10000, 0)
			Expect(countEntries(ledger.TxTypePayoutDebit)).To(BeZero())

			var batches int64
			Expect(db.Model(&payoutrow.Batch{}).Count(&batches).Error).To(Succeed())
			Expect(batches).To(Equal(int64(1)))
		})
	})

	Describe("FindBatchByKey", func() {
		It("reports an unknown key", func() {
			_, err := repo.FindBatchByKey(ctx, "missing")
			Expect(errors.Is(err, payout.ErrBatchNotFound)).To(BeTrue())
		})

		It("returns the reservation for a known key", func() {
			res, err := repo.Reserve(ctx, request("key-1", p1))
			Expect(err).NotTo(HaveOccurred())

			found, err := repo.FindBatchByKey(ctx, "key-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(found.Batch.ID).To(Equal(res.Batch.ID))
			Expect(found.Replayed).To(BeTrue())
		})
	})

	Describe("RecordAcceptance", func() {
		It("stores the gateway ids and marks the batch processing", func() {
			res, err := repo.Reserve(ctx, request("key-1", p1))
			Expect(err).NotTo(HaveOccurred())

			Expect(repo.RecordAcceptance(ctx, res.Batch.ID, "PP-1", []payout.ItemAcceptance{
				{SenderItemID: res.Items[0].ID, PayoutItemID: "PPI-1", TransactionID: "TX-1"},
			})).To(Succeed())

			detail, err := repo.GetBatch(ctx, res.Batch.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(detail.Batch.Status).To(Equal(payout.BatchStatusProcessing))
			Expect(detail.Batch.PaypalBatchID).To(Equal("PP-1"))
			Expect(detail.Items[0].Status).To(Equal(payout.ItemStatusSubmitted))
			Expect(detail.Items[0].PaypalPayoutItemID).To(Equal("PPI-1"))
			Expect(detail.Items[0].PaypalItemID).To(Equal("TX-1"))

			err = repo.RecordAcceptance(ctx, res.Batch.ID, "PP-2", nil)
			Expect(errors.Is(err, payout.ErrBatchStateChanged)).To(BeTrue())
		})
	})

	Describe("ApplyReconciliation", func() {
		var res *payout.Reservation

		BeforeEach(func() {
			var err error
			res, err = repo.Reserve(ctx, request("key-1", p1, p2))
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.RecordAcceptance(ctx, res.Batch.ID, "PP-1", nil)).To(Succeed())
		})

		It("settles paid items and reverses failed ones", func() {
			out, err := repo.ApplyReconciliation(ctx, res.Batch.ID, []payout.ItemOutcome{
				{SenderItemID: res.Items[0].ID, Status: payout.ItemStatusPaid, TransactionID: "TX-1"},
				{SenderItemID: res.Items[1].ID, Status: payout.ItemStatusFailed, FailureReason: "RECEIVER_UNREGISTERED"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Applied).To(Equal(2))
			Expect(out.Status).To(Equal(payout.BatchStatusFailed))
			Expect(out.Completed).To(BeTrue())

			expectBalance("p1", 6000, 0)
			expectBalance("p2", 5000, 0)

			detail, err := repo.GetBatch(ctx, res.Batch.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(detail.Batch.CompletedAt).NotTo(BeNil())
			Expect(detail.Items[0].PaidAt).NotTo(BeNil())
			Expect(detail.Items[1].FailureReason).To(Equal("RECEIVER_UNREGISTERED"))
		})

		It("does not settle twice when the same outcome is applied again", func() {
			outcomes := []payout.ItemOutcome{
				{SenderItemID: res.Items[0].ID, Status: payout.ItemStatusPaid},
				{SenderItemID: res.Items[1].ID, Status: payout.ItemStatusPaid},
			}
			_, err := repo.ApplyReconciliation(ctx, res.Batch.ID, outcomes)
			Expect(err).NotTo(HaveOccurred())

			again, err := repo.ApplyReconciliation(ctx, res.Batch.ID, outcomes)
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Applied).To(BeZero())
			Expect(again.Unchanged).To(Equal(2))
			Expect(again.Status).To(Equal(payout.BatchStatusCompleted))

			expectBalance("p1", 6000, 0)
			Expect(countEntries(ledger.TxTypePayoutReversal)).To(Equal(int64(2)))

			var settled ledgerrow.Transaction
			Expect(db.Where("type = ? AND partner_id = ?", string(ledger.TxTypePayoutReversal), "p1").Take(&settled).Error).To(Succeed())
			Expect(settled.AmountCents).To(Equal(int64(-4000)))
			Expect(settled.ReferenceType).To(Equal(ledger.ReferenceTypePayoutBatch))
			Expect(settled.ReferenceID).To(Equal(res.Batch.ID))
		})

		It("reports a conflicting terminal status without touching the item", func() {
			_, err := repo.ApplyReconciliation(ctx, res.Batch.ID, []payout.ItemOutcome{
				{SenderItemID: res.Items[0].ID, Status: payout.ItemStatusPaid},
			})
			Expect(err).NotTo(HaveOccurred())

			out, err := repo.ApplyReconciliation(ctx, res.Batch.ID, []payout.ItemOutcome{
				{SenderItemID: res.Items[0].ID, Status: payout.ItemStatusReturned},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Conflicts).To(ConsistOf(payout.Conflict{
				ItemID: res.Items[0].ID, Recorded: payout.ItemStatusPaid, Reported: payout.ItemStatusReturned,
			}))
			expectBalance("p1", 6000, 0)

			var refunds int64
			Expect(db.Model(&ledgerrow.Transaction{}).
				Where("type = ? AND amount_cents > 0", string(ledger.TxTypePayoutReversal)).
				Count(&refunds).Error).To(Succeed())
			Expect(refunds).To(BeZero())
		})

		It("keeps the batch processing while items are pending at the gateway", func() {
			out, err := repo.ApplyReconciliation(ctx, res.Batch.ID, []payout.ItemOutcome{
				{SenderItemID: res.Items[0].ID, Status: payout.ItemStatusPaid},
				{SenderItemID: res.Items[1].ID, Status: payout.ItemStatusSubmitted, PayoutItemID: "PPI-2"},
				{SenderItemID: "not-in-batch", Status: payout.ItemStatusPaid},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Status).To(Equal(payout.BatchStatusProcessing))
			Expect(out.Completed).To(BeFalse())

			ids, err := repo.ListReconcilable(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids).To(ConsistOf(res.Batch.ID))
		})
	})

	Describe("MarkSubmissionFailed and ReleaseBatch", func() {
		It("keeps funds pending until an admin releases the batch", func() {
			res, err := repo.Reserve(ctx, request("key-1", p1))
			Expect(err).NotTo(HaveOccurred())

			Expect(repo.MarkSubmissionFailed(ctx, res.Batch.ID, "gateway unreachable")).To(Succeed())
			expectBalance("p1", 6000, 4000)

			released, err := repo.ReleaseBatch(ctx, res.Batch.ID, "gateway confirmed no batch")
			Expect(err).NotTo(HaveOccurred())
			Expect(released.ReleasedItems).To(Equal(1))
			Expect(released.ReleasedCents).To(Equal(int64(4000)))
			expectBalance("p1", 10000, 0)

			detail, err := repo.GetBatch(ctx, res.Batch.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(detail.Items[0].Status).To(Equal(payout.ItemStatusFailed))
			Expect(detail.Items[0].FailureReason).To(Equal("released: gateway confirmed no batch"))

			again, err := repo.ReleaseBatch(ctx, res.Batch.ID, "twice")
			Expect(err).NotTo(HaveOccurred())
			Expect(again.ReleasedItems).To(BeZero())
			expectBalance("p1", 10000, 0)
		})

		It("refuses to release a batch the gateway accepted", func() {
			res, err := repo.Reserve(ctx, request("key-1", p1))
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.RecordAcceptance(ctx, res.Batch.ID, "PP-1", nil)).To(Succeed())

			_, err = repo.ReleaseBatch(ctx, res.Batch.ID, "oops")
			Expect(errors.Is(err, payout.ErrBatchNotReleasable)).To(BeTrue())
			expectBalance("p1", 6000, 4000)
		})

		It("lists submitted batches that never got a gateway id", func() {
			res, err := repo.Reserve(ctx, request("key-1", p1))
			Expect(err).NotTo(HaveOccurred())

			stale, err := repo.ListStaleSubmitted(ctx, time.Now().Add(time.Minute))
			Expect(err).NotTo(HaveOccurred())
			Expect(stale).To(HaveLen(1))
			Expect(stale[0].ID).To(Equal(res.Batch.ID))

			stale, err = repo.ListStaleSubmitted(ctx, time.Now().Add(-time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(stale).To(BeEmpty())
		})
	})

	Describe("GetBatch", func() {
		It("reports an unknown batch", func() {
			_, err := repo.GetBatch(ctx, "nope")
			Expect(errors.Is(err, payout.ErrBatchNotFound)).To(BeTrue())
		})
	})
})
