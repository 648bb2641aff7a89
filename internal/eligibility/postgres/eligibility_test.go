package postgres

import (
	"context"
	"testing"

	"github.com/frahmantamala/partner-payout/internal/core/datamodel/partner"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestEligibilityRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "EligibilityRepository Suite")
}

type partnerFixture struct {
	id        string
	active    bool
	w9        string
	verified  bool
	hold      bool
	email     string
	available int64
	currency  string
}

func compliant(id string, available int64) partnerFixture {
	return partnerFixture{
		id: id, active: true, w9: partner.W9StatusApproved, verified: true,
		email: id + "@example.com", available: available, currency: "USD",
	}
}

var _ = Describe("EligibilityRepository", func() {
	var (
		db  *gorm.DB
		ctx context.Context
	)

	insert := func(f partnerFixture) {
		Expect(db.Create(&partner.Partner{ID: f.id, DisplayName: f.id, IsActive: f.active}).Error).To(Succeed())
		Expect(db.Create(&partner.PayoutAccount{
			PartnerID: f.id, PaypalEmail: f.email, PaypalEmailVerified: f.verified, W9Status: f.w9, PayoutHold: f.hold,
		}).Error).To(Succeed())
		Expect(db.Create(&partner.Balance{PartnerID: f.id, AvailableCents: f.available, Currency: f.currency}).Error).To(Succeed())
	}

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		Expect(err).NotTo(HaveOccurred())
		Expect(db.AutoMigrate(&partner.Partner{}, &partner.PayoutAccount{}, &partner.Balance{})).To(Succeed())
		ctx = context.Background()
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		Expect(sqlDB.Close()).To(Succeed())
	})

	It("returns only compliant partners at or above the minimum", func() {
		insert(compliant("p-ok", 5000))
		insert(compliant("p-exact", 2500))

		held := compliant("p-held", 9000)
		held.hold = true
		insert(held)

		w9 := compliant("p-w9", 9000)
		w9.w9 = partner.W9StatusPending
		insert(w9)

		unverified := compliant("p-unverified", 9000)
		unverified.verified = false
		insert(unverified)

		inactive := compliant("p-inactive", 9000)
		inactive.active = false
		insert(inactive)

		insert(compliant("p-low", 2499))

		eur := compliant("p-eur", 9000)
		eur.currency = "EUR"
		insert(eur)

		repo := NewEligibilityRepository(db)
		candidates, err := repo.FindEligible(ctx, "USD", 2500)
		Expect(err).NotTo(HaveOccurred())

		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.PartnerID
		}
		Expect(ids).To(Equal([]string{"p-exact", "p-ok"}))
		Expect(candidates[1].Receiver).To(Equal("p-ok@example.com"))
		Expect(candidates[1].AmountCents).To(Equal(int64(5000)))
		Expect(candidates[1].Currency).To(Equal("USD"))
	})

	It("never returns a zero balance even with a zero minimum", func() {
		insert(compliant("p-zero", 0))
		candidates, err := NewEligibilityRepository(db).FindEligible(ctx, "USD", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(candidates).To(BeEmpty())
	})
})
