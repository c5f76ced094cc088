package finance

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/passculture/pass-culture-core/internal/model"
	"github.com/passculture/pass-culture-core/internal/repository"
	"github.com/passculture/pass-culture-core/internal/repository/repositorytest"
)

var now = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

const validSiret = "73282932000074"

func ptr[T any](v T) *T {
	return &v
}

func newTestEngine(store repository.Store) *Engine {
	e := NewEngine(store, zap.NewNop())
	e.now = func() time.Time { return now }
	return e
}

func businessUnit(id int64) *model.BusinessUnit {
	return &model.BusinessUnit{ID: id, Name: "bu", Siret: validSiret}
}

func usedBooking(id int64, bu *model.BusinessUnit, euros int64, used time.Time) model.Booking {
	venueID := int64(100)
	if bu != nil {
		venueID += bu.ID
	}
	return model.Booking{
		ID:           id,
		UserID:       1,
		OfferID:      1000 + id,
		VenueID:      venueID,
		OffererID:    500,
		Subcategory:  "SPECTACLE_REPRESENTATION",
		Amount:       decimal.NewFromInt(euros),
		Quantity:     1,
		Status:       model.BookingStatusUsed,
		DateCreated:  used.Add(-48 * time.Hour),
		DateUsed:     &used,
		BusinessUnit: bu,
	}
}

func priceByID(t *testing.T, e *Engine, id int64) *model.Pricing {
	t.Helper()
	p, err := e.PriceBookingByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func sumLines(p *model.Pricing) int64 {
	var sum int64
	for _, l := range p.Lines {
		sum += l.Amount
	}
	return sum
}

func TestPriceBooking_FirstPricingOfBusinessUnit(t *testing.T) {
	store := repository.NewMemory()
	id := repositorytest.AddBooking(t, store, usedBooking(1, businessUnit(1), 10, now.Add(-24*time.Hour)))
	e := newTestEngine(store)

	p := priceByID(t, e, id)
	require.NotNil(t, p)
	assert.Equal(t, int64(1000), p.Revenue)
	assert.Equal(t, int64(-1000), p.Amount)
	assert.Equal(t, model.PricingStatusValidated, p.Status)
	assert.Equal(t, now.Add(-24*time.Hour), p.ValueDate)
	assert.Equal(t, validSiret, p.Siret)
	assert.NotEmpty(t, p.StandardRule)
	assert.Nil(t, p.CustomRuleID)

	require.Len(t, p.Lines, 2)
	assert.Equal(t, model.PricingLineOffererRevenue, p.Lines[0].Category)
	assert.Equal(t, int64(-1000), p.Lines[0].Amount)
	assert.Equal(t, model.PricingLineOffererContribution, p.Lines[1].Category)
	assert.Equal(t, p.Amount, sumLines(p))
}

func TestPriceBooking_IsIdempotent(t *testing.T) {
	store := repository.NewMemory()
	id := repositorytest.AddBooking(t, store, usedBooking(1, businessUnit(1), 10, now.Add(-24*time.Hour)))
	e := newTestEngine(store)

	first := priceByID(t, e, id)
	second := priceByID(t, e, id)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repositorytest.Pricings(t, store, id), 1)
}

func TestPriceBooking_NothingToPrice(t *testing.T) {
	store := repository.NewMemory()
	noBusinessUnit := repositorytest.AddBooking(t, store, usedBooking(1, nil, 10, now.Add(-time.Hour)))
	invalidSiret := repositorytest.AddBooking(t, store, usedBooking(2, &model.BusinessUnit{ID: 2, Siret: "12345678901234"}, 10, now.Add(-time.Hour)))
	notUsed := usedBooking(3, businessUnit(3), 10, now.Add(-time.Hour))
	notUsed.Status = model.BookingStatusConfirmed
	notUsed.DateUsed = nil
	notUsedID := repositorytest.AddBooking(t, store, notUsed)

	e := newTestEngine(store)
	for _, id := range []int64{noBusinessUnit, invalidSiret, notUsedID} {
		assert.Nil(t, priceByID(t, e, id), "booking %d", id)
		assert.Empty(t, repositorytest.Pricings(t, store, id))
	}
}

func TestPriceBooking_RechecksUsageUnderLock(t *testing.T) {
	store := repository.NewMemory()
	b := usedBooking(1, businessUnit(1), 10, now.Add(-time.Hour))
	repositorytest.AddBooking(t, store, b)
	repositorytest.SetBookingStatus(t, store, b.ID, model.BookingStatusConfirmed, nil)

	e := newTestEngine(store)
	p, err := e.PriceBooking(context.Background(), b)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Empty(t, repositorytest.Pricings(t, store, b.ID))
}

func TestPriceBooking_OutOfOrderDeletesLaterPricings(t *testing.T) {
	store := repository.NewMemory()
	bu := businessUnit(1)
	early := repositorytest.AddBooking(t, store, usedBooking(1, bu, 10, now.Add(-48*time.Hour)))
	late := repositorytest.AddBooking(t, store, usedBooking(2, bu, 10, now.Add(-24*time.Hour)))
	e := newTestEngine(store)

	latePricing := priceByID(t, e, late)
	assert.Equal(t, int64(1000), latePricing.Revenue)

	earlyPricing := priceByID(t, e, early)
	assert.Equal(t, int64(1000), earlyPricing.Revenue)
	assert.Empty(t, repositorytest.Pricings(t, store, late), "later pricing must be deleted")

	latePricing = priceByID(t, e, late)
	assert.Equal(t, int64(2000), latePricing.Revenue)
	assert.LessOrEqual(t, earlyPricing.Revenue, latePricing.Revenue)
}

func TestPriceBooking_SameDateOrdersByBookingID(t *testing.T) {
	store := repository.NewMemory()
	bu := businessUnit(1)
	used := now.Add(-24 * time.Hour)
	first := repositorytest.AddBooking(t, store, usedBooking(1, bu, 10, used))
	second := repositorytest.AddBooking(t, store, usedBooking(2, bu, 10, used))
	e := newTestEngine(store)

	priceByID(t, e, first)
	p := priceByID(t, e, second)
	assert.Equal(t, int64(2000), p.Revenue)
	assert.Len(t, repositorytest.Pricings(t, store, first), 1, "earlier booking id is not a dependent")
}

func TestPriceBooking_NonDeletableDependentFails(t *testing.T) {
	store := repository.NewMemory()
	bu := businessUnit(1)
	early := repositorytest.AddBooking(t, store, usedBooking(1, bu, 10, now.Add(-48*time.Hour)))
	billed := repositorytest.AddBooking(t, store, usedBooking(2, bu, 10, now.Add(-24*time.Hour)))
	repositorytest.AddPricing(t, store, model.Pricing{
		BookingID: billed, BusinessUnitID: bu.ID, Status: model.PricingStatusBilled,
		Amount: -1000, Revenue: 1000, ValueDate: now.Add(-24 * time.Hour), StandardRule: "rule",
	})
	e := newTestEngine(store)

	_, err := e.PriceBookingByID(context.Background(), early)
	require.ErrorIs(t, err, ErrNonCancellablePricing)
	assert.Empty(t, repositorytest.Pricings(t, store, early))
	assert.Len(t, repositorytest.Pricings(t, store, billed), 1)
}

func TestPriceBooking_RevenueInEurosSelectsDegressiveRate(t *testing.T) {
	store := repository.NewMemory()
	bu := businessUnit(1)
	previous := repositorytest.AddBooking(t, store, usedBooking(1, bu, 20_000, now.Add(-72*time.Hour)))
	repositorytest.AddPricing(t, store, model.Pricing{
		BookingID: previous, BusinessUnitID: bu.ID, Status: model.PricingStatusValidated,
		Amount: -2_000_000, Revenue: 2_000_000, ValueDate: now.Add(-72 * time.Hour), StandardRule: "rule",
	})
	id := repositorytest.AddBooking(t, store, usedBooking(2, bu, 100, now.Add(-24*time.Hour)))
	e := newTestEngine(store)

	p := priceByID(t, e, id)
	assert.Equal(t, int64(2_010_000), p.Revenue)
	assert.Equal(t, int64(-9500), p.Amount)
	assert.Equal(t, int64(-10_000), p.Lines[0].Amount)
	assert.Equal(t, int64(500), p.Lines[1].Amount)
	assert.Equal(t, p.Amount, sumLines(p))
}

func TestPriceBooking_CustomRule(t *testing.T) {
	store := repository.NewMemory()
	b := usedBooking(1, businessUnit(1), 10, now.Add(-24*time.Hour))
	b.Quantity = 2
	id := repositorytest.AddBooking(t, store, b)
	ruleID := repositorytest.AddCustomRule(t, store, model.CustomReimbursementRule{
		VenueID:       &b.VenueID,
		Amount:        ptr(int64(300)),
		TimespanStart: now.AddDate(-1, 0, 0),
	})
	e := newTestEngine(store)

	p := priceByID(t, e, id)
	require.NotNil(t, p.CustomRuleID)
	assert.Equal(t, ruleID, *p.CustomRuleID)
	assert.Empty(t, p.StandardRule)
	assert.Equal(t, int64(-600), p.Amount)
	assert.Equal(t, int64(2000), p.Revenue)
	assert.Equal(t, int64(-2000), p.Lines[0].Amount)
	assert.Equal(t, int64(1400), p.Lines[1].Amount)
}

func TestPriceBookings_SkipsFailedBusinessUnit(t *testing.T) {
	store := repository.NewMemory()
	bu1, bu2 := businessUnit(1), businessUnit(2)

	blocked := repositorytest.AddBooking(t, store, usedBooking(1, bu1, 10, now.Add(-2*time.Hour)))
	repositorytest.AddPricing(t, store, model.Pricing{
		BookingID: blocked, BusinessUnitID: bu1.ID, Status: model.PricingStatusInvoiced,
		Amount: -1000, Revenue: 1000, ValueDate: now.Add(-2 * time.Hour), StandardRule: "rule",
	})
	first := repositorytest.AddBooking(t, store, usedBooking(2, bu1, 10, now.Add(-10*time.Hour)))
	second := repositorytest.AddBooking(t, store, usedBooking(3, bu1, 10, now.Add(-9*time.Hour)))
	other := repositorytest.AddBooking(t, store, usedBooking(4, bu2, 10, now.Add(-8*time.Hour)))
	tooRecent := repositorytest.AddBooking(t, store, usedBooking(5, bu2, 10, now.Add(-30*time.Second)))
	tooOld := repositorytest.AddBooking(t, store, usedBooking(6, bu2, 10, now.Add(-100*time.Hour)))

	e := newTestEngine(store)
	res, err := e.PriceBookings(context.Background(), 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Priced)
	assert.Equal(t, []int64{bu1.ID}, res.FailedBusinessUnits)

	assert.Empty(t, repositorytest.Pricings(t, store, first))
	assert.Empty(t, repositorytest.Pricings(t, store, second))
	assert.Len(t, repositorytest.Pricings(t, store, other), 1)
	assert.Empty(t, repositorytest.Pricings(t, store, tooRecent))
	assert.Empty(t, repositorytest.Pricings(t, store, tooOld))
}

func TestPriceBookings_PricesInUsageOrder(t *testing.T) {
	store := repository.NewMemory()
	bu := businessUnit(1)
	ids := []int64{
		repositorytest.AddBooking(t, store, usedBooking(3, bu, 10, now.Add(-3*time.Hour))),
		repositorytest.AddBooking(t, store, usedBooking(1, bu, 20, now.Add(-5*time.Hour))),
		repositorytest.AddBooking(t, store, usedBooking(2, bu, 30, now.Add(-4*time.Hour))),
	}
	e := newTestEngine(store)

	res, err := e.PriceBookings(context.Background(), 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Priced)

	revenue := func(id int64) int64 {
		p := repositorytest.Pricings(t, store, id)
		require.Len(t, p, 1)
		return p[0].Revenue
	}
	assert.Equal(t, int64(2000), revenue(ids[1]))
	assert.Equal(t, int64(5000), revenue(ids[2]))
	assert.Equal(t, int64(6000), revenue(ids[0]))
}
