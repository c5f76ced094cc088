package repository

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/passculture/pass-culture-core/internal/model"
)

var (
	_ Store = (*Postgres)(nil)
	_ Tx    = (*pgTx)(nil)
	_ Store = (*Memory)(nil)
	_ Tx    = (*memTx)(nil)
)

// Memory - хранилище в памяти с теми же транзакционными гарантиями, что и PostgreSQL:
// транзакции сериализуются, а ошибка fn откатывает все её изменения.
// Используется в тестах и при запуске без DATABASE_URI.
type Memory struct {
	mu    sync.Mutex
	state *memState
}

type venue struct {
	offererID      int64
	businessUnitID *int64
}

type offer struct {
	venueID     int64
	subcategory string
	isDigital   bool
}

type memState struct {
	seq int64

	users     map[int64]model.User
	deposits  map[int64]model.Deposit
	recredits map[int64]model.Recredit

	businessUnits map[int64]model.BusinessUnit
	venues        map[int64]venue
	offers        map[int64]offer
	bookings      map[int64]model.Booking
	pricings      map[int64]model.Pricing
	pricingLogs   map[int64]model.PricingLog
	customRules   map[int64]model.CustomReimbursementRule

	collectiveOffers    map[int64]model.CollectiveOffer
	templates           map[int64]model.CollectiveOfferTemplate
	collectiveStocks    map[int64]model.CollectiveStock
	collectiveBookings  map[int64]model.CollectiveBooking
	educationalDeposits map[int64]model.EducationalDeposit
}

// NewMemory создаёт пустое хранилище в памяти.
func NewMemory() *Memory {
	return &Memory{state: &memState{
		users:               make(map[int64]model.User),
		deposits:            make(map[int64]model.Deposit),
		recredits:           make(map[int64]model.Recredit),
		businessUnits:       make(map[int64]model.BusinessUnit),
		venues:              make(map[int64]venue),
		offers:              make(map[int64]offer),
		bookings:            make(map[int64]model.Booking),
		pricings:            make(map[int64]model.Pricing),
		pricingLogs:         make(map[int64]model.PricingLog),
		customRules:         make(map[int64]model.CustomReimbursementRule),
		collectiveOffers:    make(map[int64]model.CollectiveOffer),
		templates:           make(map[int64]model.CollectiveOfferTemplate),
		collectiveStocks:    make(map[int64]model.CollectiveStock),
		collectiveBookings:  make(map[int64]model.CollectiveBooking),
		educationalDeposits: make(map[int64]model.EducationalDeposit),
	}}
}

func (s *memState) clone() *memState {
	return &memState{
		seq:                 s.seq,
		users:               maps.Clone(s.users),
		deposits:            maps.Clone(s.deposits),
		recredits:           maps.Clone(s.recredits),
		businessUnits:       maps.Clone(s.businessUnits),
		venues:              maps.Clone(s.venues),
		offers:              maps.Clone(s.offers),
		bookings:            maps.Clone(s.bookings),
		pricings:            maps.Clone(s.pricings),
		pricingLogs:         maps.Clone(s.pricingLogs),
		customRules:         maps.Clone(s.customRules),
		collectiveOffers:    maps.Clone(s.collectiveOffers),
		templates:           maps.Clone(s.templates),
		collectiveStocks:    maps.Clone(s.collectiveStocks),
		collectiveBookings:  maps.Clone(s.collectiveBookings),
		educationalDeposits: maps.Clone(s.educationalDeposits),
	}
}

func (s *memState) nextID() int64 {
	s.seq++
	return s.seq
}

// InTx выполняет fn под глобальной блокировкой хранилища.
func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m}
	return tx.Savepoint(ctx, fn)
}

// Close ничего не делает.
func (m *Memory) Close() error {
	return nil
}

type memTx struct {
	m *Memory
}

// Savepoint откатывает изменения fn при ошибке.
func (t *memTx) Savepoint(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	snapshot := t.m.state.clone()
	if err := fn(ctx, t); err != nil {
		t.m.state = snapshot
		return err
	}
	return nil
}

func (t *memTx) st() *memState {
	return t.m.state
}

// Блокировки в памяти не нужны: транзакции уже сериализованы.

func (t *memTx) LockUsers(context.Context, []int64) error { return nil }

func (t *memTx) LockBusinessUnit(_ context.Context, id int64) error {
	if _, ok := t.st().businessUnits[id]; !ok {
		return fmt.Errorf("business unit %d: %w", id, ErrNotFound)
	}
	return nil
}

func (t *memTx) GetUser(_ context.Context, id int64) (*model.User, error) {
	s := t.st()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	u.Roles = slices.Clone(u.Roles)
	u.Deposits = nil

	for _, d := range s.deposits {
		if d.UserID != id {
			continue
		}
		d.Recredits = nil
		for _, r := range s.recredits {
			if r.DepositID == d.ID {
				d.Recredits = append(d.Recredits, r)
			}
		}
		slices.SortFunc(d.Recredits, func(a, b model.Recredit) int {
			return cmp.Or(a.DateCreated.Compare(b.DateCreated), cmp.Compare(a.ID, b.ID))
		})
		u.Deposits = append(u.Deposits, d)
	}
	slices.SortFunc(u.Deposits, func(a, b model.Deposit) int {
		return cmp.Or(a.DateCreated.Compare(b.DateCreated), cmp.Compare(a.ID, b.ID))
	})
	return &u, nil
}

func (t *memTx) ListRecreditCandidates(_ context.Context, roles []model.UserRole, bornAfter, bornBefore time.Time) ([]int64, error) {
	var ids []int64
	for _, u := range t.st().users {
		if !u.BirthDate.After(bornAfter) || u.BirthDate.After(bornBefore) {
			continue
		}
		if slices.ContainsFunc(roles, u.HasRole) {
			ids = append(ids, u.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (t *memTx) CreateDeposit(_ context.Context, d *model.Deposit) error {
	s := t.st()
	d.ID = s.nextID()
	stored := *d
	stored.Recredits = nil
	s.deposits[d.ID] = stored
	return nil
}

func (t *memTx) UpdateDeposit(_ context.Context, d *model.Deposit) error {
	s := t.st()
	stored, ok := s.deposits[d.ID]
	if !ok {
		return fmt.Errorf("deposit %d: %w", d.ID, ErrNotFound)
	}
	stored.Amount = d.Amount
	stored.ExpirationDate = d.ExpirationDate
	s.deposits[d.ID] = stored
	return nil
}

func (t *memTx) CreateRecredit(_ context.Context, r *model.Recredit) error {
	s := t.st()
	if _, ok := s.deposits[r.DepositID]; !ok {
		return fmt.Errorf("deposit %d: %w", r.DepositID, ErrNotFound)
	}
	r.ID = s.nextID()
	s.recredits[r.ID] = *r
	return nil
}

func (t *memTx) booking(b model.Booking) model.Booking {
	s := t.st()
	b.BusinessUnit = nil
	o := s.offers[b.OfferID]
	b.Subcategory = o.subcategory
	b.IsDigital = o.isDigital
	if v, ok := s.venues[b.VenueID]; ok && v.businessUnitID != nil {
		if bu, ok := s.businessUnits[*v.businessUnitID]; ok {
			b.BusinessUnit = &bu
		}
	}
	return b
}

func (t *memTx) ListBookingsByDeposit(_ context.Context, depositID int64) ([]model.Booking, error) {
	var res []model.Booking
	for _, b := range t.st().bookings {
		if b.DepositID != nil && *b.DepositID == depositID {
			res = append(res, t.booking(b))
		}
	}
	slices.SortFunc(res, func(a, b model.Booking) int { return cmp.Compare(a.ID, b.ID) })
	return res, nil
}

func (t *memTx) MoveBookingsToDeposit(_ context.Context, bookingIDs []int64, depositID int64) error {
	s := t.st()
	for _, id := range bookingIDs {
		b, ok := s.bookings[id]
		if !ok {
			return fmt.Errorf("booking %d: %w", id, ErrNotFound)
		}
		d := depositID
		b.DepositID = &d
		s.bookings[id] = b
	}
	return nil
}

func (t *memTx) GetBooking(_ context.Context, id int64) (*model.Booking, error) {
	b, ok := t.st().bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %d: %w", id, ErrNotFound)
	}
	b = t.booking(b)
	return &b, nil
}

func (t *memTx) hasNonCancelledPricing(bookingID int64) bool {
	for _, p := range t.st().pricings {
		if p.BookingID == bookingID && p.Status != model.PricingStatusCancelled {
			return true
		}
	}
	return false
}

func (t *memTx) ListBookingsToPrice(_ context.Context, usedFrom, usedTo time.Time) ([]model.Booking, error) {
	var res []model.Booking
	for _, b := range t.st().bookings {
		if b.Status != model.BookingStatusUsed || b.DateUsed == nil {
			continue
		}
		if b.DateUsed.Before(usedFrom) || b.DateUsed.After(usedTo) {
			continue
		}
		b = t.booking(b)
		if b.BusinessUnit == nil || t.hasNonCancelledPricing(b.ID) {
			continue
		}
		res = append(res, b)
	}
	slices.SortFunc(res, func(a, b model.Booking) int {
		return cmp.Or(a.DateUsed.Compare(*b.DateUsed), cmp.Compare(a.ID, b.ID))
	})
	return res, nil
}

func copyPricing(p model.Pricing) *model.Pricing {
	p.Lines = slices.Clone(p.Lines)
	return &p
}

func (t *memTx) GetNonCancelledPricing(_ context.Context, bookingID int64) (*model.Pricing, error) {
	for _, p := range t.st().pricings {
		if p.BookingID == bookingID && p.Status != model.PricingStatusCancelled {
			return copyPricing(p), nil
		}
	}
	return nil, ErrNotFound
}

func comparePricingKey(a model.Pricing, valueDate time.Time, bookingID int64) int {
	return cmp.Or(a.ValueDate.Compare(valueDate), cmp.Compare(a.BookingID, bookingID))
}

func (t *memTx) GetLatestPricing(_ context.Context, businessUnitID int64) (*model.Pricing, error) {
	var latest *model.Pricing
	for _, p := range t.st().pricings {
		if p.BusinessUnitID != businessUnitID || p.Status == model.PricingStatusCancelled {
			continue
		}
		if latest == nil || comparePricingKey(p, latest.ValueDate, latest.BookingID) > 0 {
			latest = copyPricing(p)
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (t *memTx) ListPricingsAfter(_ context.Context, businessUnitID int64, valueDate time.Time, bookingID int64) ([]model.Pricing, error) {
	var res []model.Pricing
	for _, p := range t.st().pricings {
		if p.BusinessUnitID == businessUnitID && comparePricingKey(p, valueDate, bookingID) > 0 {
			res = append(res, *copyPricing(p))
		}
	}
	slices.SortFunc(res, func(a, b model.Pricing) int { return comparePricingKey(a, b.ValueDate, b.BookingID) })
	return res, nil
}

func (t *memTx) ListPricings(_ context.Context, bookingID int64) ([]model.Pricing, error) {
	var res []model.Pricing
	for _, p := range t.st().pricings {
		if p.BookingID == bookingID {
			res = append(res, *copyPricing(p))
		}
	}
	slices.SortFunc(res, func(a, b model.Pricing) int { return cmp.Compare(a.ID, b.ID) })
	return res, nil
}

func (t *memTx) ListPricingLogs(_ context.Context, bookingID int64) ([]model.PricingLog, error) {
	s := t.st()
	var res []model.PricingLog
	for _, l := range s.pricingLogs {
		if p, ok := s.pricings[l.PricingID]; ok && p.BookingID == bookingID {
			res = append(res, l)
		}
	}
	slices.SortFunc(res, func(a, b model.PricingLog) int { return cmp.Compare(a.ID, b.ID) })
	return res, nil
}

func (t *memTx) CreatePricing(_ context.Context, p *model.Pricing) error {
	if (p.StandardRule == "") == (p.CustomRuleID == nil) {
		return fmt.Errorf("insert pricing: exactly one of standard rule and custom rule must be set")
	}
	if p.Status != model.PricingStatusCancelled && t.hasNonCancelledPricing(p.BookingID) {
		return fmt.Errorf("%w: booking %d", ErrPricingAlreadyExists, p.BookingID)
	}
	s := t.st()
	p.ID = s.nextID()
	for i := range p.Lines {
		p.Lines[i].ID = s.nextID()
		p.Lines[i].PricingID = p.ID
	}
	s.pricings[p.ID] = *copyPricing(*p)
	return nil
}

func (t *memTx) UpdatePricingStatus(_ context.Context, id int64, status model.PricingStatus) error {
	s := t.st()
	p, ok := s.pricings[id]
	if !ok {
		return fmt.Errorf("pricing %d: %w", id, ErrNotFound)
	}
	p.Status = status
	s.pricings[id] = p
	return nil
}

func (t *memTx) DeletePricings(_ context.Context, ids []int64) error {
	s := t.st()
	for _, id := range ids {
		delete(s.pricings, id)
	}
	maps.DeleteFunc(s.pricingLogs, func(_ int64, l model.PricingLog) bool {
		return slices.Contains(ids, l.PricingID)
	})
	return nil
}

func (t *memTx) CreatePricingLog(_ context.Context, l *model.PricingLog) error {
	s := t.st()
	if _, ok := s.pricings[l.PricingID]; !ok {
		return fmt.Errorf("pricing %d: %w", l.PricingID, ErrNotFound)
	}
	l.ID = s.nextID()
	s.pricingLogs[l.ID] = *l
	return nil
}

func (t *memTx) ListCustomReimbursementRules(_ context.Context, b model.Booking) ([]model.CustomReimbursementRule, error) {
	var res []model.CustomReimbursementRule
	for _, r := range t.st().customRules {
		switch {
		case r.OfferID != nil && *r.OfferID == b.OfferID,
			r.VenueID != nil && *r.VenueID == b.VenueID,
			r.OffererID != nil && *r.OffererID == b.OffererID:
			res = append(res, r)
		}
	}
	slices.SortFunc(res, func(a, b model.CustomReimbursementRule) int { return cmp.Compare(a.ID, b.ID) })
	return res, nil
}

func (t *memTx) stock(stockID int64, withBookings bool) (*model.CollectiveStock, bool) {
	s := t.st()
	stock, ok := s.collectiveStocks[stockID]
	if !ok {
		return nil, false
	}
	stock.Bookings = nil
	if withBookings {
		for _, b := range s.collectiveBookings {
			if b.StockID == stockID {
				b.Stock = nil
				stock.Bookings = append(stock.Bookings, b)
			}
		}
		slices.SortFunc(stock.Bookings, func(a, b model.CollectiveBooking) int {
			return cmp.Or(a.DateCreated.Compare(b.DateCreated), cmp.Compare(a.ID, b.ID))
		})
	}
	return &stock, true
}

func (t *memTx) GetCollectiveOffer(_ context.Context, id int64) (*model.CollectiveOffer, error) {
	s := t.st()
	o, ok := s.collectiveOffers[id]
	if !ok {
		return nil, fmt.Errorf("collective offer %d: %w", id, ErrNotFound)
	}
	o.Stock = nil
	for _, stock := range s.collectiveStocks {
		if stock.OfferID == id {
			o.Stock, _ = t.stock(stock.ID, true)
			break
		}
	}
	return &o, nil
}

func (t *memTx) GetCollectiveOfferTemplate(_ context.Context, id int64) (*model.CollectiveOfferTemplate, error) {
	tpl, ok := t.st().templates[id]
	if !ok {
		return nil, fmt.Errorf("collective offer template %d: %w", id, ErrNotFound)
	}
	return &tpl, nil
}

func (t *memTx) GetCollectiveBooking(_ context.Context, id int64) (*model.CollectiveBooking, error) {
	b, ok := t.st().collectiveBookings[id]
	if !ok {
		return nil, fmt.Errorf("collective booking %d: %w", id, ErrNotFound)
	}
	stock, ok := t.stock(b.StockID, false)
	if !ok {
		return nil, fmt.Errorf("collective stock %d: %w", b.StockID, ErrNotFound)
	}
	b.Stock = stock
	return &b, nil
}

func (t *memTx) GetAndLockCollectiveBooking(ctx context.Context, id int64) (*model.CollectiveBooking, error) {
	return t.GetCollectiveBooking(ctx, id)
}

func (t *memTx) UpdateCollectiveBooking(_ context.Context, b *model.CollectiveBooking) error {
	s := t.st()
	if _, ok := s.collectiveBookings[b.ID]; !ok {
		return fmt.Errorf("collective booking %d: %w", b.ID, ErrNotFound)
	}
	stored := *b
	stored.Stock = nil
	s.collectiveBookings[b.ID] = stored
	return nil
}

func (t *memTx) GetAndLockEducationalDeposit(_ context.Context, institutionID int64, at time.Time) (*model.EducationalDeposit, error) {
	for _, d := range t.st().educationalDeposits {
		if d.InstitutionID == institutionID && d.Contains(at) {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("educational deposit for institution %d: %w", institutionID, ErrNotFound)
}

func (t *memTx) SumEducationalDepositSpending(_ context.Context, depositID int64) (decimal.Decimal, error) {
	s := t.st()
	total := decimal.Zero
	for _, b := range s.collectiveBookings {
		if b.EducationalDepositID == nil || *b.EducationalDepositID != depositID {
			continue
		}
		switch b.Status {
		case model.CollectiveBookingStatusConfirmed, model.CollectiveBookingStatusUsed, model.CollectiveBookingStatusReimbursed:
			total = total.Add(s.collectiveStocks[b.StockID].Price)
		}
	}
	return total, nil
}

func (t *memTx) ListExpiredPendingCollectiveBookings(_ context.Context, now time.Time) ([]int64, error) {
	var ids []int64
	for _, b := range t.st().collectiveBookings {
		if b.Status == model.CollectiveBookingStatusPending && b.ConfirmationLimitDate.Before(now) {
			ids = append(ids, b.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (t *memTx) ListConfirmedCollectiveBookingsEndedBefore(_ context.Context, before time.Time) ([]int64, error) {
	s := t.st()
	var ids []int64
	for _, b := range s.collectiveBookings {
		if b.Status == model.CollectiveBookingStatusConfirmed && s.collectiveStocks[b.StockID].EndDatetime.Before(before) {
			ids = append(ids, b.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}
