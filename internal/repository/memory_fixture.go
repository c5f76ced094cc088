package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/passculture/pass-culture-core/internal/model"
)

// Fixture - начальные данные хранилища в памяти. Сущности с нулевым ID получают новый
// идентификатор, сущности с заданным ID перезаписывают существующие.
type Fixture struct {
	// Users сохраняются вместе с депозитами и пополнениями.
	Users         []model.User
	BusinessUnits []model.BusinessUnit
	// Bookings регистрируют свои площадку и предложение. BusinessUnit (если задан)
	// привязывается к новой площадке.
	Bookings    []model.Booking
	Pricings    []model.Pricing
	CustomRules []model.CustomReimbursementRule
	// CollectiveOffers сохраняются вместе со стоком и его бронированиями.
	CollectiveOffers         []model.CollectiveOffer
	CollectiveOfferTemplates []model.CollectiveOfferTemplate
	EducationalDeposits      []model.EducationalDeposit
}

// ReadFixture читает набор данных из JSON-файла.
func ReadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode fixture %s: %w", path, err)
	}
	return &f, nil
}

func (s *memState) reserve(id *int64) {
	if *id == 0 {
		*id = s.nextID()
		return
	}
	s.seq = max(s.seq, *id)
}

// Load добавляет данные f в хранилище. Назначенные идентификаторы записываются обратно в f.
func (m *Memory) Load(f *Fixture) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state
	for i := range f.Users {
		s.loadUser(&f.Users[i])
	}
	for i := range f.BusinessUnits {
		bu := &f.BusinessUnits[i]
		s.reserve(&bu.ID)
		s.businessUnits[bu.ID] = *bu
	}
	for i := range f.Bookings {
		s.loadBooking(&f.Bookings[i])
	}
	for i := range f.Pricings {
		if err := s.loadPricing(&f.Pricings[i]); err != nil {
			return err
		}
	}
	for i := range f.CustomRules {
		r := &f.CustomRules[i]
		s.reserve(&r.ID)
		s.customRules[r.ID] = *r
	}
	for i := range f.CollectiveOffers {
		s.loadCollectiveOffer(&f.CollectiveOffers[i])
	}
	for i := range f.CollectiveOfferTemplates {
		t := &f.CollectiveOfferTemplates[i]
		s.reserve(&t.ID)
		s.templates[t.ID] = *t
	}
	for i := range f.EducationalDeposits {
		d := &f.EducationalDeposits[i]
		s.reserve(&d.ID)
		s.educationalDeposits[d.ID] = *d
	}
	return nil
}

func (s *memState) loadUser(u *model.User) {
	s.reserve(&u.ID)
	for i := range u.Deposits {
		d := &u.Deposits[i]
		d.UserID = u.ID
		s.reserve(&d.ID)
		for j := range d.Recredits {
			r := &d.Recredits[j]
			r.DepositID = d.ID
			s.reserve(&r.ID)
			s.recredits[r.ID] = *r
		}
		stored := *d
		stored.Recredits = nil
		s.deposits[d.ID] = stored
	}
	stored := *u
	stored.Deposits = nil
	stored.Roles = slices.Clone(u.Roles)
	s.users[u.ID] = stored
}

func (s *memState) loadBooking(b *model.Booking) {
	s.reserve(&b.ID)
	if b.BusinessUnit != nil {
		s.reserve(&b.BusinessUnit.ID)
		s.businessUnits[b.BusinessUnit.ID] = *b.BusinessUnit
	}
	if _, ok := s.venues[b.VenueID]; !ok {
		s.venues[b.VenueID] = venue{offererID: b.OffererID, businessUnitID: b.BusinessUnitID()}
	}
	s.offers[b.OfferID] = offer{venueID: b.VenueID, subcategory: b.Subcategory, isDigital: b.IsDigital}
	stored := *b
	stored.BusinessUnit = nil
	s.bookings[b.ID] = stored
}

// loadPricing сохраняет расчёт без проверки уникальности: исторические данные могут её нарушать.
func (s *memState) loadPricing(p *model.Pricing) error {
	if (p.StandardRule == "") == (p.CustomRuleID == nil) {
		return fmt.Errorf("load pricing for booking %d: exactly one of standard rule and custom rule must be set", p.BookingID)
	}
	s.reserve(&p.ID)
	for i := range p.Lines {
		s.reserve(&p.Lines[i].ID)
		p.Lines[i].PricingID = p.ID
	}
	s.pricings[p.ID] = *copyPricing(*p)
	return nil
}

func (s *memState) loadCollectiveOffer(o *model.CollectiveOffer) {
	s.reserve(&o.ID)
	if o.Stock != nil {
		stock := o.Stock
		stock.OfferID = o.ID
		s.reserve(&stock.ID)
		for i := range stock.Bookings {
			b := &stock.Bookings[i]
			b.StockID = stock.ID
			s.reserve(&b.ID)
			stored := *b
			stored.Stock = nil
			s.collectiveBookings[b.ID] = stored
		}
		stored := *stock
		stored.Bookings = nil
		s.collectiveStocks[stock.ID] = stored
	}
	stored := *o
	stored.Stock = nil
	s.collectiveOffers[o.ID] = stored
}
