// Package repositorytest наполняет хранилище в памяти для тестов других пакетов.
package repositorytest

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/passculture/pass-culture-core/internal/model"
	"github.com/passculture/pass-culture-core/internal/repository"
)

func load(t testing.TB, m *repository.Memory, f *repository.Fixture) {
	t.Helper()
	require.NoError(t, m.Load(f))
}

// Хелперы копируют вложенные срезы: Load записывает в них назначенные идентификаторы.

// AddUser сохраняет пользователя вместе с его депозитами и пополнениями.
func AddUser(t testing.TB, m *repository.Memory, u model.User) int64 {
	t.Helper()
	u.Deposits = slices.Clone(u.Deposits)
	for i := range u.Deposits {
		u.Deposits[i].Recredits = slices.Clone(u.Deposits[i].Recredits)
	}
	f := &repository.Fixture{Users: []model.User{u}}
	load(t, m, f)
	return f.Users[0].ID
}

func AddBusinessUnit(t testing.TB, m *repository.Memory, bu model.BusinessUnit) int64 {
	t.Helper()
	f := &repository.Fixture{BusinessUnits: []model.BusinessUnit{bu}}
	load(t, m, f)
	return f.BusinessUnits[0].ID
}

// AddBooking сохраняет бронирование, его площадку и предложение.
func AddBooking(t testing.TB, m *repository.Memory, b model.Booking) int64 {
	t.Helper()
	f := &repository.Fixture{Bookings: []model.Booking{b}}
	load(t, m, f)
	return f.Bookings[0].ID
}

// AddPricing сохраняет расчёт без проверки уникальности.
func AddPricing(t testing.TB, m *repository.Memory, p model.Pricing) int64 {
	t.Helper()
	p.Lines = slices.Clone(p.Lines)
	f := &repository.Fixture{Pricings: []model.Pricing{p}}
	load(t, m, f)
	return f.Pricings[0].ID
}

func AddCustomRule(t testing.TB, m *repository.Memory, r model.CustomReimbursementRule) int64 {
	t.Helper()
	f := &repository.Fixture{CustomRules: []model.CustomReimbursementRule{r}}
	load(t, m, f)
	return f.CustomRules[0].ID
}

// AddCollectiveOffer сохраняет предложение, его сток и бронирования стока.
func AddCollectiveOffer(t testing.TB, m *repository.Memory, o model.CollectiveOffer) int64 {
	t.Helper()
	if o.Stock != nil {
		stock := *o.Stock
		stock.Bookings = slices.Clone(stock.Bookings)
		o.Stock = &stock
	}
	f := &repository.Fixture{CollectiveOffers: []model.CollectiveOffer{o}}
	load(t, m, f)
	return f.CollectiveOffers[0].ID
}

func AddCollectiveOfferTemplate(t testing.TB, m *repository.Memory, tpl model.CollectiveOfferTemplate) int64 {
	t.Helper()
	f := &repository.Fixture{CollectiveOfferTemplates: []model.CollectiveOfferTemplate{tpl}}
	load(t, m, f)
	return f.CollectiveOfferTemplates[0].ID
}

func AddEducationalDeposit(t testing.TB, m *repository.Memory, d model.EducationalDeposit) int64 {
	t.Helper()
	f := &repository.Fixture{EducationalDeposits: []model.EducationalDeposit{d}}
	load(t, m, f)
	return f.EducationalDeposits[0].ID
}

// SetBookingStatus меняет статус и дату использования сохранённого бронирования.
func SetBookingStatus(t testing.TB, m *repository.Memory, id int64, status model.BookingStatus, dateUsed *time.Time) {
	t.Helper()
	var b *model.Booking
	require.NoError(t, m.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		b, err = tx.GetBooking(ctx, id)
		return err
	}))
	b.Status = status
	b.DateUsed = dateUsed
	load(t, m, &repository.Fixture{Bookings: []model.Booking{*b}})
}

// Pricings возвращает все расчёты по бронированию, включая отменённые, в порядке создания.
func Pricings(t testing.TB, store repository.Store, bookingID int64) []model.Pricing {
	t.Helper()
	var pricings []model.Pricing
	require.NoError(t, store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		pricings, err = tx.ListPricings(ctx, bookingID)
		return err
	}))
	return pricings
}

// PricingLogs возвращает журнал смены статусов расчётов бронирования.
func PricingLogs(t testing.TB, store repository.Store, bookingID int64) []model.PricingLog {
	t.Helper()
	var logs []model.PricingLog
	require.NoError(t, store.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		var err error
		logs, err = tx.ListPricingLogs(ctx, bookingID)
		return err
	}))
	return logs
}
