// Package repository содержит контракт хранилища и его реализации (PostgreSQL и in-memory).
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/passculture/pass-culture-core/internal/model"
)

var (
	// ErrNotFound возвращается, если запрошенная запись отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrPricingAlreadyExists возвращается при нарушении уникальности неотменённого расчёта по бронированию.
	ErrPricingAlreadyExists = errors.New("booking already has a non-cancelled pricing")
)

// Store открывает транзакции. Все операции ядра выполняются внутри InTx.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// Tx - операции, доступные внутри одной транзакции. Блокировки (Lock*, GetAndLock*)
// удерживаются до фиксации или отката транзакции.
type Tx interface {
	// Savepoint выполняет fn во вложенной транзакции: ошибка fn откатывает только её изменения.
	Savepoint(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	LockUsers(ctx context.Context, ids []int64) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	ListRecreditCandidates(ctx context.Context, roles []model.UserRole, bornAfter, bornBefore time.Time) ([]int64, error)
	CreateDeposit(ctx context.Context, d *model.Deposit) error
	UpdateDeposit(ctx context.Context, d *model.Deposit) error
	CreateRecredit(ctx context.Context, r *model.Recredit) error
	ListBookingsByDeposit(ctx context.Context, depositID int64) ([]model.Booking, error)
	MoveBookingsToDeposit(ctx context.Context, bookingIDs []int64, depositID int64) error

	LockBusinessUnit(ctx context.Context, id int64) error
	GetBooking(ctx context.Context, id int64) (*model.Booking, error)
	ListBookingsToPrice(ctx context.Context, usedFrom, usedTo time.Time) ([]model.Booking, error)
	GetNonCancelledPricing(ctx context.Context, bookingID int64) (*model.Pricing, error)
	GetLatestPricing(ctx context.Context, businessUnitID int64) (*model.Pricing, error)
	ListPricingsAfter(ctx context.Context, businessUnitID int64, valueDate time.Time, bookingID int64) ([]model.Pricing, error)
	// ListPricings возвращает все расчёты бронирования, включая отменённые, в порядке создания.
	ListPricings(ctx context.Context, bookingID int64) ([]model.Pricing, error)
	ListPricingLogs(ctx context.Context, bookingID int64) ([]model.PricingLog, error)
	CreatePricing(ctx context.Context, p *model.Pricing) error
	UpdatePricingStatus(ctx context.Context, id int64, status model.PricingStatus) error
	DeletePricings(ctx context.Context, ids []int64) error
	CreatePricingLog(ctx context.Context, l *model.PricingLog) error
	ListCustomReimbursementRules(ctx context.Context, b model.Booking) ([]model.CustomReimbursementRule, error)

	GetCollectiveOffer(ctx context.Context, id int64) (*model.CollectiveOffer, error)
	GetCollectiveOfferTemplate(ctx context.Context, id int64) (*model.CollectiveOfferTemplate, error)
	GetCollectiveBooking(ctx context.Context, id int64) (*model.CollectiveBooking, error)
	// GetAndLockCollectiveBooking читает бронирование с блокировкой строки: переходы одного
	// бронирования выполняются последовательно.
	GetAndLockCollectiveBooking(ctx context.Context, id int64) (*model.CollectiveBooking, error)
	UpdateCollectiveBooking(ctx context.Context, b *model.CollectiveBooking) error
	GetAndLockEducationalDeposit(ctx context.Context, institutionID int64, at time.Time) (*model.EducationalDeposit, error)
	SumEducationalDepositSpending(ctx context.Context, depositID int64) (decimal.Decimal, error)
	ListExpiredPendingCollectiveBookings(ctx context.Context, now time.Time) ([]int64, error)
	ListConfirmedCollectiveBookingsEndedBefore(ctx context.Context, before time.Time) ([]int64, error)
}
