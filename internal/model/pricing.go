package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricingStatus описывает статус расчёта возмещения по бронированию.
type PricingStatus string

const (
	PricingStatusPending   PricingStatus = "pending"
	PricingStatusValidated PricingStatus = "validated"
	PricingStatusRejected  PricingStatus = "rejected"
	PricingStatusCancelled PricingStatus = "cancelled"
	PricingStatusBilled    PricingStatus = "billed"
	PricingStatusInvoiced  PricingStatus = "invoiced"
)

// IsCancellable сообщает, можно ли отменить расчёт в этом статусе.
func (s PricingStatus) IsCancellable() bool {
	switch s {
	case PricingStatusPending, PricingStatusValidated, PricingStatusRejected:
		return true
	}
	return false
}

// IsDeletable сообщает, можно ли физически удалить расчёт в этом статусе.
func (s PricingStatus) IsDeletable() bool {
	return s.IsCancellable() || s == PricingStatusCancelled
}

// PricingLineCategory - категория строки расчёта.
type PricingLineCategory string

const (
	PricingLineOffererRevenue      PricingLineCategory = "offerer revenue"
	PricingLineOffererContribution PricingLineCategory = "offerer contribution"
)

// PricingLogReason - причина изменения статуса расчёта.
type PricingLogReason string

const (
	PricingLogReasonMarkingAsUnused PricingLogReason = "marking as unused"
	PricingLogReasonChangeAmount    PricingLogReason = "change amount"
	PricingLogReasonChangeDate      PricingLogReason = "change date"
	PricingLogReasonBackoffice      PricingLogReason = "backoffice"
)

// Pricing - расчёт возмещения по использованному бронированию. Суммы в евроцентах,
// отрицательная сумма подлежит выплате платформой.
type Pricing struct {
	ID             int64
	BookingID      int64
	BusinessUnitID int64
	Siret          string
	Status         PricingStatus
	Amount         int64
	Revenue        int64
	ValueDate      time.Time
	CreationDate   time.Time
	StandardRule   string
	CustomRuleID   *int64
	Lines          []PricingLine
}

// PricingLine - одна составляющая суммы расчёта.
type PricingLine struct {
	ID        int64
	PricingID int64
	Category  PricingLineCategory
	Amount    int64
}

// PricingLog - запись аудита о смене статуса расчёта.
type PricingLog struct {
	ID           int64
	PricingID    int64
	StatusBefore PricingStatus
	StatusAfter  PricingStatus
	Reason       PricingLogReason
	Timestamp    time.Time
}

// CustomReimbursementRule - особое правило возмещения для предложения, площадки или организации.
type CustomReimbursementRule struct {
	ID            int64
	OfferID       *int64
	VenueID       *int64
	OffererID     *int64
	Subcategories []string
	// Amount - фиксированная сумма возмещения за единицу, в евроцентах.
	Amount        *int64
	Rate          *decimal.Decimal
	TimespanStart time.Time
	TimespanEnd   *time.Time
}

// ToEurocents переводит сумму в евро в евроценты с математическим округлением.
func ToEurocents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// ToEuros переводит сумму в евроцентах в евро.
func ToEuros(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
