package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMultipleNonCancelledBookings означает нарушение инварианта "не более одного активного бронирования на сток".
var ErrMultipleNonCancelledBookings = errors.New("collective stock has more than one non-cancelled booking")

// OfferValidationStatus - статус модерации предложения.
type OfferValidationStatus string

const (
	OfferValidationDraft    OfferValidationStatus = "DRAFT"
	OfferValidationPending  OfferValidationStatus = "PENDING"
	OfferValidationApproved OfferValidationStatus = "APPROVED"
	OfferValidationRejected OfferValidationStatus = "REJECTED"
)

// CollectiveOffer - образовательное предложение, которое может забронировать учебное заведение.
type CollectiveOffer struct {
	ID           int64
	Name         string
	Validation   OfferValidationStatus
	IsActive     bool
	DateArchived *time.Time
	// ProviderID задан, если предложение создано через публичный API.
	ProviderID  *int64
	DateCreated time.Time
	Stock       *CollectiveStock
}

// IsArchived сообщает, находится ли предложение в архиве.
func (o *CollectiveOffer) IsArchived() bool {
	return o.DateArchived != nil
}

// IsFromPublicAPI сообщает, управляется ли предложение через публичный API.
func (o *CollectiveOffer) IsFromPublicAPI() bool {
	return o.ProviderID != nil
}

// CollectiveOfferTemplate - витринное предложение без даты и цены.
type CollectiveOfferTemplate struct {
	ID             int64
	Name           string
	Validation     OfferValidationStatus
	IsActive       bool
	DateArchived   *time.Time
	DateRangeStart *time.Time
	DateRangeEnd   *time.Time
}

// IsArchived сообщает, находится ли шаблон в архиве.
func (t *CollectiveOfferTemplate) IsArchived() bool {
	return t.DateArchived != nil
}

// CollectiveStock - конкретная дата и цена образовательного предложения.
type CollectiveStock struct {
	ID                   int64
	OfferID              int64
	Price                decimal.Decimal
	NumberOfTickets      int
	StartDatetime        time.Time
	EndDatetime          time.Time
	BookingLimitDatetime time.Time
	Bookings             []CollectiveBooking
}

// HasBookingLimitDatetimePassed сообщает, истёк ли срок бронирования.
func (s *CollectiveStock) HasBookingLimitDatetimePassed(now time.Time) bool {
	return s.BookingLimitDatetime.Before(now)
}

// HasStartDatetimePassed сообщает, началось ли мероприятие.
func (s *CollectiveStock) HasStartDatetimePassed(now time.Time) bool {
	return s.StartDatetime.Before(now)
}

// HasEndDatetimePassed сообщает, закончилось ли мероприятие.
func (s *CollectiveStock) HasEndDatetimePassed(now time.Time) bool {
	return s.EndDatetime.Before(now)
}

// UniqueNonCancelledBooking возвращает единственное неотменённое бронирование стока.
func (s *CollectiveStock) UniqueNonCancelledBooking() (*CollectiveBooking, error) {
	var found *CollectiveBooking
	for i := range s.Bookings {
		if s.Bookings[i].Status == CollectiveBookingStatusCancelled {
			continue
		}
		if found != nil {
			return nil, ErrMultipleNonCancelledBookings
		}
		found = &s.Bookings[i]
	}
	return found, nil
}

// LastBooking возвращает бронирование, определяющее отображаемый статус: неотменённое в приоритете,
// иначе самое позднее отменённое.
func (s *CollectiveStock) LastBooking() *CollectiveBooking {
	var last *CollectiveBooking
	for i := range s.Bookings {
		b := &s.Bookings[i]
		switch {
		case last == nil:
			last = b
		case last.Status == CollectiveBookingStatusCancelled && b.Status != CollectiveBookingStatusCancelled:
			last = b
		case (last.Status == CollectiveBookingStatusCancelled) == (b.Status == CollectiveBookingStatusCancelled) &&
			b.DateCreated.After(last.DateCreated):
			last = b
		}
	}
	return last
}

// CollectiveBookingStatus - статус образовательного бронирования.
type CollectiveBookingStatus string

const (
	CollectiveBookingStatusPending    CollectiveBookingStatus = "PENDING"
	CollectiveBookingStatusConfirmed  CollectiveBookingStatus = "CONFIRMED"
	CollectiveBookingStatusUsed       CollectiveBookingStatus = "USED"
	CollectiveBookingStatusCancelled  CollectiveBookingStatus = "CANCELLED"
	CollectiveBookingStatusReimbursed CollectiveBookingStatus = "REIMBURSED"
)

// CollectiveBookingCancellationReason - причина отмены образовательного бронирования.
type CollectiveBookingCancellationReason string

const (
	CancellationReasonOfferer             CollectiveBookingCancellationReason = "OFFERER"
	CancellationReasonExpired             CollectiveBookingCancellationReason = "EXPIRED"
	CancellationReasonFraud               CollectiveBookingCancellationReason = "FRAUD"
	CancellationReasonRefusedByInstitute  CollectiveBookingCancellationReason = "REFUSED_BY_INSTITUTE"
	CancellationReasonRefusedByHeadmaster CollectiveBookingCancellationReason = "REFUSED_BY_HEADMASTER"
	CancellationReasonPublicAPI           CollectiveBookingCancellationReason = "PUBLIC_API"
	CancellationReasonFinanceIncident     CollectiveBookingCancellationReason = "FINANCE_INCIDENT"
	CancellationReasonBackoffice          CollectiveBookingCancellationReason = "BACKOFFICE"
)

// CollectiveBooking - бронирование стока учебным заведением через педагога (redactor).
type CollectiveBooking struct {
	ID                    int64
	StockID               int64
	InstitutionID         int64
	RedactorID            int64
	EducationalDepositID  *int64
	Status                CollectiveBookingStatus
	DateCreated           time.Time
	ConfirmationDate      *time.Time
	ConfirmationLimitDate time.Time
	CancellationDate      *time.Time
	CancellationReason    *CollectiveBookingCancellationReason
	CancellationUserID    *int64
	DateUsed              *time.Time
	ReimbursementDate     *time.Time
	Stock                 *CollectiveStock
}

// TotalAmount возвращает сумму, списываемую с фонда заведения.
func (b *CollectiveBooking) TotalAmount() decimal.Decimal {
	if b.Stock == nil {
		return decimal.Zero
	}
	return b.Stock.Price
}

// EducationalDeposit - фонд учебного заведения на учебный год.
type EducationalDeposit struct {
	ID            int64
	InstitutionID int64
	Amount        decimal.Decimal
	IsFinal       bool
	// Период действия полуоткрытый: [PeriodStart, PeriodEnd).
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Contains сообщает, попадает ли момент at в период действия фонда.
func (d *EducationalDeposit) Contains(at time.Time) bool {
	return !at.Before(d.PeriodStart) && at.Before(d.PeriodEnd)
}
