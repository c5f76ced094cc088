// Package educational реализует образовательные предложения: вывод отображаемого статуса,
// допустимые действия и жизненный цикл бронирований учебных заведений.
package educational

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/passculture/pass-culture-core/internal/model"
)

// DisplayedStatus - статус предложения, который видят пользователи. Вычисляется, не хранится.
type DisplayedStatus string

const (
	StatusDraft       DisplayedStatus = "DRAFT"
	StatusUnderReview DisplayedStatus = "UNDER_REVIEW"
	StatusRejected    DisplayedStatus = "REJECTED"
	StatusPublished   DisplayedStatus = "PUBLISHED"
	StatusPrebooked   DisplayedStatus = "PREBOOKED"
	StatusBooked      DisplayedStatus = "BOOKED"
	StatusExpired     DisplayedStatus = "EXPIRED"
	StatusEnded       DisplayedStatus = "ENDED"
	StatusCancelled   DisplayedStatus = "CANCELLED"
	StatusReimbursed  DisplayedStatus = "REIMBURSED"
	StatusHidden      DisplayedStatus = "HIDDEN"
	StatusArchived    DisplayedStatus = "ARCHIVED"
)

// AllDisplayedStatuses перечисляет все двенадцать статусов.
var AllDisplayedStatuses = []DisplayedStatus{
	StatusDraft, StatusUnderReview, StatusRejected, StatusPublished, StatusPrebooked, StatusBooked,
	StatusExpired, StatusEnded, StatusCancelled, StatusReimbursed, StatusHidden, StatusArchived,
}

// validationStatus возвращает статус модерации или false для одобренных предложений.
func validationStatus(v model.OfferValidationStatus) (DisplayedStatus, bool, error) {
	switch v {
	case model.OfferValidationDraft:
		return StatusDraft, true, nil
	case model.OfferValidationPending:
		return StatusUnderReview, true, nil
	case model.OfferValidationRejected:
		return StatusRejected, true, nil
	case model.OfferValidationApproved:
		return "", false, nil
	}
	return "", false, fmt.Errorf("%w: validation %q", ErrUnknownStatus, v)
}

func baseDisplayedStatus(o *model.CollectiveOffer, now time.Time) (DisplayedStatus, error) {
	if o.IsArchived() {
		return StatusArchived, nil
	}
	if status, done, err := validationStatus(o.Validation); done || err != nil {
		return status, err
	}

	status, err := approvedStatus(o.Stock, now)
	if err != nil {
		return "", err
	}
	if status == StatusPublished && !o.IsActive {
		return StatusHidden, nil
	}
	return status, nil
}

// approvedStatus выводит статус одобренного предложения по последнему бронированию и датам стока.
func approvedStatus(stock *model.CollectiveStock, now time.Time) (DisplayedStatus, error) {
	if stock == nil {
		return StatusPublished, nil
	}

	booking := stock.LastBooking()
	if booking == nil {
		switch {
		case stock.HasStartDatetimePassed(now):
			return StatusCancelled, nil
		case stock.HasBookingLimitDatetimePassed(now):
			return StatusExpired, nil
		default:
			return StatusPublished, nil
		}
	}

	switch booking.Status {
	case model.CollectiveBookingStatusPending:
		if stock.HasBookingLimitDatetimePassed(now) {
			return StatusExpired, nil
		}
		return StatusPrebooked, nil
	case model.CollectiveBookingStatusConfirmed:
		if stock.HasEndDatetimePassed(now) {
			return StatusEnded, nil
		}
		return StatusBooked, nil
	case model.CollectiveBookingStatusUsed:
		return StatusEnded, nil
	case model.CollectiveBookingStatusReimbursed:
		return StatusReimbursed, nil
	case model.CollectiveBookingStatusCancelled:
		// Отмена с причиной EXPIRED до начала мероприятия - это истечение срока подтверждения.
		if booking.CancellationReason != nil && *booking.CancellationReason == model.CancellationReasonExpired &&
			!stock.HasStartDatetimePassed(now) {
			return StatusExpired, nil
		}
		return StatusCancelled, nil
	}
	return "", fmt.Errorf("%w: booking %d status %q", ErrUnknownStatus, booking.ID, booking.Status)
}

// OfferDisplayedStatus возвращает отображаемый статус предложения в момент now. Для состояний,
// не покрытых выводом, пишет ошибку в лог и возвращает PUBLISHED.
func OfferDisplayedStatus(o *model.CollectiveOffer, now time.Time) DisplayedStatus {
	status, err := baseDisplayedStatus(o, now)
	if err != nil {
		zap.L().Error("could not derive collective offer displayed status",
			zap.Int64("offerID", o.ID), zap.Error(err))
		return StatusPublished
	}
	return status
}

// TemplateDisplayedStatus возвращает отображаемый статус шаблона предложения.
func TemplateDisplayedStatus(t *model.CollectiveOfferTemplate, now time.Time) DisplayedStatus {
	if t.IsArchived() {
		return StatusArchived
	}
	status, done, err := validationStatus(t.Validation)
	if err != nil {
		zap.L().Error("could not derive collective offer template displayed status",
			zap.Int64("templateID", t.ID), zap.Error(err))
		return StatusPublished
	}
	if done {
		return status
	}
	if t.DateRangeEnd != nil && t.DateRangeEnd.Before(now) {
		return StatusEnded
	}
	if !t.IsActive {
		return StatusHidden
	}
	return StatusPublished
}
