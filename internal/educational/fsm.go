package educational

import (
	"fmt"
	"time"

	"github.com/passculture/pass-culture-core/internal/model"
)

// Event - событие жизненного цикла образовательного бронирования.
type Event string

const (
	EventConfirm   Event = "confirm"
	EventUse       Event = "use"
	EventCancel    Event = "cancel"
	EventUncancel  Event = "uncancel"
	EventRefuse    Event = "refuse"
	EventReimburse Event = "reimburse"
)

// usedAfterEndDelay - через этот срок после окончания мероприятия подтверждённое бронирование
// считается использованным.
const usedAfterEndDelay = 48 * time.Hour

// Input - параметры события.
type Input struct {
	Now    time.Time
	Reason model.CollectiveBookingCancellationReason
	UserID *int64
	// CancelEvenIfUsed разрешает отменить бронирование в статусе USED.
	CancelEvenIfUsed bool
	// CancelEvenIfReimbursed разрешает отменить бронирование в статусе REIMBURSED.
	CancelEvenIfReimbursed bool
}

type transitionKey struct {
	from  model.CollectiveBookingStatus
	event Event
}

type transition struct {
	guard func(b *model.CollectiveBooking, in Input) error
	apply func(b *model.CollectiveBooking, in Input)
}

var transitions = map[transitionKey]transition{
	{model.CollectiveBookingStatusPending, EventConfirm}: {guard: beforeConfirmationLimit, apply: confirm},

	{model.CollectiveBookingStatusConfirmed, EventUse}: {apply: use},

	{model.CollectiveBookingStatusPending, EventCancel}:   {apply: cancel},
	{model.CollectiveBookingStatusConfirmed, EventCancel}: {apply: cancel},
	{model.CollectiveBookingStatusUsed, EventCancel}: {
		guard: func(_ *model.CollectiveBooking, in Input) error {
			if !in.CancelEvenIfUsed {
				return ErrCollectiveBookingIsAlreadyUsed
			}
			return nil
		},
		apply: cancel,
	},
	{model.CollectiveBookingStatusReimbursed, EventCancel}: {
		guard: func(_ *model.CollectiveBooking, in Input) error {
			if !in.CancelEvenIfReimbursed {
				return ErrCollectiveBookingIsAlreadyUsed
			}
			return nil
		},
		apply: cancel,
	},

	{model.CollectiveBookingStatusPending, EventRefuse}:   {apply: refuse},
	{model.CollectiveBookingStatusConfirmed, EventRefuse}: {apply: refuse},

	{model.CollectiveBookingStatusCancelled, EventUncancel}: {apply: uncancel},

	{model.CollectiveBookingStatusUsed, EventReimburse}: {apply: reimburse},
}

// rejection возвращает ошибку для пары (статус, событие), отсутствующей в таблице переходов.
func rejection(from model.CollectiveBookingStatus, event Event) error {
	switch {
	case event == EventUncancel:
		return ErrCollectiveBookingNotCancelled
	case from == model.CollectiveBookingStatusCancelled:
		return ErrCollectiveBookingAlreadyCancelled
	case from == model.CollectiveBookingStatusUsed || from == model.CollectiveBookingStatusReimbursed:
		if event != EventReimburse {
			return ErrCollectiveBookingIsAlreadyUsed
		}
	}
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, event, from)
}

func lookup(b *model.CollectiveBooking, event Event, in Input) (transition, error) {
	t, ok := transitions[transitionKey{from: b.Status, event: event}]
	if !ok {
		return transition{}, rejection(b.Status, event)
	}
	if t.guard != nil {
		if err := t.guard(b, in); err != nil {
			return transition{}, err
		}
	}
	return t, nil
}

// Can проверяет, допустимо ли событие для бронирования, не изменяя его.
func Can(b *model.CollectiveBooking, event Event, in Input) error {
	_, err := lookup(b, event, in)
	return err
}

// Fire применяет событие к бронированию. При ошибке бронирование не изменяется.
func Fire(b *model.CollectiveBooking, event Event, in Input) error {
	t, err := lookup(b, event, in)
	if err != nil {
		return err
	}
	t.apply(b, in)
	return nil
}

func beforeConfirmationLimit(b *model.CollectiveBooking, in Input) error {
	if in.Now.After(b.ConfirmationLimitDate) {
		return ErrConfirmationLimitDateHasPassed
	}
	return nil
}

func confirm(b *model.CollectiveBooking, in Input) {
	b.Status = model.CollectiveBookingStatusConfirmed
	b.ConfirmationDate = &in.Now
}

func use(b *model.CollectiveBooking, in Input) {
	b.Status = model.CollectiveBookingStatusUsed
	b.DateUsed = &in.Now
}

func cancel(b *model.CollectiveBooking, in Input) {
	reason := in.Reason
	b.Status = model.CollectiveBookingStatusCancelled
	b.CancellationDate = &in.Now
	b.CancellationReason = &reason
	b.CancellationUserID = in.UserID
	b.DateUsed = nil
}

func refuse(b *model.CollectiveBooking, in Input) {
	in.Reason = model.CancellationReasonRefusedByInstitute
	cancel(b, in)
}

func uncancel(b *model.CollectiveBooking, in Input) {
	b.CancellationDate = nil
	b.CancellationReason = nil
	b.CancellationUserID = nil

	switch {
	case b.ConfirmationDate == nil:
		b.Status = model.CollectiveBookingStatusPending
	case b.Stock != nil && b.Stock.EndDatetime.Add(usedAfterEndDelay).Before(in.Now):
		use(b, in)
	default:
		b.Status = model.CollectiveBookingStatusConfirmed
	}
}

func reimburse(b *model.CollectiveBooking, in Input) {
	b.Status = model.CollectiveBookingStatusReimbursed
	b.ReimbursementDate = &in.Now
}
