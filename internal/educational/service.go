package educational

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/passculture/pass-culture-core/internal/metrics"
	"github.com/passculture/pass-culture-core/internal/model"
	"github.com/passculture/pass-culture-core/internal/repository"
)

// Notifier сообщает партнёру и заведению об изменении бронирования.
type Notifier interface {
	CollectiveBookingChanged(ctx context.Context, event string, b model.CollectiveBooking) error
}

// Service выполняет операции над образовательными предложениями и бронированиями.
type Service struct {
	store    repository.Store
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewService создаёт сервис. notifier может быть nil.
func NewService(store repository.Store, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// OfferView - вычисляемые свойства предложения.
type OfferView struct {
	ID                      int64           `json:"id"`
	Name                    string          `json:"name"`
	DisplayedStatus         DisplayedStatus `json:"displayedStatus"`
	AllowedActions          []Action        `json:"allowedActions"`
	PublicAPIAllowedActions []Action        `json:"publicApiAllowedActions"`
}

// TemplateView - вычисляемые свойства шаблона предложения.
type TemplateView struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	DisplayedStatus DisplayedStatus `json:"displayedStatus"`
	AllowedActions  []Action        `json:"allowedActions"`
}

// OfferStatus возвращает отображаемый статус и допустимые действия предложения.
func (s *Service) OfferStatus(ctx context.Context, offerID int64) (*OfferView, error) {
	var offer *model.CollectiveOffer
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		offer, err = tx.GetCollectiveOffer(ctx, offerID)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	return &OfferView{
		ID:                      offer.ID,
		Name:                    offer.Name,
		DisplayedStatus:         OfferDisplayedStatus(offer, now),
		AllowedActions:          AllowedActions(offer, now),
		PublicAPIAllowedActions: PublicAPIAllowedActions(offer, now),
	}, nil
}

// TemplateStatus возвращает отображаемый статус и допустимые действия шаблона.
func (s *Service) TemplateStatus(ctx context.Context, templateID int64) (*TemplateView, error) {
	var tpl *model.CollectiveOfferTemplate
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		tpl, err = tx.GetCollectiveOfferTemplate(ctx, templateID)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	return &TemplateView{
		ID:              tpl.ID,
		Name:            tpl.Name,
		DisplayedStatus: TemplateDisplayedStatus(tpl, now),
		AllowedActions:  TemplateAllowedActions(tpl, now),
	}, nil
}

// ConfirmBooking подтверждает бронирование, списывая его стоимость с фонда заведения.
// Блокируются сначала бронирование, затем фонд, обе до конца транзакции: параллельные
// подтверждения проверяют остаток последовательно. Повторное подтверждение возвращает
// бронирование без изменений.
func (s *Service) ConfirmBooking(ctx context.Context, bookingID int64) (*model.CollectiveBooking, error) {
	var (
		booking *model.CollectiveBooking
		changed bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		booking, changed = nil, false

		b, err := tx.GetAndLockCollectiveBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.Status == model.CollectiveBookingStatusConfirmed {
			booking = b
			return nil
		}

		in := Input{Now: s.now()}
		if err := Can(b, EventConfirm, in); err != nil {
			return err
		}

		deposit, err := tx.GetAndLockEducationalDeposit(ctx, b.InstitutionID, in.Now)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: institution %d", ErrEducationalDepositNotFound, b.InstitutionID)
		}
		if err != nil {
			return err
		}
		spent, err := tx.SumEducationalDepositSpending(ctx, deposit.ID)
		if err != nil {
			return err
		}
		if err := CheckHasEnoughFund(deposit, spent, b.TotalAmount()); err != nil {
			return err
		}

		b.EducationalDepositID = &deposit.ID
		if err := Fire(b, EventConfirm, in); err != nil {
			return err
		}
		if err := tx.UpdateCollectiveBooking(ctx, b); err != nil {
			return err
		}
		booking, changed = b, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.transitioned(ctx, EventConfirm, booking)
	}
	return booking, nil
}

// CancelBooking отменяет бронирование.
func (s *Service) CancelBooking(ctx context.Context, bookingID int64, reason model.CollectiveBookingCancellationReason, userID *int64, cancelEvenIfUsed, cancelEvenIfReimbursed bool) (*model.CollectiveBooking, error) {
	return s.fire(ctx, bookingID, EventCancel, Input{
		Reason:                 reason,
		UserID:                 userID,
		CancelEvenIfUsed:       cancelEvenIfUsed,
		CancelEvenIfReimbursed: cancelEvenIfReimbursed,
	})
}

// UncancelBooking восстанавливает отменённое бронирование.
func (s *Service) UncancelBooking(ctx context.Context, bookingID int64) (*model.CollectiveBooking, error) {
	return s.fire(ctx, bookingID, EventUncancel, Input{})
}

// RefuseBooking фиксирует отказ заведения от бронирования.
func (s *Service) RefuseBooking(ctx context.Context, bookingID int64, userID *int64) (*model.CollectiveBooking, error) {
	return s.fire(ctx, bookingID, EventRefuse, Input{UserID: userID})
}

// UseBooking отмечает бронирование использованным.
func (s *Service) UseBooking(ctx context.Context, bookingID int64) (*model.CollectiveBooking, error) {
	return s.fire(ctx, bookingID, EventUse, Input{})
}

// ReimburseBooking отмечает бронирование возмещённым.
func (s *Service) ReimburseBooking(ctx context.Context, bookingID int64) (*model.CollectiveBooking, error) {
	return s.fire(ctx, bookingID, EventReimburse, Input{})
}

func (s *Service) fire(ctx context.Context, bookingID int64, event Event, in Input) (*model.CollectiveBooking, error) {
	var booking *model.CollectiveBooking
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		booking = nil

		b, err := tx.GetAndLockCollectiveBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		in.Now = s.now()
		if err := Fire(b, event, in); err != nil {
			return err
		}
		if err := tx.UpdateCollectiveBooking(ctx, b); err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.transitioned(ctx, event, booking)
	return booking, nil
}

func (s *Service) transitioned(ctx context.Context, event Event, b *model.CollectiveBooking) {
	metrics.CollectiveTransitions.WithLabelValues(string(event), string(b.Status)).Inc()
	s.logger.Info("collective booking transitioned",
		zap.Int64("bookingID", b.ID), zap.String("event", string(event)), zap.String("status", string(b.Status)))

	if s.notifier == nil {
		return
	}
	if err := s.notifier.CollectiveBookingChanged(ctx, string(event), *b); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("failed to send collective booking notification",
			zap.Int64("bookingID", b.ID), zap.String("event", string(event)), zap.Error(err))
	}
}

// ExpirePendingBookings отменяет с причиной EXPIRED неподтверждённые бронирования с истёкшим
// сроком подтверждения. Ошибка по одному бронированию не прерывает обработку остальных.
func (s *Service) ExpirePendingBookings(ctx context.Context) (int, error) {
	ids, err := s.listBookings(ctx, func(ctx context.Context, tx repository.Tx) ([]int64, error) {
		return tx.ListExpiredPendingCollectiveBookings(ctx, s.now())
	})
	if err != nil {
		return 0, err
	}
	return s.fireEach(ctx, ids, EventCancel, Input{Reason: model.CancellationReasonExpired}), nil
}

// MarkEndedBookingsUsed отмечает использованными подтверждённые бронирования, мероприятие которых
// закончилось более 48 часов назад.
func (s *Service) MarkEndedBookingsUsed(ctx context.Context) (int, error) {
	ids, err := s.listBookings(ctx, func(ctx context.Context, tx repository.Tx) ([]int64, error) {
		return tx.ListConfirmedCollectiveBookingsEndedBefore(ctx, s.now().Add(-usedAfterEndDelay))
	})
	if err != nil {
		return 0, err
	}
	return s.fireEach(ctx, ids, EventUse, Input{}), nil
}

func (s *Service) listBookings(ctx context.Context, list func(ctx context.Context, tx repository.Tx) ([]int64, error)) ([]int64, error) {
	var ids []int64
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		ids, err = list(ctx, tx)
		return err
	})
	return ids, err
}

func (s *Service) fireEach(ctx context.Context, ids []int64, event Event, in Input) int {
	var done int
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.fire(ctx, id, event, in); err != nil {
			s.logger.Error("collective booking job failed",
				zap.Int64("bookingID", id), zap.String("event", string(event)), zap.Error(err))
			continue
		}
		done++
	}
	return done
}
