package deposit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/passculture/pass-culture-core/internal/metrics"
	"github.com/passculture/pass-culture-core/internal/model"
	"github.com/passculture/pass-culture-core/internal/repository"
)

// transferAge - возраст, с которого под v3 депозит 15-17 переводится на депозит 17-18.
const transferAge = 17

// forcedExpirationDelay - насколько в прошлое переносится окончание депозита 15-17 при выдаче депозита 18.
const forcedExpirationDelay = 5 * time.Minute

// Notifier отправляет бенефициару письмо о пополнении депозита.
type Notifier interface {
	DepositRecredited(ctx context.Context, userID int64, r model.Recredit) error
}

// Config - параметры движка депозитов.
type Config struct {
	EnableCreditV3 bool
	DecreeDatetime time.Time
	BatchSize      int
}

// Engine выдаёт и пополняет депозиты бенефициаров.
type Engine struct {
	store    repository.Store
	cfg      Config
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine создаёт движок депозитов. notifier может быть nil.
func NewEngine(store repository.Store, cfg Config, notifier Notifier, logger *zap.Logger) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	return &Engine{
		store:    store,
		cfg:      cfg,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Policy возвращает регламент, действующий в момент now.
func (e *Engine) Policy(now time.Time) Policy {
	return ResolvePolicy(e.cfg.EnableCreditV3, e.cfg.DecreeDatetime, now)
}

// GetUser возвращает пользователя с историей депозитов.
func (e *Engine) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	var user *model.User
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		user, err = tx.GetUser(ctx, userID)
		return err
	})
	return user, err
}

// CreateDeposit выдаёт пользователю новый депозит.
func (e *Engine) CreateDeposit(ctx context.Context, userID int64, source string, eligibility Eligibility, ageAtRegistration *int) (*model.Deposit, error) {
	var (
		deposit   *model.Deposit
		recredits []model.Recredit
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.LockUsers(ctx, []int64{userID}); err != nil {
			return err
		}
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		now := e.now()
		op := &operation{tx: tx, now: now}
		deposit, err = e.createDeposit(ctx, op, user, source, eligibility, ageAtRegistration, e.Policy(now))
		recredits = op.recredits
		return err
	})
	if err != nil {
		return nil, err
	}
	e.notify(ctx, userID, recredits)
	return deposit, nil
}

// UpsertDeposit выдаёт депозит пользователю без действующего депозита, иначе пополняет действующий.
// Если пополнять нечего, возвращает ErrUserCannotBeRecredited.
func (e *Engine) UpsertDeposit(ctx context.Context, userID int64, source string, eligibility Eligibility, ageAtRegistration *int) (*model.Deposit, error) {
	var (
		deposit   *model.Deposit
		recredits []model.Recredit
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.LockUsers(ctx, []int64{userID}); err != nil {
			return err
		}
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		now := e.now()
		op := &operation{tx: tx, now: now}
		deposit, err = e.upsertDeposit(ctx, op, user, source, eligibility, ageAtRegistration, e.Policy(now))
		recredits = op.recredits
		return err
	})
	if err != nil {
		return nil, err
	}
	e.notify(ctx, userID, recredits)
	return deposit, nil
}

// operation - контекст одной операции над депозитами внутри транзакции.
type operation struct {
	tx        repository.Tx
	now       time.Time
	recredits []model.Recredit
}

func (e *Engine) upsertDeposit(ctx context.Context, op *operation, user *model.User, source string, eligibility Eligibility, ageAtRegistration *int, policy Policy) (*model.Deposit, error) {
	active := user.ActiveDeposit(op.now)

	if active != nil && policy == PolicyV2 && active.Type == model.DepositTypeGrant15To17 && eligibility == EligibilityAge18 {
		expiration := op.now.Add(-forcedExpirationDelay)
		active.ExpirationDate = &expiration
		if err := op.tx.UpdateDeposit(ctx, active); err != nil {
			return nil, err
		}
		e.logger.Info("expired underage deposit before granting age 18 deposit",
			zap.Int64("userID", user.ID), zap.Int64("depositID", active.ID))
		active = nil
	}

	if active == nil {
		return e.createDeposit(ctx, op, user, source, eligibility, ageAtRegistration, policy)
	}

	if needsTransfer(user, active, policy, op.now) {
		granted, err := GetGrantedDeposit(user, eligibility, ageAtRegistration, policy, op.now)
		if err == nil && granted.Type != active.Type {
			return e.transferDeposit(ctx, op, user, active, source)
		}
	}

	recredit, err := e.recredit(ctx, op, user, active, policy)
	if err != nil {
		return nil, err
	}
	if recredit == nil {
		return nil, fmt.Errorf("%w: user %d", ErrUserCannotBeRecredited, user.ID)
	}
	return active, nil
}

// needsTransfer сообщает, должен ли действующий депозит быть переведён на депозит 17-18.
func needsTransfer(user *model.User, deposit *model.Deposit, policy Policy, now time.Time) bool {
	return policy == PolicyV3 && deposit.Type == model.DepositTypeGrant15To17 && user.AgeAt(now) >= transferAge
}

func (e *Engine) createDeposit(ctx context.Context, op *operation, user *model.User, source string, eligibility Eligibility, ageAtRegistration *int, policy Policy) (*model.Deposit, error) {
	granted, err := GetGrantedDeposit(user, eligibility, ageAtRegistration, policy, op.now)
	if err != nil {
		return nil, err
	}
	if user.DepositOfType(granted.Type) != nil {
		return nil, fmt.Errorf("%w: %s", ErrDepositTypeAlreadyGranted, granted.Type)
	}
	if user.ActiveDeposit(op.now) != nil {
		return nil, ErrUserHasAlreadyActiveDeposit
	}

	deposit, err := e.persistDeposit(ctx, op, user, granted, source)
	if err != nil {
		return nil, err
	}

	// Регистрация могла быть до дня рождения: пополнения за прошедшие возрасты выдаются сразу.
	registeredAt := registrationDate(user, deposit, ageAtRegistration)
	switch deposit.Type {
	case model.DepositTypeGrant15To17:
		if _, err := e.recreditUnderage(ctx, op, user, deposit, registeredAt); err != nil {
			return nil, err
		}
	case model.DepositTypeGrant17To18:
		if _, err := e.recredit17To18(ctx, op, user, deposit, registeredAt); err != nil {
			return nil, err
		}
	}
	return deposit, nil
}

func (e *Engine) persistDeposit(ctx context.Context, op *operation, user *model.User, granted *GrantedDeposit, source string) (*model.Deposit, error) {
	expiration := granted.ExpirationDate
	d := model.Deposit{
		UserID:         user.ID,
		Type:           granted.Type,
		Version:        granted.Version,
		Amount:         granted.Amount,
		ExpirationDate: &expiration,
		DateCreated:    op.now,
		Source:         source,
	}
	if err := op.tx.CreateDeposit(ctx, &d); err != nil {
		return nil, err
	}
	metrics.DepositsCreated.WithLabelValues(string(d.Type)).Inc()
	e.logger.Info("deposit created",
		zap.Int64("userID", user.ID),
		zap.Int64("depositID", d.ID),
		zap.String("type", string(d.Type)),
		zap.String("amount", d.Amount.String()))

	user.Deposits = append(user.Deposits, d)
	return &user.Deposits[len(user.Deposits)-1], nil
}

// transferDeposit заменяет депозит 15-17 депозитом 17-18 и переносит на него остаток средств
// и бронирования, которые ещё можно отменить с возвратом.
func (e *Engine) transferDeposit(ctx context.Context, op *operation, user *model.User, old *model.Deposit, source string) (*model.Deposit, error) {
	bookings, err := op.tx.ListBookingsByDeposit(ctx, old.ID)
	if err != nil {
		return nil, err
	}

	spent := decimal.Zero
	moved := decimal.Zero
	var movedIDs []int64
	for _, b := range bookings {
		if b.Status == model.BookingStatusCancelled {
			continue
		}
		spent = spent.Add(b.TotalAmount())
		if b.IsCancellableAndReimbursable() {
			moved = moved.Add(b.TotalAmount())
			movedIDs = append(movedIDs, b.ID)
		}
	}
	remaining := decimal.Max(old.Amount.Sub(spent), decimal.Zero)

	oldID := old.ID
	expiration := op.now
	old.ExpirationDate = &expiration
	if err := op.tx.UpdateDeposit(ctx, old); err != nil {
		return nil, err
	}

	deposit, err := e.persistDeposit(ctx, op, user, grant17To18(user), source)
	if err != nil {
		return nil, err
	}

	if err := op.tx.MoveBookingsToDeposit(ctx, movedIDs, deposit.ID); err != nil {
		return nil, err
	}

	transferred := remaining.Add(moved)
	if transferred.IsPositive() {
		comment := fmt.Sprintf("transfer from deposit %d", oldID)
		if _, err := e.issueRecredit(ctx, op, deposit, model.RecreditTypePreviousDeposit, transferred, comment); err != nil {
			return nil, err
		}
	}

	e.logger.Info("deposit transferred",
		zap.Int64("userID", user.ID),
		zap.Int64("fromDepositID", oldID),
		zap.Int64("toDepositID", deposit.ID),
		zap.String("amount", transferred.String()),
		zap.Int64s("bookingIDs", movedIDs))

	if _, err := e.recredit17To18(ctx, op, user, deposit, registrationDate(user, deposit, nil)); err != nil {
		return nil, err
	}
	return deposit, nil
}

// RecreditForFinanceIncident пополняет действующий депозит после финансового инцидента.
func (e *Engine) RecreditForFinanceIncident(ctx context.Context, userID int64, amount decimal.Decimal, comment string) (*model.Recredit, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var recredit *model.Recredit
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := tx.LockUsers(ctx, []int64{userID}); err != nil {
			return err
		}
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		op := &operation{tx: tx, now: e.now()}
		active := user.ActiveDeposit(op.now)
		if active == nil {
			return fmt.Errorf("%w: user %d has no active deposit", ErrUserCannotBeRecredited, userID)
		}
		recredit, err = e.issueRecredit(ctx, op, active, model.RecreditTypeFinanceIncident, amount, comment)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.notify(ctx, userID, []model.Recredit{*recredit})
	return recredit, nil
}

func (e *Engine) notify(ctx context.Context, userID int64, recredits []model.Recredit) {
	if e.notifier == nil {
		return
	}
	for _, r := range recredits {
		if err := e.notifier.DepositRecredited(ctx, userID, r); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			e.logger.Warn("failed to send recredit notification",
				zap.Int64("userID", userID), zap.Int64("recreditID", r.ID), zap.Error(err))
		}
	}
}
