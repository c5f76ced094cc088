package deposit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/passculture/pass-culture-core/internal/metrics"
	"github.com/passculture/pass-culture-core/internal/model"
	"github.com/passculture/pass-culture-core/internal/repository"
)

// recredit выбирает правило пополнения по типу депозита и регламенту. Возвращает последнее
// созданное пополнение или nil, если пополнять нечего.
func (e *Engine) recredit(ctx context.Context, op *operation, user *model.User, deposit *model.Deposit, policy Policy) (*model.Recredit, error) {
	switch deposit.Type {
	case model.DepositTypeGrant15To17:
		if policy == PolicyV3 && user.AgeAt(op.now) == 16 && model.Birthday(user.BirthDate, 16).After(e.cfg.DecreeDatetime) {
			e.logger.Info("underage recredit refused after decree",
				zap.Int64("userID", user.ID), zap.Int64("depositID", deposit.ID))
			return nil, nil
		}
		return e.recreditUnderage(ctx, op, user, deposit, registrationDate(user, deposit, nil))
	case model.DepositTypeGrant17To18:
		return e.recredit17To18(ctx, op, user, deposit, registrationDate(user, deposit, nil))
	}
	return nil, nil
}

// registrationDate - момент, с которого отсчитываются пополнения депозита: дата регистрации
// пользователя, иначе день рождения ageAtRegistration (если он раньше создания депозита), иначе
// дата создания депозита.
func registrationDate(user *model.User, deposit *model.Deposit, ageAtRegistration *int) time.Time {
	if user.EligibilityRegisteredAt != nil {
		return *user.EligibilityRegisteredAt
	}
	if ageAtRegistration != nil {
		if birthday := model.Birthday(user.BirthDate, *ageAtRegistration); birthday.Before(deposit.DateCreated) {
			return birthday
		}
	}
	return deposit.DateCreated
}

func lastAgeRecreditDate(deposit *model.Deposit) *time.Time {
	var last *time.Time
	for i := range deposit.Recredits {
		r := &deposit.Recredits[i]
		if !slices.Contains([]model.RecreditType{model.RecreditType16, model.RecreditType17, model.RecreditType18}, r.Type) {
			continue
		}
		if last == nil || r.DateCreated.After(*last) {
			last = &r.DateCreated
		}
	}
	return last
}

// hasCelebratedBirthdaySince сообщает, был ли день рождения после момента since и после последнего
// возрастного пополнения.
func hasCelebratedBirthdaySince(user *model.User, deposit *model.Deposit, since, now time.Time) bool {
	if last := lastAgeRecreditDate(deposit); last != nil && last.After(since) {
		since = *last
	}
	return since.Before(model.LastBirthday(user.BirthDate, now))
}

// recreditUnderage пополняет депозит 15-17 за каждый возраст, наступивший после регистрации.
func (e *Engine) recreditUnderage(ctx context.Context, op *operation, user *model.User, deposit *model.Deposit, registeredAt time.Time) (*model.Recredit, error) {
	if !hasCelebratedBirthdaySince(user, deposit, registeredAt, op.now) {
		return nil, nil
	}

	var last *model.Recredit
	start := model.AgeAt(user.BirthDate, registeredAt) + 1
	for age := start; age <= user.AgeAt(op.now); age++ {
		amount, ok := underageRecreditAmounts[age]
		if !ok {
			continue
		}
		recreditType := recreditTypeByAge[age]
		if deposit.HasRecredit(recreditType) {
			continue
		}
		r, err := e.issueRecredit(ctx, op, deposit, recreditType, amount, "")
		if err != nil {
			return nil, err
		}
		last = r
	}
	return last, nil
}

// recredit17To18 пополняет депозит 17-18 за каждый возраст от регистрации до текущего. Каждый возраст
// проверяется отдельно, поэтому пропущенные запуски не теряют пополнений.
func (e *Engine) recredit17To18(ctx context.Context, op *operation, user *model.User, deposit *model.Deposit, registeredAt time.Time) (*model.Recredit, error) {
	var last *model.Recredit
	start := model.AgeAt(user.BirthDate, registeredAt)
	end := min(user.AgeAt(op.now), 18)
	for age := start; age <= end; age++ {
		amount, ok := grant17To18RecreditAmounts[age]
		if !ok || amount.IsZero() {
			continue
		}
		recreditType := recreditTypeByAge[age]
		if deposit.HasRecredit(recreditType) {
			continue
		}
		r, err := e.issueRecredit(ctx, op, deposit, recreditType, amount, "")
		if err != nil {
			return nil, err
		}
		last = r
	}
	return last, nil
}

func (e *Engine) issueRecredit(ctx context.Context, op *operation, deposit *model.Deposit, recreditType model.RecreditType, amount decimal.Decimal, comment string) (*model.Recredit, error) {
	r := model.Recredit{
		DepositID:   deposit.ID,
		Type:        recreditType,
		Amount:      amount,
		DateCreated: op.now,
		Comment:     comment,
	}
	if err := op.tx.CreateRecredit(ctx, &r); err != nil {
		return nil, err
	}

	deposit.Amount = deposit.Amount.Add(amount)
	if err := op.tx.UpdateDeposit(ctx, deposit); err != nil {
		return nil, err
	}
	deposit.Recredits = append(deposit.Recredits, r)
	op.recredits = append(op.recredits, r)

	metrics.RecreditsIssued.WithLabelValues(string(recreditType)).Inc()
	e.logger.Info("deposit recredited",
		zap.Int64("depositID", deposit.ID),
		zap.String("type", string(recreditType)),
		zap.String("amount", amount.String()))
	return &r, nil
}

// RecreditResult - итог пакетного пополнения.
type RecreditResult struct {
	Recredited int
	Skipped    int
	Failed     []int64
}

// candidateWindow возвращает роли и интервал дат рождения (bornAfter, bornBefore] пользователей,
// которым по регламенту могут быть положены пополнения.
func candidateWindow(policy Policy, now time.Time) ([]model.UserRole, time.Time, time.Time) {
	if policy == PolicyV3 {
		return []model.UserRole{model.UserRoleUnderageBeneficiary, model.UserRoleBeneficiary},
			now.AddDate(-19, 0, 0), now.AddDate(-17, 0, 0)
	}
	return []model.UserRole{model.UserRoleUnderageBeneficiary}, now.AddDate(-18, 0, 0), now.AddDate(-16, 0, 0)
}

// RecreditUsers пополняет депозиты всех пользователей в возрастном окне действующего регламента.
// Пользователи обрабатываются пакетами, каждый пакет в своей транзакции с блокировкой строк пользователей.
func (e *Engine) RecreditUsers(ctx context.Context) (RecreditResult, error) {
	runID := uuid.NewString()
	now := e.now()
	policy := e.Policy(now)
	roles, bornAfter, bornBefore := candidateWindow(policy, now)

	var ids []int64
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		ids, err = tx.ListRecreditCandidates(ctx, roles, bornAfter, bornBefore)
		return err
	})
	if err != nil {
		return RecreditResult{}, fmt.Errorf("list recredit candidates: %w", err)
	}

	logger := e.logger.With(zap.String("runID", runID), zap.Stringer("policy", policy))
	logger.Info("recredit run started", zap.Int("users", len(ids)))

	var total RecreditResult
	for batch := range slices.Chunk(ids, e.cfg.BatchSize) {
		res, err := e.RecreditUsersByID(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			logger.Error("recredit batch failed", zap.Int64s("userIDs", batch), zap.Error(err))
			total.Failed = append(total.Failed, batch...)
			metrics.RecreditFailures.Add(float64(len(batch)))
			continue
		}
		total.Recredited += res.Recredited
		total.Skipped += res.Skipped
		total.Failed = append(total.Failed, res.Failed...)
	}

	logger.Info("recredit run finished",
		zap.Int("recredited", total.Recredited),
		zap.Int("skipped", total.Skipped),
		zap.Int64s("failed", total.Failed))
	return total, nil
}

// RecreditUsersByID пополняет депозиты пользователей одного пакета в одной транзакции.
// Ошибка по пользователю откатывает только его изменения и не прерывает пакет.
func (e *Engine) RecreditUsersByID(ctx context.Context, ids []int64) (RecreditResult, error) {
	type userRecredits struct {
		userID    int64
		recredits []model.Recredit
	}

	var (
		res    RecreditResult
		issued []userRecredits
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		res = RecreditResult{}
		issued = nil

		if err := tx.LockUsers(ctx, ids); err != nil {
			return err
		}
		now := e.now()
		policy := e.Policy(now)

		for _, id := range ids {
			op := &operation{now: now}
			var recredited bool
			err := tx.Savepoint(ctx, func(ctx context.Context, sp repository.Tx) error {
				op.tx = sp
				user, err := sp.GetUser(ctx, id)
				if err != nil {
					return err
				}
				recredited, err = e.recreditUser(ctx, op, user, policy)
				return err
			})
			switch {
			case errors.Is(err, ErrUserHasNotFinishedSubscription):
				res.Skipped++
			case err != nil:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				e.logger.Error("failed to recredit user", zap.Int64("userID", id), zap.Error(err))
				metrics.RecreditFailures.Inc()
				res.Failed = append(res.Failed, id)
			case recredited:
				res.Recredited++
				issued = append(issued, userRecredits{userID: id, recredits: op.recredits})
			default:
				res.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return RecreditResult{}, err
	}

	for _, u := range issued {
		e.notify(ctx, u.userID, u.recredits)
	}
	return res, nil
}

// recreditUser пополняет действующий депозит пользователя. Под v3 держатель депозита 15-17,
// которому исполнилось 17, переводится на депозит 17-18.
func (e *Engine) recreditUser(ctx context.Context, op *operation, user *model.User, policy Policy) (bool, error) {
	deposit := user.ActiveDeposit(op.now)
	if deposit == nil {
		return false, nil
	}
	if user.HasPendingSubscriptionSteps {
		return false, ErrUserHasNotFinishedSubscription
	}

	if needsTransfer(user, deposit, policy, op.now) {
		if _, err := e.transferDeposit(ctx, op, user, deposit, "recredit transfer"); err != nil {
			return false, err
		}
		return true, nil
	}

	r, err := e.recredit(ctx, op, user, deposit, policy)
	if err != nil {
		return false, err
	}
	return r != nil, nil
}
