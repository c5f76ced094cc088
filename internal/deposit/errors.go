package deposit

import "errors"

var (
	// ErrUserNotGrantable - пользователю не положен депозит для указанной eligibility и возраста.
	ErrUserNotGrantable = errors.New("user is not grantable")
	// ErrUserHasAlreadyActiveDeposit - у пользователя уже есть действующий депозит.
	ErrUserHasAlreadyActiveDeposit = errors.New("user has already an active deposit")
	// ErrDepositTypeAlreadyGranted - депозит этого типа уже выдавался пользователю.
	ErrDepositTypeAlreadyGranted = errors.New("deposit type already granted")
	// ErrUserCannotBeRecredited - пополнение не требуется или запрещено.
	ErrUserCannotBeRecredited = errors.New("user cannot be recredited")
	// ErrUserHasNotFinishedSubscription - у пользователя остались незавершённые шаги регистрации.
	ErrUserHasNotFinishedSubscription = errors.New("user has not finished subscription")
	// ErrInvalidAmount - сумма ручного пополнения должна быть положительной.
	ErrInvalidAmount = errors.New("recredit amount must be positive")
)
