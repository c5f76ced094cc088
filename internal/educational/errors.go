package educational

import "errors"

var (
	ErrCollectiveBookingAlreadyCancelled = errors.New("collective booking is already cancelled")
	ErrCollectiveBookingIsAlreadyUsed    = errors.New("collective booking is already used")
	ErrCollectiveBookingNotCancelled     = errors.New("collective booking is not cancelled")
	ErrConfirmationLimitDateHasPassed    = errors.New("confirmation limit date has passed")
	ErrInsufficientFund                  = errors.New("insufficient fund")
	ErrInsufficientTemporaryFund         = errors.New("insufficient temporary fund")
	ErrEducationalDepositNotFound        = errors.New("educational deposit not found")
	// ErrInvalidTransition - переход отсутствует в таблице конечного автомата.
	ErrInvalidTransition = errors.New("invalid collective booking transition")
	// ErrUnknownStatus - комбинация полей предложения не покрыта выводом отображаемого статуса.
	ErrUnknownStatus = errors.New("no displayed status matches offer state")
)
