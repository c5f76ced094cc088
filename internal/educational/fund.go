package educational

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/passculture/pass-culture-core/internal/model"
)

// temporaryFundAvailableRatio - доля предварительного (не окончательного) фонда, доступная для бронирований.
var temporaryFundAvailableRatio = decimal.RequireFromString("0.8")

// CheckHasEnoughFund проверяет, что фонд покрывает уже потраченную сумму spent вместе с amount.
func CheckHasEnoughFund(d *model.EducationalDeposit, spent, amount decimal.Decimal) error {
	total := spent.Add(amount)
	if d.IsFinal {
		if d.Amount.LessThan(total) {
			return fmt.Errorf("%w: deposit %d has %s, needs %s", ErrInsufficientFund, d.ID, d.Amount, total)
		}
		return nil
	}

	available := d.Amount.Mul(temporaryFundAvailableRatio)
	if available.LessThan(total) {
		return fmt.Errorf("%w: deposit %d has %s available, needs %s", ErrInsufficientTemporaryFund, d.ID, available, total)
	}
	return nil
}
