package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositType описывает вид депозита бенефициара.
type DepositType string

const (
	DepositTypeGrant15To17 DepositType = "GRANT_15_17"
	DepositTypeGrant18     DepositType = "GRANT_18"
	DepositTypeGrant17To18 DepositType = "GRANT_17_18"
)

// RecreditType описывает причину пополнения депозита.
type RecreditType string

const (
	RecreditType16              RecreditType = "RECREDIT_16"
	RecreditType17              RecreditType = "RECREDIT_17"
	RecreditType18              RecreditType = "RECREDIT_18"
	RecreditTypePreviousDeposit RecreditType = "PREVIOUS_DEPOSIT"
	RecreditTypeFinanceIncident RecreditType = "FINANCE_INCIDENT_RECREDIT"
)

// Deposit - кредит, выданный бенефициару. Сумма только растёт за счёт пополнений.
type Deposit struct {
	ID             int64
	UserID         int64
	Type           DepositType
	Version        int
	Amount         decimal.Decimal
	ExpirationDate *time.Time
	DateCreated    time.Time
	Source         string
	Recredits      []Recredit
}

// IsActive сообщает, действует ли депозит в момент now.
func (d *Deposit) IsActive(now time.Time) bool {
	return d.ExpirationDate == nil || d.ExpirationDate.After(now)
}

// HasRecredit сообщает, было ли уже пополнение указанного типа.
func (d *Deposit) HasRecredit(t RecreditType) bool {
	for _, r := range d.Recredits {
		if r.Type == t {
			return true
		}
	}
	return false
}

// LastRecreditDate возвращает дату последнего пополнения или nil.
func (d *Deposit) LastRecreditDate() *time.Time {
	var last *time.Time
	for i := range d.Recredits {
		if last == nil || d.Recredits[i].DateCreated.After(*last) {
			last = &d.Recredits[i].DateCreated
		}
	}
	return last
}

// Recredit - неизменяемая запись о пополнении депозита.
type Recredit struct {
	ID          int64
	DepositID   int64
	Type        RecreditType
	Amount      decimal.Decimal
	DateCreated time.Time
	Comment     string
}
