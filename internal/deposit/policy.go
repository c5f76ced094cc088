// Package deposit реализует выдачу депозитов бенефициарам и их пополнение по возрасту.
package deposit

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/passculture/pass-culture-core/internal/model"
)

// Policy - действующий регламент выдачи и пополнения депозитов.
type Policy int

const (
	// PolicyV2: депозит 15-17 с пополнениями в 16 и 17 лет, отдельный депозит в 18 лет.
	PolicyV2 Policy = iota + 1
	// PolicyV3: единый депозит 17-18 с пополнениями в 17 и 18 лет.
	PolicyV3
)

func (p Policy) String() string {
	switch p {
	case PolicyV2:
		return "v2"
	case PolicyV3:
		return "v3"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ResolvePolicy выбирает регламент: v3 действует, только если он включён и декрет уже вступил в силу.
func ResolvePolicy(enableV3 bool, decree, now time.Time) Policy {
	if enableV3 && !now.Before(decree) {
		return PolicyV3
	}
	return PolicyV2
}

// Eligibility - основание, по которому пользователь получает депозит.
type Eligibility string

const (
	EligibilityUnderage  Eligibility = "UNDERAGE"
	EligibilityAge18     Eligibility = "AGE18"
	EligibilityAge17To18 Eligibility = "AGE17_18"
)

const (
	versionGrant15To17 = 1
	versionGrant18     = 2
	versionGrant17To18 = 3

	grant18Validity    = 2
	grant17To18EndsAge = 21
	underageEndsAge    = 18
)

var (
	// Сумма депозита 15-17 по возрасту на момент регистрации.
	underageGrantAmounts = map[int]decimal.Decimal{
		15: decimal.NewFromInt(20),
		16: decimal.NewFromInt(30),
		17: decimal.NewFromInt(30),
	}
	grant18Amount = decimal.NewFromInt(300)

	recreditTypeByAge = map[int]model.RecreditType{
		16: model.RecreditType16,
		17: model.RecreditType17,
		18: model.RecreditType18,
	}

	// Пополнения v2 для депозита 15-17.
	underageRecreditAmounts = map[int]decimal.Decimal{
		16: decimal.NewFromInt(30),
		17: decimal.NewFromInt(30),
	}

	// Пополнения v3 для депозита 17-18. Депозит создаётся пустым и наполняется только ими.
	grant17To18RecreditAmounts = map[int]decimal.Decimal{
		17: decimal.NewFromInt(50),
		18: decimal.NewFromInt(150),
	}
)

// GrantedDeposit - параметры депозита, который положено выдать. Не сохраняется сам по себе.
type GrantedDeposit struct {
	Amount         decimal.Decimal
	Type           model.DepositType
	Version        int
	ExpirationDate time.Time
}

// GetGrantedDeposit вычисляет депозит для пользователя по eligibility и возрасту на момент регистрации.
// ageAtRegistration учитывается только для eligibility UNDERAGE; nil означает текущий возраст.
func GetGrantedDeposit(user *model.User, eligibility Eligibility, ageAtRegistration *int, policy Policy, now time.Time) (*GrantedDeposit, error) {
	switch eligibility {
	case EligibilityUnderage:
		age := user.AgeAt(now)
		if ageAtRegistration != nil {
			age = *ageAtRegistration
		}
		amount, ok := underageGrantAmounts[age]
		if !ok {
			return nil, fmt.Errorf("%w: underage deposit at age %d", ErrUserNotGrantable, age)
		}
		return &GrantedDeposit{
			Amount:         amount,
			Type:           model.DepositTypeGrant15To17,
			Version:        versionGrant15To17,
			ExpirationDate: model.Birthday(user.BirthDate, underageEndsAge),
		}, nil

	case EligibilityAge18:
		if policy == PolicyV3 {
			return grant17To18(user), nil
		}
		return &GrantedDeposit{
			Amount:         grant18Amount,
			Type:           model.DepositTypeGrant18,
			Version:        versionGrant18,
			ExpirationDate: now.AddDate(grant18Validity, 0, 0),
		}, nil

	case EligibilityAge17To18:
		if policy != PolicyV3 {
			return nil, fmt.Errorf("%w: %s eligibility requires %s", ErrUserNotGrantable, eligibility, PolicyV3)
		}
		return grant17To18(user), nil
	}
	return nil, fmt.Errorf("%w: unknown eligibility %q", ErrUserNotGrantable, eligibility)
}

func grant17To18(user *model.User) *GrantedDeposit {
	return &GrantedDeposit{
		Amount:         decimal.Zero,
		Type:           model.DepositTypeGrant17To18,
		Version:        versionGrant17To18,
		ExpirationDate: model.Birthday(user.BirthDate, grant17To18EndsAge),
	}
}
