package deposit

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passculture/pass-culture-core/internal/model"
	"github.com/passculture/pass-culture-core/internal/repository"
	"github.com/passculture/pass-culture-core/internal/repository/repositorytest"
)

func TestRecreditUsers_V2(t *testing.T) {
	store := repository.NewMemory()
	underage := []model.UserRole{model.UserRoleUnderageBeneficiary}

	birthA := date(2008, 3, 1)
	userA := repositorytest.AddUser(t, store, model.User{
		BirthDate: birthA,
		Roles:     underage,
		Deposits:  []model.Deposit{underageDeposit(0, birthA, date(2023, 6, 1), 20)},
	})

	birthB := date(2007, 3, 1)
	repositorytest.AddUser(t, store, model.User{
		BirthDate:                   birthB,
		Roles:                       underage,
		HasPendingSubscriptionSteps: true,
		Deposits:                    []model.Deposit{underageDeposit(0, birthB, date(2022, 6, 1), 20)},
	})

	birthC := date(2007, 5, 1)
	repositorytest.AddUser(t, store, model.User{
		BirthDate: birthC,
		Roles:     underage,
		Deposits: []model.Deposit{underageDeposit(0, birthC, date(2022, 6, 1), 80,
			model.Recredit{Type: model.RecreditType16, Amount: decimal.NewFromInt(30), DateCreated: date(2023, 5, 2)},
			model.Recredit{Type: model.RecreditType17, Amount: decimal.NewFromInt(30), DateCreated: date(2024, 5, 2)},
		)},
	})

	birthD := date(2010, 1, 1)
	repositorytest.AddUser(t, store, model.User{
		BirthDate: birthD,
		Roles:     underage,
		Deposits:  []model.Deposit{underageDeposit(0, birthD, date(2025, 1, 2), 20)},
	})

	repositorytest.AddUser(t, store, model.User{
		BirthDate: date(2008, 1, 1),
		Roles:     []model.UserRole{model.UserRoleBeneficiary},
	})

	e, n := newTestEngine(t, store, false, date(2024, 6, 15))

	res, err := e.RecreditUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Recredited)
	assert.Equal(t, 2, res.Skipped)
	assert.Empty(t, res.Failed)
	require.Len(t, n.recredits, 1)
	assert.Equal(t, model.RecreditType16, n.recredits[0].Type)

	u := loadUser(t, e, userA)
	assert.True(t, decimal.NewFromInt(50).Equal(u.Deposits[0].Amount))

	res, err = e.RecreditUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Recredited)
	assert.Equal(t, 3, res.Skipped)

	u = loadUser(t, e, userA)
	assert.Len(t, u.Deposits[0].Recredits, 1)
	assert.True(t, decimal.NewFromInt(50).Equal(u.Deposits[0].Amount))
}

func TestRecreditUsersByID_IsolatesFailures(t *testing.T) {
	store := repository.NewMemory()
	birth := date(2008, 3, 1)
	userID := repositorytest.AddUser(t, store, model.User{
		BirthDate: birth,
		Roles:     []model.UserRole{model.UserRoleUnderageBeneficiary},
		Deposits:  []model.Deposit{underageDeposit(0, birth, date(2023, 6, 1), 20)},
	})

	e, _ := newTestEngine(t, store, false, date(2024, 6, 15))

	res, err := e.RecreditUsersByID(context.Background(), []int64{999, userID})
	require.NoError(t, err)
	assert.Equal(t, []int64{999}, res.Failed)
	assert.Equal(t, 1, res.Recredited)

	u := loadUser(t, e, userID)
	assert.True(t, decimal.NewFromInt(50).Equal(u.Deposits[0].Amount))
}

func TestRecreditUsers_V3TransfersSeventeenYearOlds(t *testing.T) {
	store := repository.NewMemory()
	birth := date(2008, 3, 1)
	userID := repositorytest.AddUser(t, store, model.User{
		BirthDate:               birth,
		Roles:                   []model.UserRole{model.UserRoleUnderageBeneficiary},
		EligibilityRegisteredAt: ptr(date(2024, 6, 1)),
		Deposits:                []model.Deposit{underageDeposit(0, birth, date(2024, 6, 1), 30)},
	})

	e, _ := newTestEngine(t, store, true, date(2025, 6, 15))

	res, err := e.RecreditUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Recredited)

	u := loadUser(t, e, userID)
	active := u.ActiveDeposit(date(2025, 6, 15))
	require.NotNil(t, active)
	assert.Equal(t, model.DepositTypeGrant17To18, active.Type)
	// 30 € остатка + 50 € за 17 лет.
	assert.True(t, decimal.NewFromInt(80).Equal(active.Amount), "amount %s", active.Amount)

	res, err = e.RecreditUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Recredited)

	u = loadUser(t, e, userID)
	active = u.ActiveDeposit(date(2025, 6, 15))
	assert.True(t, decimal.NewFromInt(80).Equal(active.Amount))
}
