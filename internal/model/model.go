// Package model содержит доменные сущности ядра pass Culture.
package model

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// UserRole описывает роль пользователя на платформе.
type UserRole string

const (
	UserRoleBeneficiary         UserRole = "BENEFICIARY"
	UserRoleUnderageBeneficiary UserRole = "UNDERAGE_BENEFICIARY"
)

// User представляет бенефициара вместе с историей его депозитов.
type User struct {
	ID        int64
	BirthDate time.Time
	Roles     []UserRole
	// EligibilityRegisteredAt - момент первой регистрации пользователя в статусе eligible.
	EligibilityRegisteredAt     *time.Time
	HasPendingSubscriptionSteps bool
	Deposits                    []Deposit
}

// HasRole сообщает, есть ли у пользователя указанная роль.
func (u *User) HasRole(role UserRole) bool {
	return slices.Contains(u.Roles, role)
}

// AgeAt возвращает полное число лет пользователя в момент at.
func (u *User) AgeAt(at time.Time) int {
	return AgeAt(u.BirthDate, at)
}

// ActiveDeposit возвращает действующий (не истёкший) депозит или nil.
func (u *User) ActiveDeposit(now time.Time) *Deposit {
	for i := range u.Deposits {
		if u.Deposits[i].IsActive(now) {
			return &u.Deposits[i]
		}
	}
	return nil
}

// DepositOfType возвращает депозит указанного типа, если он когда-либо выдавался.
func (u *User) DepositOfType(t DepositType) *Deposit {
	for i := range u.Deposits {
		if u.Deposits[i].Type == t {
			return &u.Deposits[i]
		}
	}
	return nil
}

// AgeAt вычисляет полное число лет для даты рождения birth в момент at.
func AgeAt(birth, at time.Time) int {
	birth = birth.UTC()
	at = at.UTC()
	age := at.Year() - birth.Year()
	if at.Month() < birth.Month() || (at.Month() == birth.Month() && at.Day() < birth.Day()) {
		age--
	}
	return age
}

// Birthday возвращает момент (полночь UTC), когда человеку с датой рождения birth исполняется age лет.
func Birthday(birth time.Time, age int) time.Time {
	b := birth.UTC()
	return time.Date(b.Year()+age, b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
}

// LastBirthday возвращает последний день рождения, наступивший не позже at.
func LastBirthday(birth, at time.Time) time.Time {
	return Birthday(birth, AgeAt(birth, at))
}

// BookingStatus описывает статус индивидуального бронирования.
type BookingStatus string

const (
	BookingStatusConfirmed  BookingStatus = "CONFIRMED"
	BookingStatusUsed       BookingStatus = "USED"
	BookingStatusCancelled  BookingStatus = "CANCELLED"
	BookingStatusReimbursed BookingStatus = "REIMBURSED"
)

// BusinessUnit - финансовая единица, к которой привязываются расчёты (pricing).
type BusinessUnit struct {
	ID    int64
	Name  string
	Siret string
}

// Booking описывает индивидуальное бронирование бенефициара.
type Booking struct {
	ID          int64
	UserID      int64
	DepositID   *int64
	OfferID     int64
	VenueID     int64
	OffererID   int64
	Subcategory string
	IsDigital   bool
	Amount      decimal.Decimal
	Quantity    int
	Status      BookingStatus
	DateCreated time.Time
	DateUsed    *time.Time
	// BusinessUnit заполняется из площадки (venue) бронирования, если она привязана к финансовой единице.
	BusinessUnit *BusinessUnit
}

// TotalAmount возвращает полную стоимость бронирования в евро.
func (b Booking) TotalAmount() decimal.Decimal {
	return b.Amount.Mul(decimal.NewFromInt(int64(b.Quantity)))
}

// IsCancellableAndReimbursable сообщает, можно ли ещё отменить бронирование с возвратом средств на депозит.
func (b Booking) IsCancellableAndReimbursable() bool {
	return b.Status == BookingStatusConfirmed
}

// BusinessUnitID возвращает идентификатор финансовой единицы бронирования или nil.
func (b Booking) BusinessUnitID() *int64 {
	if b.BusinessUnit == nil {
		return nil
	}
	id := b.BusinessUnit.ID
	return &id
}
