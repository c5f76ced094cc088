package finance

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/passculture/pass-culture-core/internal/model"
)

// Подкатегории цифровых предложений, которые всё же возмещаются.
var reimbursableDigitalSubcategories = []string{
	"LIVRE_NUMERIQUE",
	"ABO_LIVRE_NUMERIQUE",
	"SPECTACLE_VENTE_DISTANCE",
	"ABO_PRESSE_EN_LIGNE",
}

var bookSubcategories = []string{
	"LIVRE_PAPIER",
	"LIVRE_NUMERIQUE",
	"LIVRE_AUDIO_PHYSIQUE",
}

// Rule - правило возмещения, применённое к бронированию. Стандартное правило задаётся описанием,
// особое - идентификатором.
type Rule struct {
	Description  string
	CustomRuleID *int64
	rate         decimal.Decimal
	// amountPerUnit задан только у особых правил с фиксированной суммой.
	amountPerUnit *decimal.Decimal
}

// Apply возвращает сумму возмещения за бронирование в евро.
func (r Rule) Apply(b model.Booking) decimal.Decimal {
	if r.amountPerUnit != nil {
		return r.amountPerUnit.Mul(decimal.NewFromInt(int64(b.Quantity)))
	}
	return b.TotalAmount().Mul(r.rate)
}

// Rate возвращает долю возмещения; для правил с фиксированной суммой - ноль.
func (r Rule) Rate() decimal.Decimal {
	return r.rate
}

type standardRule struct {
	description string
	rate        decimal.Decimal
	matches     func(b model.Booking, revenue decimal.Decimal) bool
}

func isBook(b model.Booking) bool {
	return slices.Contains(bookSubcategories, b.Subcategory)
}

func isNotReimbursed(b model.Booking) bool {
	return b.IsDigital && !slices.Contains(reimbursableDigitalSubcategories, b.Subcategory)
}

func revenueBetween(low, high int64) func(decimal.Decimal) bool {
	lo, hi := decimal.NewFromInt(low), decimal.NewFromInt(high)
	return func(revenue decimal.Decimal) bool {
		return revenue.GreaterThan(lo) && revenue.LessThanOrEqual(hi)
	}
}

var (
	revenueUpTo20k   = func(r decimal.Decimal) bool { return r.LessThanOrEqual(decimal.NewFromInt(20_000)) }
	revenue20kTo40k  = revenueBetween(20_000, 40_000)
	revenue40kTo150k = revenueBetween(40_000, 150_000)
	revenueAbove20k  = func(r decimal.Decimal) bool { return r.GreaterThan(decimal.NewFromInt(20_000)) }
	revenueAbove150k = func(r decimal.Decimal) bool { return r.GreaterThan(decimal.NewFromInt(150_000)) }
)

// Стандартные правила проверяются по порядку, применяется первое подходящее. Выручка - в евро.
var standardRules = []standardRule{
	{
		description: "Pas de remboursement pour les offres digitales",
		rate:        decimal.Zero,
		matches: func(b model.Booking, _ decimal.Decimal) bool {
			return isNotReimbursed(b)
		},
	},
	{
		description: "Remboursement total pour les offres physiques",
		rate:        decimal.NewFromInt(1),
		matches: func(b model.Booking, revenue decimal.Decimal) bool {
			return revenueUpTo20k(revenue)
		},
	},
	{
		description: "Remboursement à 95% au dessus de 20 000 € pour les livres",
		rate:        decimal.RequireFromString("0.95"),
		matches: func(b model.Booking, revenue decimal.Decimal) bool {
			return isBook(b) && revenueAbove20k(revenue)
		},
	},
	{
		description: "Remboursement à 95% entre 20 000 € et 40 000 € par lieu",
		rate:        decimal.RequireFromString("0.95"),
		matches: func(b model.Booking, revenue decimal.Decimal) bool {
			return revenue20kTo40k(revenue)
		},
	},
	{
		description: "Remboursement à 92% entre 40 000 € et 150 000 € par lieu",
		rate:        decimal.RequireFromString("0.92"),
		matches: func(b model.Booking, revenue decimal.Decimal) bool {
			return revenue40kTo150k(revenue)
		},
	},
	{
		description: "Remboursement à 90% au dessus de 150 000 € par lieu",
		rate:        decimal.RequireFromString("0.90"),
		matches: func(b model.Booking, revenue decimal.Decimal) bool {
			return revenueAbove150k(revenue)
		},
	},
}

// customRuleApplies сообщает, действует ли особое правило для бронирования, использованного в момент at.
func customRuleApplies(r model.CustomReimbursementRule, b model.Booking, at time.Time) bool {
	if at.Before(r.TimespanStart) || (r.TimespanEnd != nil && !at.Before(*r.TimespanEnd)) {
		return false
	}
	return len(r.Subcategories) == 0 || slices.Contains(r.Subcategories, b.Subcategory)
}

// customRulePriority: правило предложения важнее правила площадки, а оно важнее правила организации.
func customRulePriority(r model.CustomReimbursementRule, b model.Booking) int {
	switch {
	case r.OfferID != nil && *r.OfferID == b.OfferID:
		return 0
	case r.VenueID != nil && *r.VenueID == b.VenueID:
		return 1
	case r.OffererID != nil && *r.OffererID == b.OffererID:
		return 2
	}
	return -1
}

// ResolveRule выбирает правило возмещения: сначала особые правила, затем стандартные по выручке
// финансовой единицы в евро.
func ResolveRule(b model.Booking, customRules []model.CustomReimbursementRule, revenue decimal.Decimal) Rule {
	at := b.DateCreated
	if b.DateUsed != nil {
		at = *b.DateUsed
	}

	var (
		best     *model.CustomReimbursementRule
		bestPrio int
	)
	for i := range customRules {
		r := &customRules[i]
		prio := customRulePriority(*r, b)
		if prio < 0 || !customRuleApplies(*r, b, at) {
			continue
		}
		if best == nil || prio < bestPrio {
			best, bestPrio = r, prio
		}
	}
	if best != nil {
		id := best.ID
		rule := Rule{CustomRuleID: &id}
		if best.Amount != nil {
			perUnit := model.ToEuros(*best.Amount)
			rule.amountPerUnit = &perUnit
		} else if best.Rate != nil {
			rule.rate = *best.Rate
		}
		return rule
	}

	for _, s := range standardRules {
		if s.matches(b, revenue) {
			return Rule{Description: s.description, rate: s.rate}
		}
	}
	// Недостижимо: интервалы выручки покрывают всю ось.
	last := standardRules[len(standardRules)-1]
	return Rule{Description: last.description, rate: last.rate}
}
