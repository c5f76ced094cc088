// Package validation содержит функции валидации идентификаторов.
package validation

import "unicode"

const (
	siretLength = 14
	// SIREN La Poste: её SIRET не проходят проверку Луна, вместо неё сумма цифр кратна 5.
	laPosteSiren = "356000000"
)

// IsValidSiret проверяет SIRET финансовой единицы: 14 цифр и контрольная сумма по алгоритму Луна.
func IsValidSiret(siret string) bool {
	if len(siret) != siretLength {
		return false
	}
	if siret[:len(laPosteSiren)] == laPosteSiren && siret != laPosteSiren+"00048" {
		return digitSum(siret)%5 == 0
	}
	return isValidLuhn(siret)
}

func isValidLuhn(number string) bool {
	if number == "" {
		return false
	}

	sum := 0
	double := false

	for i := len(number) - 1; i >= 0; i-- {
		ch := rune(number[i])
		if !unicode.IsDigit(ch) {
			return false
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return sum%10 == 0
}

func digitSum(number string) int {
	sum := 0
	for _, ch := range number {
		if !unicode.IsDigit(ch) {
			return -1
		}
		sum += int(ch - '0')
	}
	return sum
}
