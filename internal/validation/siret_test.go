package validation

import "testing"

func TestIsValidSiret(t *testing.T) {
	tests := []struct {
		name  string
		siret string
		valid bool
	}{
		{
			name:  "valid siret",
			siret: "73282932000074",
			valid: true,
		},
		{
			name:  "another valid siret",
			siret: "44306184100047",
			valid: true,
		},
		{
			name:  "invalid checksum",
			siret: "12345678901234",
			valid: false,
		},
		{
			name:  "too short",
			siret: "7328293200007",
			valid: false,
		},
		{
			name:  "contains letters",
			siret: "7328293200007a",
			valid: false,
		},
		{
			name:  "empty string",
			siret: "",
			valid: false,
		},
		{
			name:  "la poste head office uses luhn",
			siret: "35600000000048",
			valid: true,
		},
		{
			name:  "la poste establishment with digit sum multiple of 5",
			siret: "35600000049837",
			valid: true,
		},
		{
			name:  "la poste establishment with wrong digit sum",
			siret: "35600000012345",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidSiret(tt.siret)
			if got != tt.valid {
				t.Fatalf("IsValidSiret(%q) = %v, want %v", tt.siret, got, tt.valid)
			}
		})
	}
}
