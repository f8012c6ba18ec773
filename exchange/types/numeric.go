package types

import (
	"strings"

	"cosmossdk.io/errors"
	"cosmossdk.io/math"
)

// ParseDec parses a wire decimal string into a LegacyDec. Plain and
// fractional decimal notation only; no exponents, no floats anywhere in
// the data path.
func ParseDec(s string) (math.LegacyDec, error) {
	d, err := math.LegacyNewDecFromStr(strings.TrimSpace(s))
	if err != nil {
		return math.LegacyDec{}, errors.Wrapf(ErrInvalidNumber, "%q", s)
	}
	return d, nil
}

// FormatDec renders a LegacyDec for the wire with trailing fractional
// zeros removed, so stored values round-trip the way clients wrote them
// ("125" rather than "125.000000000000000000").
func FormatDec(d math.LegacyDec) string {
	s := d.String()
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// ValidateAccountID enforces the account id grammar: one or more
// base-10 digits.
func ValidateAccountID(id string) error {
	if len(id) == 0 {
		return ErrInvalidAccountID
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return ErrInvalidAccountID
		}
	}
	return nil
}
