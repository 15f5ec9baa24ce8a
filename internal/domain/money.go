package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
)

var (
	// ErrInvalidAmount is returned when a decimal amount cannot be represented in minor units.
	ErrInvalidAmount = errors.New("money: invalid amount")
	// ErrUnknownCurrency is returned for codes outside ISO 4217.
	ErrUnknownCurrency = errors.New("money: unknown currency")
)

// CurrencyScale returns the number of minor-unit digits for an ISO 4217 code (USD=2, JPY=0).
func CurrencyScale(code string) (int, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale, nil
}

// NormalizeCurrency returns the canonical upper-case ISO code.
func NormalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return unit.String(), nil
}

// ParseMinorUnits converts a decimal string such as "19.99" into minor units of the currency.
// Amounts with more fractional digits than the currency allows are rejected rather than rounded.
func ParseMinorUnits(amount, code string) (int64, error) {
	scale, err := CurrencyScale(code)
	if err != nil {
		return 0, err
	}
	value := strings.TrimSpace(amount)
	if value == "" || strings.HasPrefix(value, "-") || strings.HasPrefix(value, "+") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	whole, frac, hasFrac := strings.Cut(value, ".")
	if whole == "" || (hasFrac && frac == "") || len(frac) > scale {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	frac += strings.Repeat("0", scale-len(frac))
	digits := whole + frac
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
		}
	}
	minor, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return minor, nil
}

// FormatMinorUnits renders minor units as a decimal string using the currency scale.
func FormatMinorUnits(minor int64, code string) (string, error) {
	scale, err := CurrencyScale(code)
	if err != nil {
		return "", err
	}
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	digits := strconv.FormatInt(minor, 10)
	if scale == 0 {
		return sign + digits, nil
	}
	if len(digits) <= scale {
		digits = strings.Repeat("0", scale-len(digits)+1) + digits
	}
	cut := len(digits) - scale
	return sign + digits[:cut] + "." + digits[cut:], nil
}
