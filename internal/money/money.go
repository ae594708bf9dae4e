package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is an amount in minor units (paise for INR) of a single currency.
// Arithmetic stays in int64 so amounts survive the gateway round-trip exactly.
//
//	₹500.50 = Money{Currency: INR, Minor: 50050}
type Money struct {
	Currency Currency
	Minor    int64
}

// Currency describes a supported ISO-4217 currency.
type Currency struct {
	Code        string
	MinorDigits uint8
}

// INR is the only currency the ledger accepts.
var INR = Currency{Code: "INR", MinorDigits: 2}

var (
	ErrOverflow            = errors.New("money: arithmetic overflow")
	ErrInvalidFormat       = errors.New("money: invalid format")
	ErrTooPrecise          = errors.New("money: more fractional digits than the currency allows")
	ErrUnsupportedCurrency = errors.New("money: unsupported currency")
)

var supported = map[string]Currency{
	INR.Code: INR,
}

// LookupCurrency resolves a currency code, case-insensitively. An empty code
// resolves to INR.
func LookupCurrency(code string) (Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return INR, nil
	}
	cur, ok := supported[code]
	if !ok {
		return Currency{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
	}
	return cur, nil
}

// FromMinor builds Money from minor units.
func FromMinor(cur Currency, minor int64) Money {
	return Money{Currency: cur, Minor: minor}
}

// FromMajor parses a decimal string in major units ("500", "500.5", "500.50").
// Inputs with more fractional digits than the currency carries are rejected
// rather than rounded.
func FromMajor(cur Currency, major string) (Money, error) {
	major = strings.TrimSpace(major)
	if major == "" {
		return Money{}, ErrInvalidFormat
	}
	negative := strings.HasPrefix(major, "-")
	if negative || strings.HasPrefix(major, "+") {
		major = major[1:]
	}

	intPart, fracPart, hasFrac := strings.Cut(major, ".")
	if intPart == "" || (hasFrac && fracPart == "") || strings.Contains(fracPart, ".") {
		return Money{}, ErrInvalidFormat
	}
	if len(fracPart) > int(cur.MinorDigits) {
		return Money{}, ErrTooPrecise
	}
	for len(fracPart) < int(cur.MinorDigits) {
		fracPart += "0"
	}

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	var frac int64
	if fracPart != "" {
		frac, err = strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return Money{}, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
	}

	multiplier := int64(math.Pow10(int(cur.MinorDigits)))
	if whole > (math.MaxInt64-frac)/multiplier {
		return Money{}, ErrOverflow
	}
	minor := whole*multiplier + frac
	if negative {
		minor = -minor
	}
	return Money{Currency: cur, Minor: minor}, nil
}

// ToMajor renders the amount in major units with all minor digits.
func (m Money) ToMajor() string {
	digits := int(m.Currency.MinorDigits)
	if digits == 0 {
		return strconv.FormatInt(m.Minor, 10)
	}
	divisor := int64(math.Pow10(digits))
	sign := ""
	minor := m.Minor
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	frac := strconv.FormatInt(minor%divisor, 10)
	return sign + strconv.FormatInt(minor/divisor, 10) + "." + strings.Repeat("0", digits-len(frac)) + frac
}

// IsPositive reports whether the amount is greater than zero.
func (m Money) IsPositive() bool {
	return m.Minor > 0
}

func (m Money) String() string {
	return m.ToMajor() + " " + m.Currency.Code
}

// MarshalJSON renders the amount as a JSON number in major units.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(json.Number(m.ToMajor()))
}
