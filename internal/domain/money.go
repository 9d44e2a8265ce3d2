/**
 * @description
 * Fixed-point money type used by every balance, amount and fee in the wallet service.
 *
 * @notes
 * - Amounts carry exactly two decimal places (kobo precision) and are bounded by the
 *   NUMERIC(19,2) column they are persisted into.
 * - Arithmetic between different currencies is rejected; there is no conversion.
 *
 * @dependencies
 * - github.com/shopspring/decimal: arbitrary-precision decimal arithmetic.
 */

package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places a Money amount may carry.
const MoneyScale int32 = 2

var (
	minorUnitFactor = decimal.New(1, MoneyScale)
	moneyBound      = decimal.New(1, 17)
	hundred         = decimal.NewFromInt(100)
)

// Money is an amount in a single currency.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney validates the precision and magnitude of amount and returns it as Money.
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	currency = normalizeCurrency(currency)
	if currency == "" {
		return Money{}, fmt.Errorf("%w: currency is required", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(MoneyScale)) {
		return Money{}, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, amount.String(), MoneyScale)
	}
	if amount.Abs().GreaterThanOrEqual(moneyBound) {
		return Money{}, fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, amount.String())
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// ParseMoney parses a decimal string such as "1500.00".
func ParseMoney(value string, currency string) (Money, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q is not a decimal amount", ErrInvalidAmount, value)
	}
	return NewMoney(amount, currency)
}

// MustMoney is NewMoney for literals known to be valid. It panics otherwise.
func MustMoney(value string, currency string) Money {
	m, err := ParseMoney(value, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in currency.
func Zero(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: normalizeCurrency(currency)}
}

// FromMinorUnits converts a gateway integer amount (kobo) to Money.
func FromMinorUnits(units int64, currency string) Money {
	return Money{Amount: decimal.New(units, -MoneyScale), Currency: normalizeCurrency(currency)}
}

// MinorUnits returns the amount in the smallest currency unit.
func (m Money) MinorUnits() int64 {
	return m.Amount.Mul(minorUnitFactor).Round(0).IntPart()
}

// RequirePositive returns ErrInvalidAmount unless m is strictly greater than zero.
func (m Money) RequirePositive() error {
	if !m.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	return nil
}

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("%w: %s and %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return nil
}

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return NewMoney(m.Amount.Add(other.Amount), m.Currency)
}

// Sub returns m - other.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return NewMoney(m.Amount.Sub(other.Amount), m.Currency)
}

// Percent returns pct percent of m, rounded half away from zero to two places.
func (m Money) Percent(pct decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(pct).Div(hundred).Round(MoneyScale), Currency: m.Currency}
}

// Cmp compares two amounts of the same currency. Different currencies compare by amount only;
// callers that care check currency first.
func (m Money) Cmp(other Money) int {
	return m.Amount.Cmp(other.Amount)
}

// LessThan reports whether m < other.
func (m Money) LessThan(other Money) bool { return m.Amount.LessThan(other.Amount) }

// GreaterThan reports whether m > other.
func (m Money) GreaterThan(other Money) bool { return m.Amount.GreaterThan(other.Amount) }

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Amount.IsZero() }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

// Min returns the smaller of m and other.
func (m Money) Min(other Money) Money {
	if other.Amount.LessThan(m.Amount) {
		return other
	}
	return m
}

// String renders the amount with two decimals followed by the currency code.
func (m Money) String() string {
	return m.Amount.StringFixed(MoneyScale) + " " + m.Currency
}

// MarshalJSON renders amounts as fixed two-decimal strings.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	}{Amount: m.Amount.StringFixed(MoneyScale), Currency: m.Currency})
}

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
