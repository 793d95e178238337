package money

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a currency value in minor units (cents). All order and cart
// arithmetic happens on Amount so totals never drift.
type Amount int64

const minorDigits = 2

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrTooPrecise    = errors.New("amount has more than two decimal places")
)

// Parse reads a decimal string such as "180.00" or "120".
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d)
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

func FromDecimal(d decimal.Decimal) (Amount, error) {
	if !d.Equal(d.Round(minorDigits)) {
		return 0, ErrTooPrecise
	}
	return Amount(d.Shift(minorDigits).IntPart()), nil
}

func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -minorDigits)
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(minorDigits)
}

func (a Amount) Add(b Amount) Amount { return a + b }

// Mul returns the line total for qty units priced at a.
func (a Amount) Mul(qty int) Amount { return a * Amount(qty) }

// ApplyBasisPoints returns a*bps/10000 rounded half-up on minor units.
func (a Amount) ApplyBasisPoints(bps int64) Amount {
	if bps == 0 || a == 0 {
		return 0
	}
	return Amount((int64(a)*bps + 5000) / 10000)
}

// WholeUnitsCeil rounds up to whole currency units. Mobile money only
// accepts integer amounts, so 99.10 is charged as 100.
func (a Amount) WholeUnitsCeil() int64 {
	return a.Decimal().Ceil().IntPart()
}

func Sum(amounts ...Amount) Amount {
	var total Amount
	for _, a := range amounts {
		total += a
	}
	return total
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(a.String())), nil
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" || raw == "" {
		*a = 0
		return nil
	}
	if unq, err := strconv.Unquote(raw); err == nil {
		raw = unq
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value stores the amount as BIGINT minor units.
func (a Amount) Value() (driver.Value, error) {
	return int64(a), nil
}

func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*a = Amount(v)
	case int32:
		*a = Amount(v)
	case []byte:
		n, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return fmt.Errorf("scan amount: %w", err)
		}
		*a = Amount(n)
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("scan amount: %w", err)
		}
		*a = Amount(n)
	case nil:
		*a = 0
	default:
		return fmt.Errorf("scan amount: unsupported type %T", src)
	}
	return nil
}
