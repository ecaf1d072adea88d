// Package money represents monetary values as integer cents.
//
// Escrow amounts, commissions, and payouts are exact two-decimal values.
// Storing cents avoids binary floating point drift on the custody path; the
// only rounding in the system happens once, when the platform commission is
// derived from an escrow amount.
package money

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Amount is a monetary value in cents.
type Amount int64

// CommissionPermille is the platform commission rate in permille (15%).
const CommissionPermille = 150

// FromCents returns an Amount for the given number of cents.
func FromCents(cents int64) Amount {
	return Amount(cents)
}

// Parse reads a decimal string such as "180" or "180.50" into an Amount.
// At most two fractional digits are accepted.
func Parse(value string) (Amount, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("amount is required")
	}
	negative := strings.HasPrefix(trimmed, "-")
	if negative {
		trimmed = trimmed[1:]
	}
	whole, frac, hasFrac := strings.Cut(trimmed, ".")
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", value, err)
	}
	var cents int64
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, fmt.Errorf("amount %q must have at most two decimal places", value)
		}
		if len(frac) == 1 {
			frac += "0"
		}
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse amount %q: %w", value, err)
		}
	}
	total := units*100 + cents
	if negative {
		total = -total
	}
	return Amount(total), nil
}

// Cents returns the value in cents.
func (a Amount) Cents() int64 {
	return int64(a)
}

// Commission returns the platform commission for an escrow of this amount,
// rounded half-up to the cent.
func (a Amount) Commission() Amount {
	if a <= 0 {
		return 0
	}
	return Amount((int64(a)*CommissionPermille + 500) / 1000)
}

// Payout returns the specialist payout after commission. The identity
// Commission() + Payout() == a holds for every non-negative amount.
func (a Amount) Payout() Amount {
	return a - a.Commission()
}

// String renders the amount as a plain decimal with two fractional digits.
func (a Amount) String() string {
	cents := int64(a)
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// Format renders the amount with locale-aware grouping and a currency symbol,
// for notification copy and report output.
func Format(a Amount, tag language.Tag) string {
	printer := message.NewPrinter(tag)
	cents := int64(a)
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return printer.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
