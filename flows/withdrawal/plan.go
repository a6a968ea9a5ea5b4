// Package withdrawal decides how much to withdraw and drives the
// withdrawal dialog of the betting site through the self-healing executor.
package withdrawal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MinAmount is the smallest withdrawal the site accepts.
const MinAmount = 500

const (
	balanceShare = 0.30
	winShare     = 0.50
)

// Plan returns the amount to withdraw given the current balance and the
// latest win. The cap is 30% of the balance, further limited to 50% of
// lastWin when lastWin is positive. ok is false when the cap is below
// MinAmount.
func Plan(balance, lastWin float64) (amount int, ok bool) {
	limit := balance * balanceShare
	if lastWin > 0 {
		limit = min(limit, lastWin*winShare)
	}
	if limit < MinAmount {
		return 0, false
	}
	return int(limit), true
}

var numberPattern = regexp.MustCompile(`-?[0-9][0-9,]*(\.[0-9]+)?`)

// ParseAmount extracts the first number from text such as "NGN 12,345.67".
// Thousands separators are ignored.
func ParseAmount(text string) (float64, error) {
	match := numberPattern.FindString(text)
	if match == "" {
		return 0, fmt.Errorf("no amount in %q", text)
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", text, err)
	}
	return v, nil
}
