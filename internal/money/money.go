package money

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Money amounts are persisted as strings ("12.34") and computed in integer
// cents. Mixing float arithmetic into billing totals is not acceptable.

// Pattern accepts optional $ and -, thousands groups, up to two decimals.
var Pattern = regexp.MustCompile(`^((\$?-?)|(-?\$?))((\d{1,3}([, ]\d{3})*)|(\d+))(\.\d{1,2})?$`)

var ErrInvalid = errors.New("invalid money string")

var stripper = strings.NewReplacer("$", "", ",", "", " ", "")

// CentsFromString parses a money string into cents.
func CentsFromString(s string) (int64, error) {
	t := strings.TrimSpace(s)
	if !Pattern.MatchString(t) {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	t = stripper.Replace(t)

	neg := strings.HasPrefix(t, "-")
	if neg {
		t = t[1:]
	}

	whole := t
	frac := ""
	if i := strings.IndexByte(t, '.'); i >= 0 {
		whole, frac = t[:i], t[i+1:]
	}
	for len(frac) < 2 {
		frac += "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	cents := w*100 + f
	if neg {
		cents = -cents
	}
	return cents, nil
}

// StringFromCents renders cents as a plain two-decimal money string.
func StringFromCents(cents int64) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	out := fmt.Sprintf("%d.%02d", cents/100, cents%100)
	if neg {
		out = "-" + out
	}
	return out
}
