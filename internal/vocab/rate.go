package vocab

import (
	"fmt"
	"strconv"
	"strings"
)

// Rate is a frame rate expressed as an exact rational so NTSC rates
// (30000/1001, 24000/1001) survive serialization without float drift.
type Rate struct {
	Num int
	Den int
}

// Common broadcast and film rates.
var (
	RateFilm     = Rate{Num: 24, Den: 1}
	RatePAL      = Rate{Num: 25, Den: 1}
	RateNTSC     = Rate{Num: 30000, Den: 1001}
	RateNTSCFilm = Rate{Num: 24000, Den: 1001}
	RateHFR      = Rate{Num: 60, Den: 1}
)

// NewRate builds a reduced Rate. A zero or negative denominator is
// treated as 1.
func NewRate(num, den int) Rate {
	if den <= 0 {
		den = 1
	}
	return Rate{Num: num, Den: den}.reduce()
}

// ParseRate accepts "24" or "30000/1001".
func ParseRate(s string) (Rate, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Rate{}, fmt.Errorf("empty frame rate")
	}
	if num, den, found := strings.Cut(s, "/"); found {
		n, err := strconv.Atoi(strings.TrimSpace(num))
		if err != nil {
			return Rate{}, fmt.Errorf("parse frame rate %q: %w", s, err)
		}
		d, err := strconv.Atoi(strings.TrimSpace(den))
		if err != nil {
			return Rate{}, fmt.Errorf("parse frame rate %q: %w", s, err)
		}
		if d <= 0 {
			return Rate{}, fmt.Errorf("frame rate %q: denominator must be positive", s)
		}
		return Rate{Num: n, Den: d}.reduce(), nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return Rate{}, fmt.Errorf("parse frame rate %q: %w", s, err)
	}
	return Rate{Num: n, Den: 1}, nil
}

func (r Rate) reduce() Rate {
	g := gcd(r.Num, r.Den)
	if g > 1 {
		r.Num /= g
		r.Den /= g
	}
	return r
}

func gcd(a, b int) int {
	if a < 0 {
		a = -a
	}
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

// Nominal is the integer counting rate used for timecode arithmetic.
// Fractional rates round to the nearest integer (29.97 counts as 30),
// which is standard non-drop timecode behavior.
func (r Rate) Nominal() int {
	if r.Den == 0 {
		return 0
	}
	return (r.Num + r.Den/2) / r.Den
}

func (r Rate) IsZero() bool {
	return r.Num == 0
}

func (r Rate) String() string {
	if r.Den == 1 || r.Den == 0 {
		return strconv.Itoa(r.Num)
	}
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}
