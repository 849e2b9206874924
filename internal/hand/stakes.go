package hand

import (
	"math"
	"strconv"
	"strings"
)

// Blinds are the forced bets parsed from a stakes string. Nil means the value
// could not be read.
type Blinds struct {
	SmallBlind *int64
	BigBlind   *int64
	Ante       *int64
}

// ParseStakes reads "SB/BB" or "SB/BB/Ante" strings such as
// "50K/100K/100K ante". Blinds given in the wrong order are swapped.
func ParseStakes(stakes string) Blinds {
	var b Blinds
	stakes = strings.ToLower(strings.TrimSpace(stakes))
	if stakes == "" {
		return b
	}
	parts := strings.Split(stakes, "/")

	sb, sbOK := parseChipInt(parts[0])
	var bb int64
	bbOK := false
	if len(parts) > 1 {
		bb, bbOK = parseChipInt(parts[1])
	}
	if sbOK && bbOK && sb > 0 && bb > 0 {
		if sb > bb {
			sb, bb = bb, sb
		}
		b.SmallBlind = &sb
		b.BigBlind = &bb
	}

	if len(parts) > 2 {
		anteStr := strings.TrimSpace(strings.ReplaceAll(parts[2], "ante", ""))
		if ante, ok := parseChipInt(anteStr); ok && ante >= 0 {
			b.Ante = &ante
		}
	}
	return b
}

// ParseChips reads a chip amount with an optional k or m suffix. Commas,
// currency symbols and surrounding spaces are ignored.
func ParseChips(s string) (float64, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(",", "", "$", "", "€", "", "£", "", " ", "").Replace(s)
	if s == "" {
		return 0, false
	}

	mult := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		mult = 1_000
		s = strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult = 1_000_000
		s = strings.TrimSuffix(s, "m")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v * mult, true
}

func parseChipInt(s string) (int64, bool) {
	v, ok := ParseChips(s)
	if !ok {
		return 0, false
	}
	return int64(math.Floor(v)), true
}
