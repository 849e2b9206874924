// Package hand defines the hand-history record extracted from broadcast video
// and the helpers that derive display and storage values from it.
package hand

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Hand is one extracted hand. Every field except Players and Board may be
// absent in model output and is nil or empty when it is.
type Hand struct {
	Number         Number   `json:"handNumber"`
	Stakes         *string  `json:"stakes,omitempty"`
	Pot            *Amount  `json:"pot,omitempty"`
	Board          Board    `json:"board"`
	Players        []Player `json:"players"`
	Actions        []Action `json:"actions"`
	Winners        []Winner `json:"winners"`
	TimestampStart *string  `json:"timestampStart,omitempty"`
	TimestampEnd   *string  `json:"timestampEnd,omitempty"`

	// Absolute positions in the source video, in seconds. Filled by the
	// pipeline once the segment offset is known.
	AbsoluteStart *float64 `json:"absoluteTimestampStart,omitempty"`
	AbsoluteEnd   *float64 `json:"absoluteTimestampEnd,omitempty"`
}

// Board holds community cards by street. A street that was not dealt is nil.
type Board struct {
	Flop  []string `json:"flop"`
	Turn  *string  `json:"turn"`
	River *string  `json:"river"`
}

// Player is a seated participant.
type Player struct {
	Name      string   `json:"name"`
	Position  *string  `json:"position,omitempty"`
	Seat      *int     `json:"seat,omitempty"`
	StackSize *Amount  `json:"stackSize,omitempty"`
	HoleCards []string `json:"holeCards"`
}

// Action is one betting action, in play order.
type Action struct {
	Player string  `json:"player"`
	Street string  `json:"street"`
	Action string  `json:"action"`
	Amount *Amount `json:"amount,omitempty"`
}

// Winner is a pot award.
type Winner struct {
	Name   string  `json:"name"`
	Amount *Amount `json:"amount,omitempty"`
	Hand   *string `json:"hand,omitempty"`
}

// Number is a hand identifier. Models emit it as either a JSON number or a
// string, so both decode to the same textual form.
type Number string

// UnmarshalJSON accepts a string, a number, or null.
func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Number(s)
		return nil
	}
	var f json.Number
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("hand number: %w", err)
	}
	*n = Number(f.String())
	return nil
}

// Amount is a chip amount. Numeric strings such as "2,500,000" or "1.5M"
// decode as well as plain numbers.
type Amount float64

// UnmarshalJSON accepts a number or a numeric string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, ok := ParseChips(s)
		if !ok {
			return fmt.Errorf("amount %q is not numeric", s)
		}
		*a = Amount(v)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	*a = Amount(f)
	return nil
}

// Float returns the amount, or 0 when unset.
func (a *Amount) Float() float64 {
	if a == nil {
		return 0
	}
	return float64(*a)
}

// Cards returns the dealt community cards as a space-separated string.
func (b Board) Cards() string {
	cards := make([]string, 0, 5)
	cards = append(cards, b.Flop...)
	if b.Turn != nil && *b.Turn != "" {
		cards = append(cards, *b.Turn)
	}
	if b.River != nil && *b.River != "" {
		cards = append(cards, *b.River)
	}
	return strings.Join(cards, " ")
}

// Description summarizes the shown hole cards, e.g. "Alice AhKd / Bob QsQc".
// It falls back to "Hand" when no cards were shown.
func (h Hand) Description() string {
	var parts []string
	for _, p := range h.Players {
		if len(p.HoleCards) == 0 {
			continue
		}
		parts = append(parts, p.Name+" "+strings.Join(p.HoleCards, ""))
	}
	if len(parts) == 0 {
		return "Hand"
	}
	return strings.Join(parts, " / ")
}

// IsWinner reports whether the named player appears among the winners,
// comparing normalized names.
func (h Hand) IsWinner(name string) bool {
	norm := NormalizeName(name)
	for _, w := range h.Winners {
		if NormalizeName(w.Name) == norm {
			return true
		}
	}
	return false
}

// ApplyOffset fills AbsoluteStart and AbsoluteEnd from the clip-relative
// timestamps plus offset seconds. Unparseable timestamps leave the field nil.
func (h *Hand) ApplyOffset(offset float64) {
	if h.TimestampStart != nil {
		if s, ok := ParseTimestamp(*h.TimestampStart); ok {
			v := offset + s
			h.AbsoluteStart = &v
		}
	}
	if h.TimestampEnd != nil {
		if s, ok := ParseTimestamp(*h.TimestampEnd); ok {
			v := offset + s
			h.AbsoluteEnd = &v
		}
	}
}

// DisplayTimestamp renders the hand's position for listings, preferring
// absolute times: "00:05:30 ~ 00:08:45".
func (h Hand) DisplayTimestamp() string {
	switch {
	case h.AbsoluteStart != nil && h.AbsoluteEnd != nil:
		return FormatTimestamp(*h.AbsoluteStart) + " ~ " + FormatTimestamp(*h.AbsoluteEnd)
	case h.AbsoluteStart != nil:
		return FormatTimestamp(*h.AbsoluteStart)
	case h.TimestampStart != nil && h.TimestampEnd != nil:
		return *h.TimestampStart + " ~ " + *h.TimestampEnd
	case h.TimestampStart != nil:
		return *h.TimestampStart
	}
	return "00:00"
}

// NormalizeName lowercases a player name and strips everything except ASCII
// letters and digits. Used to match players across hands.
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Int returns the hand number as an integer when it is numeric.
func (n Number) Int() (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(string(n)))
	if err != nil {
		return 0, false
	}
	return v, true
}
