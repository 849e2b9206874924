// Package handparse turns raw model output into validated hand records. It
// never fails: unusable output yields zero hands and a report saying why.
package handparse

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/hand"
	"github.com/fpang/hand-extractor/internal/jsonutil"
)

// Report describes what happened while parsing one response.
type Report struct {
	// Decoded is false when no JSON object could be recovered at all.
	Decoded bool
	// Extracted is true when only the outermost {...} span decoded.
	Extracted bool
	// MissingHands is true when the object had no usable "hands" list.
	MissingHands bool

	Total          int
	Kept           int
	MissingPlayers int
	MissingBoard   int
	Malformed      int
}

// Dropped is the number of hand entries discarded.
func (r Report) Dropped() int {
	return r.MissingPlayers + r.MissingBoard + r.Malformed
}

// Parse returns the valid hands in raw, in their original order.
func Parse(raw string) []hand.Hand {
	hands, _ := ParseReport(raw)
	return hands
}

// ParseReport is Parse with diagnostics.
func ParseReport(raw string) ([]hand.Hand, Report) {
	var rep Report
	hands := []hand.Hand{}

	env, stage, err := jsonutil.Decode[map[string]json.RawMessage](raw)
	if err != nil {
		log.Warn().Err(err).Int("rawLength", len(raw)).Msg("Model response is not recoverable JSON")
		return hands, rep
	}
	rep.Decoded = true
	rep.Extracted = stage == jsonutil.StageExtracted

	var items []json.RawMessage
	if !isKind(env["hands"], '[') || json.Unmarshal(env["hands"], &items) != nil {
		rep.MissingHands = true
		return hands, rep
	}
	rep.Total = len(items)

	for i, item := range items {
		h, reason := decodeHand(item)
		switch reason {
		case "":
			hands = append(hands, h)
			continue
		case "players":
			rep.MissingPlayers++
		case "board":
			rep.MissingBoard++
		default:
			rep.Malformed++
		}
		log.Debug().Int("index", i).Str("reason", reason).Msg("Dropping extracted hand")
	}
	rep.Kept = len(hands)

	if rep.Dropped() > 0 {
		log.Info().
			Int("total", rep.Total).
			Int("kept", rep.Kept).
			Int("missingPlayers", rep.MissingPlayers).
			Int("missingBoard", rep.MissingBoard).
			Int("malformed", rep.Malformed).
			Msg("Dropped invalid hands from model response")
	}
	return hands, rep
}

// decodeHand validates one entry. A non-empty reason means it was dropped.
// Only players and board are required; any other field that does not fit its
// type is left unset rather than failing the hand.
func decodeHand(item json.RawMessage) (hand.Hand, string) {
	var h hand.Hand

	var fields map[string]json.RawMessage
	if !isKind(item, '{') || json.Unmarshal(item, &fields) != nil {
		return h, "not an object"
	}

	var players []json.RawMessage
	if !isKind(fields["players"], '[') || json.Unmarshal(fields["players"], &players) != nil || len(players) == 0 {
		return h, "players"
	}
	var board map[string]json.RawMessage
	if !isKind(fields["board"], '{') || json.Unmarshal(fields["board"], &board) != nil {
		return h, "board"
	}

	h.Number = numberField(fields["handNumber"])
	h.Stakes = stringValue(fields["stakes"])
	h.Pot = amountValue(fields["pot"])
	h.Board = hand.Board{
		Flop:  cardsValue(board["flop"]),
		Turn:  stringValue(board["turn"]),
		River: stringValue(board["river"]),
	}
	for _, raw := range players {
		if p, ok := decodePlayer(raw); ok {
			h.Players = append(h.Players, p)
		}
	}
	if len(h.Players) == 0 {
		return h, "players"
	}
	if actions := objects(fields["actions"]); actions != nil {
		h.Actions = make([]hand.Action, 0, len(actions))
		for _, obj := range actions {
			h.Actions = append(h.Actions, hand.Action{
				Player: stringOrEmpty(obj["player"]),
				Street: stringOrEmpty(obj["street"]),
				Action: stringOrEmpty(obj["action"]),
				Amount: amountValue(obj["amount"]),
			})
		}
	}
	if winners := objects(fields["winners"]); winners != nil {
		h.Winners = make([]hand.Winner, 0, len(winners))
		for _, obj := range winners {
			h.Winners = append(h.Winners, hand.Winner{
				Name:   stringOrEmpty(obj["name"]),
				Amount: amountValue(obj["amount"]),
				Hand:   stringValue(obj["hand"]),
			})
		}
	}

	h.TimestampStart = stringValue(fields["timestampStart"])
	h.TimestampEnd = stringValue(fields["timestampEnd"])
	// Older prompts used snake_case timestamps.
	if h.TimestampStart == nil {
		h.TimestampStart = stringValue(fields["timestamp_start"])
	}
	if h.TimestampEnd == nil {
		h.TimestampEnd = stringValue(fields["timestamp_end"])
	}
	return h, ""
}

// decodePlayer accepts a player object or a bare name.
func decodePlayer(raw json.RawMessage) (hand.Player, bool) {
	if isKind(raw, '"') {
		name := stringValue(raw)
		if name == nil {
			return hand.Player{}, false
		}
		return hand.Player{Name: *name}, true
	}
	var obj map[string]json.RawMessage
	if !isKind(raw, '{') || json.Unmarshal(raw, &obj) != nil {
		return hand.Player{}, false
	}
	return hand.Player{
		Name:      stringOrEmpty(obj["name"]),
		Position:  stringValue(obj["position"]),
		Seat:      intValue(obj["seat"]),
		StackSize: amountValue(obj["stackSize"]),
		HoleCards: cardsValue(obj["holeCards"]),
	}, true
}

// isKind reports whether raw is a JSON value opening with the given delimiter.
func isKind(raw json.RawMessage, open byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == open
}

// objects returns the object elements of a JSON array, skipping anything
// else. It is nil only when raw is not an array.
func objects(raw json.RawMessage) []map[string]json.RawMessage {
	var items []json.RawMessage
	if !isKind(raw, '[') || json.Unmarshal(raw, &items) != nil {
		return nil
	}
	out := make([]map[string]json.RawMessage, 0, len(items))
	for _, item := range items {
		var obj map[string]json.RawMessage
		if isKind(item, '{') && json.Unmarshal(item, &obj) == nil {
			out = append(out, obj)
		}
	}
	return out
}

// stringValue returns a non-empty string, or a number in its JSON text form.
func stringValue(raw json.RawMessage) *string {
	raw = bytes.TrimSpace(raw)
	var s string
	switch {
	case isKind(raw, '"'):
		if json.Unmarshal(raw, &s) != nil {
			return nil
		}
		s = strings.TrimSpace(s)
	case isNumber(raw):
		s = string(raw)
	}
	if s == "" {
		return nil
	}
	return &s
}

func stringOrEmpty(raw json.RawMessage) string {
	if s := stringValue(raw); s != nil {
		return *s
	}
	return ""
}

func numberField(raw json.RawMessage) hand.Number {
	var n hand.Number
	if len(raw) == 0 || json.Unmarshal(raw, &n) != nil {
		return ""
	}
	return n
}

func amountValue(raw json.RawMessage) *hand.Amount {
	raw = bytes.TrimSpace(raw)
	if !isKind(raw, '"') && !isNumber(raw) {
		return nil
	}
	var a hand.Amount
	if json.Unmarshal(raw, &a) != nil {
		return nil
	}
	return &a
}

// intValue accepts an integer or a numeric string such as "3".
func intValue(raw json.RawMessage) *int {
	s := stringValue(raw)
	if s == nil {
		return nil
	}
	f, err := strconv.ParseFloat(*s, 64)
	if err != nil || f != math.Trunc(f) {
		return nil
	}
	n := int(f)
	return &n
}

// cardsValue accepts a list of cards or a single string such as "As Kh 7d".
func cardsValue(raw json.RawMessage) []string {
	raw = bytes.TrimSpace(raw)
	if s := stringValue(raw); s != nil && isKind(raw, '"') {
		return strings.FieldsFunc(*s, func(r rune) bool { return r == ' ' || r == ',' })
	}
	var items []json.RawMessage
	if !isKind(raw, '[') || json.Unmarshal(raw, &items) != nil {
		return nil
	}
	cards := make([]string, 0, len(items))
	for _, item := range items {
		if c := stringValue(item); c != nil && isKind(bytes.TrimSpace(item), '"') {
			cards = append(cards, *c)
		}
	}
	return cards
}

func isNumber(raw json.RawMessage) bool {
	return len(raw) > 0 && (raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'))
}
