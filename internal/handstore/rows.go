package handstore

import (
	"github.com/fpang/hand-extractor/internal/hand"
)

// HandRow is one row of the hands table.
type HandRow struct {
	Number           string
	Description      string
	TimestampDisplay string
	VideoStart       *float64
	VideoEnd         *float64
	PotSize          float64
	BoardCards       string
	SmallBlind       *int64
	BigBlind         *int64
	Ante             *int64
}

// PlayerRow links a normalized player to a hand.
type PlayerRow struct {
	Name           string
	NormalizedName string
	Position       *string
	HoleCards      []string
	StartingStack  float64
	Seat           *int
	IsWinner       bool
}

// ActionRow is one betting action; Sequence starts at 1.
type ActionRow struct {
	NormalizedName string
	Sequence       int
	Street         string
	ActionType     string
	Amount         float64
}

// BuildHandRow flattens a hand into its table row.
func BuildHandRow(h hand.Hand) HandRow {
	row := HandRow{
		Number:           string(h.Number),
		Description:      h.Description(),
		TimestampDisplay: h.DisplayTimestamp(),
		VideoStart:       h.AbsoluteStart,
		VideoEnd:         h.AbsoluteEnd,
		PotSize:          h.Pot.Float(),
		BoardCards:       h.Board.Cards(),
	}
	if h.Stakes != nil {
		b := hand.ParseStakes(*h.Stakes)
		row.SmallBlind, row.BigBlind, row.Ante = b.SmallBlind, b.BigBlind, b.Ante
	}
	return row
}

// BuildPlayerRows returns one row per distinct normalized player. Players
// whose name normalizes to nothing are skipped.
func BuildPlayerRows(h hand.Hand) []PlayerRow {
	seen := make(map[string]bool, len(h.Players))
	rows := make([]PlayerRow, 0, len(h.Players))
	for _, p := range h.Players {
		norm := hand.NormalizeName(p.Name)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		rows = append(rows, PlayerRow{
			Name:           p.Name,
			NormalizedName: norm,
			Position:       p.Position,
			HoleCards:      p.HoleCards,
			StartingStack:  p.StackSize.Float(),
			Seat:           p.Seat,
			IsWinner:       h.IsWinner(p.Name),
		})
	}
	return rows
}

// BuildActionRows numbers the actions in play order. Actions by players not
// seated in the hand are dropped; the sequence stays gapless.
func BuildActionRows(h hand.Hand) (rows []ActionRow, skipped int) {
	seated := make(map[string]bool, len(h.Players))
	for _, p := range h.Players {
		seated[hand.NormalizeName(p.Name)] = true
	}
	for _, a := range h.Actions {
		norm := hand.NormalizeName(a.Player)
		if norm == "" || !seated[norm] {
			skipped++
			continue
		}
		rows = append(rows, ActionRow{
			NormalizedName: norm,
			Sequence:       len(rows) + 1,
			Street:         a.Street,
			ActionType:     a.Action,
			Amount:         a.Amount.Float(),
		})
	}
	return rows, skipped
}
