package hand

import (
	"encoding/json"
	"testing"
)

func strp(s string) *string { return &s }

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"05:30", 330, true},
		{"1:02:03", 3723, true},
		{"00:00", 0, true},
		{" 12:07.5 ", 727.5, true},
		{"", 0, false},
		{"5", 0, false},
		{"a:b", 0, false},
		{"1:2:3:4", 0, false},
		{"-1:00", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseTimestamp(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ParseTimestamp(%q) = (%g, %v), want (%g, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "00:00:00"},
		{330, "00:05:30"},
		{3723.9, "01:02:03"},
		{-5, "00:00:00"},
	}
	for _, tt := range tests {
		if got := FormatTimestamp(tt.in); got != tt.want {
			t.Errorf("FormatTimestamp(%g) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseStakes(t *testing.T) {
	tests := []struct {
		in           string
		sb, bb, ante int64
		hasBlinds    bool
		hasAnte      bool
	}{
		{in: "50K/100K", sb: 50_000, bb: 100_000, hasBlinds: true},
		{in: "100K/200K/200K", sb: 100_000, bb: 200_000, ante: 200_000, hasBlinds: true, hasAnte: true},
		{in: "1M/500K", sb: 500_000, bb: 1_000_000, hasBlinds: true},
		{in: "50k/100k/100k ante", sb: 50_000, bb: 100_000, ante: 100_000, hasBlinds: true, hasAnte: true},
		{in: "1.5k/3k", sb: 1500, bb: 3000, hasBlinds: true},
		{in: ""},
		{in: "unknown"},
	}

	for _, tt := range tests {
		b := ParseStakes(tt.in)
		if (b.SmallBlind != nil) != tt.hasBlinds || (b.BigBlind != nil) != tt.hasBlinds {
			t.Errorf("ParseStakes(%q): blinds presence mismatch: %+v", tt.in, b)
			continue
		}
		if tt.hasBlinds && (*b.SmallBlind != tt.sb || *b.BigBlind != tt.bb) {
			t.Errorf("ParseStakes(%q) = %d/%d, want %d/%d", tt.in, *b.SmallBlind, *b.BigBlind, tt.sb, tt.bb)
		}
		if (b.Ante != nil) != tt.hasAnte {
			t.Errorf("ParseStakes(%q): ante presence mismatch", tt.in)
			continue
		}
		if tt.hasAnte && *b.Ante != tt.ante {
			t.Errorf("ParseStakes(%q) ante = %d, want %d", tt.in, *b.Ante, tt.ante)
		}
	}
}

func TestBoardCards(t *testing.T) {
	b := Board{Flop: []string{"As", "Kh", "7d"}, Turn: strp("2c")}
	if got := b.Cards(); got != "As Kh 7d 2c" {
		t.Errorf("Cards() = %q", got)
	}
	if got := (Board{}).Cards(); got != "" {
		t.Errorf("empty board Cards() = %q", got)
	}
}

func TestDescription(t *testing.T) {
	h := Hand{Players: []Player{
		{Name: "Alice", HoleCards: []string{"Ah", "Kd"}},
		{Name: "Bob"},
		{Name: "Carol", HoleCards: []string{"Qs", "Qc"}},
	}}
	if got := h.Description(); got != "Alice AhKd / Carol QsQc" {
		t.Errorf("Description() = %q", got)
	}
	if got := (Hand{Players: []Player{{Name: "Bob"}}}).Description(); got != "Hand" {
		t.Errorf("Description() without cards = %q", got)
	}
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"Daniel Negreanu": "danielnegreanu",
		"J.C. Tran":       "jctran",
		"  ":              "",
		"Player_01":       "player01",
	}
	for in, want := range tests {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsWinner(t *testing.T) {
	h := Hand{Winners: []Winner{{Name: "J.C. Tran"}}}
	if !h.IsWinner("jc tran") {
		t.Error("expected normalized match")
	}
	if h.IsWinner("Bob") {
		t.Error("unexpected winner")
	}
}

func TestApplyOffset(t *testing.T) {
	h := Hand{TimestampStart: strp("05:30"), TimestampEnd: strp("bogus")}
	h.ApplyOffset(1800)
	if h.AbsoluteStart == nil || *h.AbsoluteStart != 2130 {
		t.Errorf("AbsoluteStart = %v, want 2130", h.AbsoluteStart)
	}
	if h.AbsoluteEnd != nil {
		t.Errorf("AbsoluteEnd should stay nil for unparseable timestamp, got %v", *h.AbsoluteEnd)
	}
	if got := h.DisplayTimestamp(); got != "00:35:30" {
		t.Errorf("DisplayTimestamp() = %q", got)
	}
}

func TestUnmarshal_LenientFields(t *testing.T) {
	raw := `{
		"handNumber": 12,
		"pot": "2,500,000",
		"board": {"flop": null, "turn": null, "river": null},
		"players": [{"name": "A", "stackSize": "1.5M", "holeCards": null}],
		"actions": [{"player": "A", "street": "preflop", "action": "raise", "amount": 225000}],
		"winners": []
	}`
	var h Hand
	if err := json.Unmarshal([]byte(raw), &h); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if h.Number != "12" {
		t.Errorf("Number = %q", h.Number)
	}
	if n, ok := h.Number.Int(); !ok || n != 12 {
		t.Errorf("Number.Int() = %d, %v", n, ok)
	}
	if h.Pot.Float() != 2_500_000 {
		t.Errorf("Pot = %v", h.Pot.Float())
	}
	if h.Players[0].StackSize.Float() != 1_500_000 {
		t.Errorf("StackSize = %v", h.Players[0].StackSize.Float())
	}
	if h.Players[0].HoleCards != nil {
		t.Errorf("HoleCards should be nil")
	}

	var bad Hand
	if err := json.Unmarshal([]byte(`{"pot": "lots"}`), &bad); err == nil {
		t.Error("expected error for non-numeric pot")
	}
}
