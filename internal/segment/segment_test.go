package segment

import (
	"errors"
	"math"
	"testing"
)

func TestPlan_FitsUnchanged(t *testing.T) {
	segs, err := Plan(Range{Start: 100, End: 1900}, 1800)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 1 || segs[0] != (Segment{Start: 100, End: 1900}) {
		t.Errorf("expected single unchanged segment, got %+v", segs)
	}
}

func TestPlan_SplitsAndClamps(t *testing.T) {
	segs, err := Plan(Range{Start: 0, End: 4000}, 1800)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Segment{{0, 1800}, {1800, 3600}, {3600, 4000}}
	if len(segs) != len(want) {
		t.Fatalf("expected %d segments, got %d: %+v", len(want), len(segs), segs)
	}
	for i := range want {
		if segs[i] != want[i] {
			t.Errorf("segment %d: expected %+v, got %+v", i, want[i], segs[i])
		}
	}
}

func TestPlan_ExactMultiple(t *testing.T) {
	segs, err := Plan(Range{Start: 0, End: 5400}, 1800)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %+v", segs)
	}
	if segs[2].End != 5400 {
		t.Errorf("last segment should end at 5400, got %g", segs[2].End)
	}
}

// Partition property: contiguous, exhaustive, ascending and bounded.
func TestPlan_PartitionProperty(t *testing.T) {
	cases := []struct {
		r   Range
		max float64
	}{
		{Range{0, 1}, 1800},
		{Range{0, 1800}, 1800},
		{Range{0, 1800.5}, 1800},
		{Range{12.25, 9999.75}, 1800},
		{Range{3600, 7200}, 600},
		{Range{0.1, 0.7}, 0.2},
		{Range{5, 86400}, 1799},
	}

	for _, tc := range cases {
		segs, err := Plan(tc.r, tc.max)
		if err != nil {
			t.Fatalf("Plan(%+v, %g) error: %v", tc.r, tc.max, err)
		}
		if len(segs) == 0 {
			t.Fatalf("Plan(%+v, %g) returned no segments", tc.r, tc.max)
		}
		if segs[0].Start != tc.r.Start {
			t.Errorf("Plan(%+v): first start %g", tc.r, segs[0].Start)
		}
		if segs[len(segs)-1].End != tc.r.End {
			t.Errorf("Plan(%+v): last end %g", tc.r, segs[len(segs)-1].End)
		}
		var total float64
		for i, s := range segs {
			if s.End <= s.Start {
				t.Errorf("Plan(%+v): segment %d empty: %+v", tc.r, i, s)
			}
			if s.Duration() > tc.max+1e-9 {
				t.Errorf("Plan(%+v): segment %d too long: %g", tc.r, i, s.Duration())
			}
			if i > 0 && s.Start != segs[i-1].End {
				t.Errorf("Plan(%+v): gap or overlap between %d and %d", tc.r, i-1, i)
			}
			total += s.Duration()
		}
		if math.Abs(total-(tc.r.End-tc.r.Start)) > 1e-6 {
			t.Errorf("Plan(%+v): durations sum to %g", tc.r, total)
		}
	}
}

func TestPlan_InvalidInput(t *testing.T) {
	cases := []struct {
		name string
		r    Range
		max  float64
	}{
		{"end equals start", Range{10, 10}, 1800},
		{"end before start", Range{10, 5}, 1800},
		{"negative start", Range{-1, 5}, 1800},
		{"zero max", Range{0, 5}, 0},
		{"negative max", Range{0, 5}, -30},
		{"nan bound", Range{math.NaN(), 5}, 1800},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Plan(tc.r, tc.max)
			var ire *InvalidRangeError
			if !errors.As(err, &ire) {
				t.Fatalf("expected *InvalidRangeError, got %v", err)
			}
		})
	}
}

func TestPlanAll_ConcatenatesInOrder(t *testing.T) {
	segs, err := PlanAll([]Range{{0, 2000}, {5000, 5100}}, 1800)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Segment{{0, 1800}, {1800, 2000}, {5000, 5100}}
	if len(segs) != len(want) {
		t.Fatalf("expected %+v, got %+v", want, segs)
	}
	for i := range want {
		if segs[i] != want[i] {
			t.Errorf("segment %d: expected %+v, got %+v", i, want[i], segs[i])
		}
	}
}

func TestPlanAll_Errors(t *testing.T) {
	if _, err := PlanAll(nil, 1800); err == nil {
		t.Error("expected error for empty range list")
	}
	_, err := PlanAll([]Range{{0, 10}, {20, 15}}, 1800)
	var ire *InvalidRangeError
	if !errors.As(err, &ire) {
		t.Fatalf("expected wrapped *InvalidRangeError, got %v", err)
	}
}

func TestSubdivide(t *testing.T) {
	segs, err := Subdivide([]Segment{{0, 100}, {100, 400}}, 150)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Segment{{0, 100}, {100, 250}, {250, 400}}
	if len(segs) != len(want) {
		t.Fatalf("expected %+v, got %+v", want, segs)
	}
	for i := range want {
		if segs[i] != want[i] {
			t.Errorf("segment %d: expected %+v, got %+v", i, want[i], segs[i])
		}
	}
}

func TestSegmentLabel(t *testing.T) {
	if got := (Segment{Start: 1800, End: 3599.5}).Label(); got != "1800-3600" {
		t.Errorf("Label() = %q", got)
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		in      string
		want    Range
		wantErr bool
	}{
		{in: "0-1800", want: Range{Start: 0, End: 1800}},
		{in: "330.5-900", want: Range{Start: 330.5, End: 900}},
		{in: "05:30-1:05:30", want: Range{Start: 330, End: 3930}},
		{in: " 1:00:00 - 2:00:00 ", want: Range{Start: 3600, End: 7200}},
		{in: "1800", wantErr: true},
		{in: "900-300", wantErr: true},
		{in: "a-b", wantErr: true},
		{in: "1:2:3:4-5", wantErr: true},
		{in: "1.5:00-200", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseRange(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%q: expected error, got %+v", tt.in, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%q: got %+v, %v; want %+v", tt.in, got, err, tt.want)
		}
	}
}
