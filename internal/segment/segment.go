// Package segment splits analysis ranges into bounded windows that a single
// model call can cover.
package segment

import (
	"errors"
	"fmt"
	"math"
)

// DefaultMaxDuration is the longest window, in seconds, sent to the model in
// one call.
const DefaultMaxDuration = 1800.0

// Range is a caller-supplied time range in seconds.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is a planned analysis window. End-Start never exceeds the max
// duration it was planned with.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the window length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Label renders the window as "start-end" in whole seconds, used in progress
// records and staged object names.
func (s Segment) Label() string {
	return fmt.Sprintf("%d-%d", int64(s.Start), int64(math.Ceil(s.End)))
}

// InvalidRangeError reports a malformed range or max duration.
type InvalidRangeError struct {
	Range       Range
	MaxDuration float64
	Reason      string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range [%g, %g] (max %g): %s", e.Range.Start, e.Range.End, e.MaxDuration, e.Reason)
}

// Validate checks a range on its own, without planning it.
func (r Range) Validate() error {
	switch {
	case math.IsNaN(r.Start) || math.IsNaN(r.End) || math.IsInf(r.Start, 0) || math.IsInf(r.End, 0):
		return &InvalidRangeError{Range: r, Reason: "bounds must be finite"}
	case r.Start < 0:
		return &InvalidRangeError{Range: r, Reason: "start must not be negative"}
	case r.End <= r.Start:
		return &InvalidRangeError{Range: r, Reason: "end must be greater than start"}
	}
	return nil
}

// Plan splits r into contiguous windows no longer than maxDuration.
//
// A range that already fits is returned unchanged as a single segment.
// Otherwise windows advance by exactly maxDuration from r.Start and the last
// window is clamped to r.End, so the result covers r exactly, in ascending
// order, without gaps or overlap.
func Plan(r Range, maxDuration float64) ([]Segment, error) {
	if err := r.Validate(); err != nil {
		var ire *InvalidRangeError
		if errors.As(err, &ire) {
			ire.MaxDuration = maxDuration
		}
		return nil, err
	}
	if !(maxDuration > 0) || math.IsInf(maxDuration, 0) {
		return nil, &InvalidRangeError{Range: r, MaxDuration: maxDuration, Reason: "max duration must be positive"}
	}

	if r.End-r.Start <= maxDuration {
		return []Segment{{Start: r.Start, End: r.End}}, nil
	}

	n := int(math.Ceil((r.End - r.Start) / maxDuration))
	segments := make([]Segment, 0, n)
	for i := 0; ; i++ {
		// Both bounds come from the same expression so neighbours meet exactly.
		start := r.Start + float64(i)*maxDuration
		if start >= r.End {
			break
		}
		end := math.Min(r.Start+float64(i+1)*maxDuration, r.End)
		segments = append(segments, Segment{Start: start, End: end})
	}
	return segments, nil
}

// PlanAll plans every range in order and concatenates the results.
func PlanAll(ranges []Range, maxDuration float64) ([]Segment, error) {
	if len(ranges) == 0 {
		return nil, &InvalidRangeError{MaxDuration: maxDuration, Reason: "at least one range is required"}
	}
	var all []Segment
	for i, r := range ranges {
		segs, err := Plan(r, maxDuration)
		if err != nil {
			return nil, fmt.Errorf("range %d: %w", i, err)
		}
		all = append(all, segs...)
	}
	return all, nil
}

// Subdivide re-plans any segment longer than ceiling, keeping order.
func Subdivide(segments []Segment, ceiling float64) ([]Segment, error) {
	out := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if s.Duration() <= ceiling {
			out = append(out, s)
			continue
		}
		parts, err := Plan(Range{Start: s.Start, End: s.End}, ceiling)
		if err != nil {
			return nil, err
		}
		out = append(out, parts...)
	}
	return out, nil
}
