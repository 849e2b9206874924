package pipeline

import (
	"time"

	"github.com/fpang/hand-extractor/internal/segment"
)

// tracker owns the Progress of one run and publishes a copy after every
// change. Percent only moves forward.
type tracker struct {
	p       Progress
	publish func()
	now     func() time.Time
}

func newTracker(runID, streamID string, sink ProgressFunc) *tracker {
	t := &tracker{now: time.Now}
	start := t.now().UTC()
	t.p = Progress{
		RunID:     runID,
		StreamID:  streamID,
		Status:    StatusInitializing,
		StartedAt: start,
		UpdatedAt: start,
	}
	t.publish = func() {
		if sink != nil {
			sink(t.p)
		}
	}
	return t
}

func (t *tracker) touch() {
	t.p.UpdatedAt = t.now().UTC()
	t.publish()
}

func (t *tracker) start(total int) {
	t.p.Status = StatusProcessing
	t.p.TotalSegments = total
	t.touch()
}

func (t *tracker) begin(index int, seg segment.Segment) {
	t.p.CurrentSegment = index
	t.p.CurrentSubSegment = seg.Label()
	t.touch()
}

func (t *tracker) done(hands int) {
	t.p.ProcessedSegments++
	t.p.HandsFound += hands
	if t.p.TotalSegments > 0 {
		if pct := t.p.ProcessedSegments * 100 / t.p.TotalSegments; pct > t.p.Percent {
			t.p.Percent = pct
		}
	}
	t.touch()
}

func (t *tracker) complete() time.Time {
	now := t.now().UTC()
	t.p.Status = StatusCompleted
	t.p.Percent = 100
	t.p.CurrentSubSegment = ""
	t.p.CompletedAt = &now
	t.p.UpdatedAt = now
	t.publish()
	return now
}

func (t *tracker) abort(ae *AbortError) {
	now := t.now().UTC()
	t.p.Status = StatusAborted
	t.p.Error = ae.Error()
	t.p.FailedStage = ae.Stage
	t.p.CompletedAt = &now
	t.p.UpdatedAt = now
	t.publish()
}
