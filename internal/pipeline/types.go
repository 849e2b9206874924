// Package pipeline drives one extraction run: plan the requested ranges into
// segments, then acquire, extract, and parse each segment in order.
package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fpang/hand-extractor/internal/assets"
	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/hand"
	"github.com/fpang/hand-extractor/internal/media"
	"github.com/fpang/hand-extractor/internal/segment"
)

// Request is the immutable input of one run.
type Request struct {
	// StreamID identifies the broadcast the hands belong to.
	StreamID string          `json:"streamId"`
	Source   string          `json:"videoUrl"`
	Ranges   []segment.Range `json:"segments"`
	Platform string          `json:"platform"`
	Players  []string        `json:"players,omitempty"`
}

// Validate checks the request shape and returns the parsed locator and
// profile. Whether the source exists is checked later, on acquire.
func (r Request) Validate() (media.Locator, assets.Profile, error) {
	if _, err := uuid.Parse(r.StreamID); err != nil {
		return media.Locator{}, "", failure.Permanentf("validate", "streamId must be a UUID: %q", r.StreamID)
	}
	profile, err := assets.ParseProfile(r.Platform)
	if err != nil {
		return media.Locator{}, "", failure.New(failure.Input, "validate", err)
	}
	if len(r.Ranges) == 0 {
		return media.Locator{}, "", failure.Permanentf("validate", "at least one segment range is required")
	}
	for i, rg := range r.Ranges {
		if err := rg.Validate(); err != nil {
			return media.Locator{}, "", failure.New(failure.Input, "validate", fmt.Errorf("range %d: %w", i, err))
		}
	}
	loc, err := media.ParseLocator(r.Source)
	if err != nil {
		return media.Locator{}, "", err
	}
	return loc, profile, nil
}

// Status is the run state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusProcessing   Status = "processing"
	StatusCompleted    Status = "completed"
	StatusAborted      Status = "aborted"
)

// Terminal reports whether no further updates follow.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// Progress is a snapshot of a run, published after every state change.
type Progress struct {
	RunID    string `json:"runId"`
	StreamID string `json:"streamId"`
	Status   Status `json:"status"`
	// Percent is completed segments over total segments, 0-100.
	Percent           int    `json:"progress"`
	TotalSegments     int    `json:"totalSegments"`
	ProcessedSegments int    `json:"processedSegments"`
	HandsFound        int    `json:"handsFound"`
	CurrentSegment    int    `json:"currentSegment"`
	CurrentSubSegment string `json:"currentSubSegment,omitempty"`

	StartedAt   time.Time  `json:"startedAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Error       string `json:"error,omitempty"`
	FailedStage string `json:"failedStage,omitempty"`
}

// ProgressFunc receives progress snapshots. It is called synchronously from
// the run; slow sinks slow the run.
type ProgressFunc func(Progress)

// SegmentSummary records how one segment went.
type SegmentSummary struct {
	Index    int     `json:"index"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Hands    int     `json:"hands"`
	Dropped  int     `json:"dropped"`
	Attempts int     `json:"attempts"`
	// Empty is set when the segment produced no hands after every attempt.
	Empty bool `json:"empty,omitempty"`
}

// Result is the output of a completed run. Hands are in segment order.
type Result struct {
	Success     bool             `json:"success"`
	RunID       string           `json:"runId"`
	StreamID    string           `json:"streamId"`
	Hands       []hand.Hand      `json:"hands"`
	TotalHands  int              `json:"totalHands"`
	Segments    []SegmentSummary `json:"segments"`
	StartedAt   time.Time        `json:"startedAt"`
	CompletedAt time.Time        `json:"completedAt"`
}

// Stage names reported on abort.
const (
	StageValidate = "validate"
	StagePlan     = "plan"
	StageAcquire  = "acquire"
	StageExtract  = "extract"
	StageTimeout  = "timeout"
	StageCanceled = "canceled"
)

// AbortError is the terminal error of an aborted run.
type AbortError struct {
	Stage string
	// SegmentIndex is -1 when the run failed before processing a segment.
	SegmentIndex int
	Err          error
}

func (e *AbortError) Error() string {
	var b strings.Builder
	b.WriteString("run aborted at ")
	b.WriteString(e.Stage)
	if e.SegmentIndex >= 0 {
		fmt.Fprintf(&b, " (segment %d)", e.SegmentIndex)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *AbortError) Unwrap() error { return e.Err }

// AsAbort extracts the AbortError from err, if any.
func AsAbort(err error) (*AbortError, bool) {
	var ae *AbortError
	ok := errors.As(err, &ae)
	return ae, ok
}
