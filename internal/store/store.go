// Package store persists run records so progress survives the process that
// produced it. Records share a partition per run (RUN#{runId}); the sort key
// distinguishes the run record (META) from per-segment summaries
// (SEGMENT#{index}). A TTL attribute (expiresAt) removes records after 24
// hours.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/fpang/hand-extractor/internal/pipeline"
)

// RunTTL is the lifetime of every record.
const RunTTL = 24 * time.Hour

// ErrNotFound is returned by update operations on a missing run.
var ErrNotFound = errors.New("run not found")

// RunRecord is the persisted view of a run.
type RunRecord struct {
	RunID    string `json:"runId" dynamodbav:"-"`
	StreamID string `json:"streamId" dynamodbav:"streamId"`
	Source   string `json:"videoUrl,omitempty" dynamodbav:"videoUrl,omitempty"`
	Platform string `json:"platform,omitempty" dynamodbav:"platform,omitempty"`

	Status            pipeline.Status `json:"status" dynamodbav:"status"`
	Progress          int             `json:"progress" dynamodbav:"progress"`
	TotalSegments     int             `json:"totalSegments" dynamodbav:"totalSegments"`
	ProcessedSegments int             `json:"processedSegments" dynamodbav:"processedSegments"`
	HandsFound        int             `json:"handsFound" dynamodbav:"handsFound"`
	CurrentSegment    int             `json:"currentSegment" dynamodbav:"currentSegment"`
	CurrentSubSegment string          `json:"currentSubSegment,omitempty" dynamodbav:"currentSubSegment,omitempty"`

	StartedAt   time.Time  `json:"startedAt" dynamodbav:"startedAt"`
	UpdatedAt   time.Time  `json:"updatedAt" dynamodbav:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty" dynamodbav:"completedAt,omitempty"`

	Error       string `json:"error,omitempty" dynamodbav:"error,omitempty"`
	FailedStage string `json:"failedStage,omitempty" dynamodbav:"failedStage,omitempty"`
}

// RecordFromProgress copies a progress snapshot onto rec, keeping the
// request fields.
func RecordFromProgress(rec RunRecord, p pipeline.Progress) RunRecord {
	rec.RunID = p.RunID
	rec.StreamID = p.StreamID
	rec.Status = p.Status
	rec.Progress = p.Percent
	rec.TotalSegments = p.TotalSegments
	rec.ProcessedSegments = p.ProcessedSegments
	rec.HandsFound = p.HandsFound
	rec.CurrentSegment = p.CurrentSegment
	rec.CurrentSubSegment = p.CurrentSubSegment
	rec.StartedAt = p.StartedAt
	rec.UpdatedAt = p.UpdatedAt
	rec.CompletedAt = p.CompletedAt
	rec.Error = p.Error
	rec.FailedStage = p.FailedStage
	return rec
}

// RunStore persists run state. Get methods return (nil, nil) when the
// record does not exist; Put methods replace the whole record.
type RunStore interface {
	PutRun(ctx context.Context, rec *RunRecord) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)

	// SetRunError marks a run aborted without rewriting its counters.
	SetRunError(ctx context.Context, runID, stage, msg string) error

	PutSegments(ctx context.Context, runID string, segments []pipeline.SegmentSummary) error
	GetSegments(ctx context.Context, runID string) ([]pipeline.SegmentSummary, error)

	// DeleteRun removes the run record and all its segment summaries.
	DeleteRun(ctx context.Context, runID string) error
}
