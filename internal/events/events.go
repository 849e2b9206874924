// Package events announces finished runs on an EventBridge bus so
// downstream consumers (hand persistence, notifications) can react.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/pipeline"
)

// Source is the EventBridge source of every event.
const Source = "hand-extractor"

// Detail types.
const (
	DetailRunCompleted = "RunCompleted"
	DetailRunAborted   = "RunAborted"
)

// RunCompleted is the detail of a completed run. Hands are not included;
// consumers read them from the archive or hand store.
type RunCompleted struct {
	RunID       string                    `json:"runId"`
	StreamID    string                    `json:"streamId"`
	TotalHands  int                       `json:"totalHands"`
	Segments    []pipeline.SegmentSummary `json:"segments"`
	StartedAt   time.Time                 `json:"startedAt"`
	CompletedAt time.Time                 `json:"completedAt"`
}

// RunAborted is the detail of an aborted run.
type RunAborted struct {
	RunID        string `json:"runId"`
	StreamID     string `json:"streamId"`
	Stage        string `json:"stage"`
	SegmentIndex int    `json:"segmentIndex"`
	Class        string `json:"class"`
	Error        string `json:"error"`
}

// PutEventsAPI is the subset of *eventbridge.Client used here.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher sends run events to one bus.
type Publisher struct {
	client PutEventsAPI
	bus    string
}

// NewPublisher returns a publisher for bus. An empty bus means the default
// bus.
func NewPublisher(client PutEventsAPI, bus string) *Publisher {
	return &Publisher{client: client, bus: bus}
}

// Completed announces a finished run.
func (p *Publisher) Completed(ctx context.Context, res *pipeline.Result) error {
	return p.put(ctx, DetailRunCompleted, res.RunID, RunCompleted{
		RunID:       res.RunID,
		StreamID:    res.StreamID,
		TotalHands:  res.TotalHands,
		Segments:    res.Segments,
		StartedAt:   res.StartedAt,
		CompletedAt: res.CompletedAt,
	})
}

// Aborted announces a run that ended with err.
func (p *Publisher) Aborted(ctx context.Context, runID, streamID string, err error) error {
	detail := RunAborted{
		RunID:        runID,
		StreamID:     streamID,
		SegmentIndex: -1,
		Class:        failure.Classify(err).String(),
		Error:        err.Error(),
	}
	if ae, ok := pipeline.AsAbort(err); ok {
		detail.Stage = ae.Stage
		detail.SegmentIndex = ae.SegmentIndex
	}
	return p.put(ctx, DetailRunAborted, runID, detail)
}

func (p *Publisher) put(ctx context.Context, detailType, runID string, detail any) error {
	body, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", detailType, err)
	}
	entry := types.PutEventsRequestEntry{
		Source:     aws.String(Source),
		DetailType: aws.String(detailType),
		Detail:     aws.String(string(body)),
		Time:       aws.Time(time.Now().UTC()),
	}
	if p.bus != "" {
		entry.EventBusName = aws.String(p.bus)
	}

	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: []types.PutEventsRequestEntry{entry}})
	if err != nil {
		return fmt.Errorf("put %s event for %s: %w", detailType, runID, err)
	}
	if out.FailedEntryCount > 0 {
		msg := "unknown error"
		if len(out.Entries) > 0 && out.Entries[0].ErrorMessage != nil {
			msg = aws.ToString(out.Entries[0].ErrorCode) + ": " + aws.ToString(out.Entries[0].ErrorMessage)
		}
		return fmt.Errorf("put %s event for %s: %s", detailType, runID, msg)
	}

	eventID := ""
	if len(out.Entries) > 0 {
		eventID = aws.ToString(out.Entries[0].EventId)
	}
	log.Info().Str("runId", runID).Str("detailType", detailType).Str("eventId", eventID).Msg("Run event published")
	return nil
}
