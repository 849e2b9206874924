// Package main is the Lambda entry point for one extraction run, invoked by
// the analysis state machine.
//
// Container: ffmpeg image
// Memory: 4 GB
// Timeout: 15 minutes per invocation; long runs are split by the caller.
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/app"
	"github.com/fpang/hand-extractor/internal/config"
	"github.com/fpang/hand-extractor/internal/jobs"
	"github.com/fpang/hand-extractor/internal/lambdaboot"
	"github.com/fpang/hand-extractor/internal/logging"
	"github.com/fpang/hand-extractor/internal/media"
	"github.com/fpang/hand-extractor/internal/metrics"
	"github.com/fpang/hand-extractor/internal/pipeline"
)

var coldStart = true

var svc *app.Service

func init() {
	initStart := time.Now()
	logging.Init()
	ctx := context.Background()

	aws, err := lambdaboot.InitAWS(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("AWS init failed")
	}
	if err := lambdaboot.LoadGeminiKey(ctx, aws.SSM); err != nil {
		log.Fatal().Err(err).Msg("Gemini key unavailable")
	}

	cfg := config.FromEnv()
	opts := app.Options{AWS: &aws}
	if cfg.Backend == media.BackendVertex || cfg.Staging == config.StagingGCS {
		opts.GCS = lambdaboot.InitGCS(ctx)
	}
	// The pool lives for the container; Lambda gives no shutdown hook to
	// close it.
	svc, _, err = app.Build(ctx, cfg, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Pipeline init failed")
	}

	lambdaboot.StartupLog("extract-lambda", initStart).
		S3Bucket("archive", cfg.ArchiveBucket).
		GCSBucket("segments", cfg.SegmentBucket).
		DynamoTable("runs", cfg.RunTable).
		EventBus("events", cfg.EventBus).
		SSMParam("geminiApiKey", config.GetEnv("SSM_API_KEY_PARAM", lambdaboot.DefaultGeminiKeyParam)).
		Config("backend", string(cfg.Backend)).
		Config("model", cfg.Model).
		Config("staging", cfg.Staging).
		Feature("handstore", svc.Hands != nil).
		CommitHash(os.Getenv("COMMIT_HASH")).
		BuildTime(os.Getenv("BUILD_TIME")).
		Log()
}

// ExtractEvent is the state machine input. RunID is optional; the caller
// sets it when it already created the run record.
type ExtractEvent struct {
	RunID string `json:"runId,omitempty"`
	pipeline.Request
}

// ExtractOutput is kept small to fit the state machine payload limit. Hands
// go to the hand store, not the output.
type ExtractOutput struct {
	RunID       string                    `json:"runId"`
	StreamID    string                    `json:"streamId"`
	Success     bool                      `json:"success"`
	TotalHands  int                       `json:"totalHands"`
	Segments    []pipeline.SegmentSummary `json:"segments"`
	CompletedAt time.Time                 `json:"completedAt"`
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, event ExtractEvent) (*ExtractOutput, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "extract-lambda").Msg("Cold start, first invocation")
	}
	runID := event.RunID
	if runID == "" {
		runID = jobs.NewRunID()
	} else if id, ok := jobs.NormalizeRunID(runID); ok {
		runID = id
	}
	log.Info().
		Str("runId", runID).
		Str("streamId", event.StreamID).
		Str("platform", event.Platform).
		Int("ranges", len(event.Ranges)).
		Msg("Extraction Lambda invoked")

	res, err := svc.Execute(ctx, runID, event.Request)
	if err != nil {
		return nil, err
	}
	metrics.New(metrics.Namespace).
		Dimension("Function", "extract-lambda").
		Metric("HandsReturned", float64(res.TotalHands), metrics.UnitCount).
		Property("runId", runID).
		Flush()
	return &ExtractOutput{
		RunID:       res.RunID,
		StreamID:    res.StreamID,
		Success:     res.Success,
		TotalHands:  res.TotalHands,
		Segments:    res.Segments,
		CompletedAt: res.CompletedAt,
	}, nil
}
