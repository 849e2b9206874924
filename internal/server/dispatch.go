package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/pipeline"
)

// Dispatcher hands an accepted run to whatever executes it. Dispatch must
// return once the run is queued, not when it finishes.
type Dispatcher interface {
	Dispatch(ctx context.Context, runID string, req pipeline.Request) error
}

// Executor runs one extraction. *app.Service satisfies it.
type Executor interface {
	Execute(ctx context.Context, runID string, req pipeline.Request) (*pipeline.Result, error)
}

// LocalDispatcher runs each extraction in a goroutine of this process. Runs
// outlive the request and are canceled with the base context.
type LocalDispatcher struct {
	exec Executor
	base context.Context
	wg   sync.WaitGroup
}

// NewLocalDispatcher builds a dispatcher whose runs derive from base.
func NewLocalDispatcher(base context.Context, exec Executor) *LocalDispatcher {
	return &LocalDispatcher{exec: exec, base: base}
}

func (d *LocalDispatcher) Dispatch(_ context.Context, runID string, req pipeline.Request) error {
	if err := d.base.Err(); err != nil {
		return fmt.Errorf("dispatcher stopped: %w", err)
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if _, err := d.exec.Execute(d.base, runID, req); err != nil {
			log.Debug().Err(err).Str("runId", runID).Msg("Run finished with error")
		}
	}()
	return nil
}

// Wait blocks until every dispatched run has finished.
func (d *LocalDispatcher) Wait() { d.wg.Wait() }

// StepFunctionsAPI is the subset of *sfn.Client the dispatcher uses.
type StepFunctionsAPI interface {
	StartExecution(ctx context.Context, in *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
}

// StepFunctionsDispatcher starts one state machine execution per run, named
// after the run so a duplicate dispatch is rejected by Step Functions.
type StepFunctionsDispatcher struct {
	Client          StepFunctionsAPI
	StateMachineARN string
}

// executionInput is what the extract Lambda receives; it matches the
// Lambda's event shape.
type executionInput struct {
	RunID string `json:"runId"`
	pipeline.Request
}

func (d *StepFunctionsDispatcher) Dispatch(ctx context.Context, runID string, req pipeline.Request) error {
	input, err := json.Marshal(executionInput{RunID: runID, Request: req})
	if err != nil {
		return fmt.Errorf("marshal execution input: %w", err)
	}
	out, err := d.Client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(d.StateMachineARN),
		Input:           aws.String(string(input)),
		Name:            aws.String(runID),
	})
	if err != nil {
		return fmt.Errorf("start execution: %w", err)
	}
	log.Info().
		Str("runId", runID).
		Str("sfnArn", d.StateMachineARN).
		Str("executionArn", aws.ToString(out.ExecutionArn)).
		Msg("Run dispatched to Step Functions")
	return nil
}
