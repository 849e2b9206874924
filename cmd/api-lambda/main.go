// Package main is the Lambda entry point for the run API behind API Gateway.
//
// Runs are not executed here: POST /api/analyze writes the run record and
// starts an execution of the analysis state machine, which invokes
// extract-lambda. GET /api/analyze/{runId} reads the record the extraction
// keeps current.
//
// Endpoints:
//
//	GET  /healthz               health check
//	POST /api/analyze           start a run
//	GET  /api/analyze/{runId}   poll a run (streamId query parameter required)
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/lambdaboot"
	"github.com/fpang/hand-extractor/internal/logging"
	"github.com/fpang/hand-extractor/internal/server"
)

var handler *server.Handler

func init() {
	initStart := time.Now()
	logging.Init()
	ctx := context.Background()

	aws, err := lambdaboot.InitAWS(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("AWS init failed")
	}

	table := os.Getenv("RUN_TABLE_NAME")
	runs := lambdaboot.InitDynamo(aws.Config, table)
	if runs == nil {
		log.Fatal().Msg("RUN_TABLE_NAME environment variable is required")
	}
	stateMachine := os.Getenv("STATE_MACHINE_ARN")
	if stateMachine == "" {
		log.Fatal().Msg("STATE_MACHINE_ARN environment variable is required")
	}

	dispatcher := &server.StepFunctionsDispatcher{
		Client:          sfn.NewFromConfig(aws.Config),
		StateMachineARN: stateMachine,
	}
	handler = server.NewHandler(dispatcher, runs, nil)
	handler.OriginSecret = os.Getenv("ORIGIN_VERIFY_SECRET")
	if handler.OriginSecret == "" {
		log.Warn().Msg("ORIGIN_VERIFY_SECRET not set, origin verification disabled")
	}

	lambdaboot.StartupLog("api-lambda", initStart).
		DynamoTable("runs", table).
		Config("stateMachine", stateMachine).
		Feature("originVerify", handler.OriginSecret != "").
		CommitHash(os.Getenv("COMMIT_HASH")).
		BuildTime(os.Getenv("BUILD_TIME")).
		Log()
}

func main() {
	adapter := httpadapter.NewV2(handler.Router())
	lambda.Start(adapter.ProxyWithContext)
}
