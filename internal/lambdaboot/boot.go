// Package lambdaboot holds cold-start helpers shared by the entry points:
// AWS config, the clients built from it, and the Gemini key from SSM.
package lambdaboot

import (
	"context"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/config"
	"github.com/fpang/hand-extractor/internal/events"
	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/logging"
	"github.com/fpang/hand-extractor/internal/store"
)

// DefaultGeminiKeyParam is read when SSM_API_KEY_PARAM is unset.
const DefaultGeminiKeyParam = "/hand-extractor/prod/gemini-api-key"

// AWSClients holds the AWS config and the clients every entry point needs.
type AWSClients struct {
	Config    aws.Config
	SSM       *ssm.Client
	S3        *s3.Client
	Presigner *s3.PresignClient
}

// InitAWS loads the default AWS config and builds the common clients.
func InitAWS(ctx context.Context) (AWSClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return AWSClients{}, failure.New(failure.Config, "startup", fmt.Errorf("load AWS config: %w", err))
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	client := s3.NewFromConfig(cfg)
	return AWSClients{
		Config:    cfg,
		SSM:       ssm.NewFromConfig(cfg),
		S3:        client,
		Presigner: s3.NewPresignClient(client),
	}, nil
}

// InitDynamo returns a run store on tableName, or nil when the table is not
// configured.
func InitDynamo(cfg aws.Config, tableName string) *store.DynamoStore {
	if tableName == "" {
		log.Warn().Msg("RUN_TABLE_NAME not set, run records stay in memory")
		return nil
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName)
}

// InitEvents returns a publisher for bus, or nil when events are disabled.
func InitEvents(cfg aws.Config, bus string) *events.Publisher {
	if bus == "" {
		return nil
	}
	return events.NewPublisher(eventbridge.NewFromConfig(cfg), bus)
}

// InitGCS creates a Cloud Storage client from application default
// credentials. A failure is logged and yields nil so gs:// sources are
// rejected per request instead of at startup.
func InitGCS(ctx context.Context) *storage.Client {
	client, err := storage.NewClient(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Cloud Storage client unavailable, gs:// sources disabled")
		return nil
	}
	return client
}

// SSMGetter is the subset of *ssm.Client used to read parameters.
type SSMGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadGeminiKey fills GEMINI_API_KEY from SSM Parameter Store unless it is
// already set. The parameter path comes from SSM_API_KEY_PARAM.
func LoadGeminiKey(ctx context.Context, client SSMGetter) error {
	if os.Getenv("GEMINI_API_KEY") != "" {
		return nil
	}
	paramName := config.GetEnv("SSM_API_KEY_PARAM", DefaultGeminiKeyParam)
	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return failure.New(failure.Config, "startup", fmt.Errorf("read %s from SSM: %w", paramName, err))
	}
	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return failure.Configf("startup", "SSM parameter %s is empty", paramName)
	}
	os.Setenv("GEMINI_API_KEY", aws.ToString(result.Parameter.Value))
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(start)).Msg("Gemini API key loaded from SSM")
	return nil
}

// StartupLog starts a startup logger with the elapsed init time filled in.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
