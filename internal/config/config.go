// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/fpang/hand-extractor/internal/chat"
	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/media"
	"github.com/fpang/hand-extractor/internal/pipeline"
	"github.com/fpang/hand-extractor/internal/retry"
	"github.com/fpang/hand-extractor/internal/segment"
)

// Load reads .env files into the process environment. Variables already set
// win. With no paths, ".env" is used; a missing file returns an error the
// caller may ignore.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// GetEnv returns the value of key, or fallback when unset or empty.
func GetEnv(key, fallback string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns key parsed as an integer, or fallback when unset or
// unparseable.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvFloat is GetEnvInt for floating point values.
func GetEnvFloat(key string, fallback float64) float64 {
	if s := os.Getenv(key); s != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f
		}
	}
	return fallback
}

// GetEnvDuration accepts Go durations ("90s", "2h") or bare seconds.
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return fallback
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(n * float64(time.Second))
	}
	return fallback
}

// Staging modes for physically extracted clips.
const (
	StagingGeminiFiles = "gemini-files"
	StagingGCS         = "gcs"
	StagingInline      = "inline"
)

// Pipeline holds everything needed to build an orchestrator.
type Pipeline struct {
	Backend        media.Backend
	GeminiAPIKey   string
	GCPProject     string
	VertexLocation string
	Model          string

	MaxSegmentSeconds  float64
	CallCeilingSeconds float64
	RunTimeout         time.Duration

	ExtractMaxAttempts int
	AcquireMaxAttempts int
	RetryBase          float64
	RetryMinDelay      time.Duration
	RetryMaxDelay      time.Duration

	Staging              string
	SegmentBucket        string
	DownscaleAboveHeight int
	TempDir              string
	URLExpiry            time.Duration

	// ArchiveBucket enables the raw response archive when set.
	ArchiveBucket string
	// RunTable enables DynamoDB run records when set.
	RunTable string
	// EventBus enables completion events when set.
	EventBus string
	// DatabaseURL enables the Postgres hand store when set.
	DatabaseURL string
	// AuroraClusterARN enables the Data API hand store when set and no
	// DatabaseURL is given.
	AuroraClusterARN string
	AuroraSecretARN  string
	AuroraDatabase   string
}

// FromEnv reads the pipeline settings with their defaults.
func FromEnv() Pipeline {
	backend := media.BackendGemini
	if strings.EqualFold(GetEnv("GEMINI_BACKEND", ""), string(media.BackendVertex)) {
		backend = media.BackendVertex
	}
	maxSeg := GetEnvFloat("MAX_SEGMENT_SECONDS", segment.DefaultMaxDuration)
	return Pipeline{
		Backend:        backend,
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GCPProject:     os.Getenv("GOOGLE_CLOUD_PROJECT"),
		VertexLocation: GetEnv("VERTEX_AI_LOCATION", "us-central1"),
		Model:          chat.GetModelName(),

		MaxSegmentSeconds:  maxSeg,
		CallCeilingSeconds: GetEnvFloat("CALL_CEILING_SECONDS", maxSeg),
		RunTimeout:         GetEnvDuration("RUN_TIMEOUT", pipeline.DefaultRunTimeout),

		ExtractMaxAttempts: GetEnvInt("EXTRACT_MAX_ATTEMPTS", retry.DefaultMaxAttempts),
		AcquireMaxAttempts: GetEnvInt("ACQUIRE_MAX_ATTEMPTS", retry.DefaultMaxAttempts),
		RetryBase:          GetEnvFloat("RETRY_BASE", retry.DefaultBase),
		RetryMinDelay:      GetEnvDuration("RETRY_MIN_DELAY", retry.DefaultMinDelay),
		RetryMaxDelay:      GetEnvDuration("RETRY_MAX_DELAY", retry.DefaultMaxDelay),

		Staging:              strings.ToLower(GetEnv("SEGMENT_STAGING", StagingGeminiFiles)),
		SegmentBucket:        os.Getenv("SEGMENT_BUCKET"),
		DownscaleAboveHeight: GetEnvInt("DOWNSCALE_ABOVE_HEIGHT", 720),
		TempDir:              GetEnv("TEMP_DIR", os.TempDir()),
		URLExpiry:            GetEnvDuration("SOURCE_URL_EXPIRY", media.DefaultURLExpiry),

		ArchiveBucket: os.Getenv("ARCHIVE_BUCKET"),
		RunTable:      os.Getenv("RUN_TABLE_NAME"),
		EventBus:      os.Getenv("EVENT_BUS_NAME"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),

		AuroraClusterARN: os.Getenv("AURORA_CLUSTER_ARN"),
		AuroraSecretARN:  os.Getenv("AURORA_SECRET_ARN"),
		AuroraDatabase:   GetEnv("AURORA_DATABASE_NAME", "poker"),
	}
}

// Validate rejects settings no run could succeed with. All errors are
// configuration failures.
func (p Pipeline) Validate() error {
	var problems []string
	switch p.Backend {
	case media.BackendGemini:
		if p.GeminiAPIKey == "" {
			problems = append(problems, "GEMINI_API_KEY is required for the gemini backend")
		}
	case media.BackendVertex:
		if p.GCPProject == "" {
			problems = append(problems, "GOOGLE_CLOUD_PROJECT is required for the vertex backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown backend %q", p.Backend))
	}
	if p.MaxSegmentSeconds <= 0 {
		problems = append(problems, "MAX_SEGMENT_SECONDS must be positive")
	}
	if p.CallCeilingSeconds <= 0 {
		problems = append(problems, "CALL_CEILING_SECONDS must be positive")
	}
	if p.RunTimeout <= 0 {
		problems = append(problems, "RUN_TIMEOUT must be positive")
	}
	if p.ExtractMaxAttempts < 1 || p.AcquireMaxAttempts < 1 {
		problems = append(problems, "retry attempts must be at least 1")
	}
	if p.RetryMinDelay < 0 || (p.RetryMaxDelay > 0 && p.RetryMaxDelay < p.RetryMinDelay) {
		problems = append(problems, "RETRY_MAX_DELAY must not be below RETRY_MIN_DELAY")
	}
	switch p.Staging {
	case StagingGeminiFiles:
		if p.Backend == media.BackendVertex {
			problems = append(problems, "gemini-files staging needs the gemini backend")
		}
	case StagingGCS:
		if p.SegmentBucket == "" {
			problems = append(problems, "SEGMENT_BUCKET is required for gcs staging")
		}
	case StagingInline:
	default:
		problems = append(problems, fmt.Sprintf("unknown SEGMENT_STAGING %q", p.Staging))
	}
	if p.AuroraClusterARN != "" && p.AuroraSecretARN == "" {
		problems = append(problems, "AURORA_SECRET_ARN is required with AURORA_CLUSTER_ARN")
	}
	if len(problems) > 0 {
		return failure.Configf("startup", "invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RetryPolicy builds the policy for one phase.
func (p Pipeline) RetryPolicy(name string, attempts int) retry.Policy {
	pol := retry.DefaultPolicy(name)
	pol.MaxAttempts = attempts
	pol.Base = p.RetryBase
	pol.MinDelay = p.RetryMinDelay
	pol.MaxDelay = p.RetryMaxDelay
	return pol
}

// OrchestratorConfig maps the settings onto pipeline.Config.
func (p Pipeline) OrchestratorConfig() pipeline.Config {
	return pipeline.Config{
		MaxSegmentDuration: p.MaxSegmentSeconds,
		CallCeiling:        p.CallCeilingSeconds,
		RunTimeout:         p.RunTimeout,
		AcquirePolicy:      p.RetryPolicy(pipeline.StageAcquire, p.AcquireMaxAttempts),
		ExtractPolicy:      p.RetryPolicy(pipeline.StageExtract, p.ExtractMaxAttempts),
	}
}
