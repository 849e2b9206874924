package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/metrics"
)

// Generator is the subset of *genai.Models used for the access check.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ValidateAccess makes a minimal call to model so a bad key, a missing
// model, or an exhausted quota fail before any video is fetched. The error
// carries the failure class of the API error.
func ValidateAccess(ctx context.Context, models Generator, model string) error {
	log.Debug().Str("model", model).Msg("Validating Gemini access")
	start := time.Now()
	resp, err := models.GenerateContent(ctx, model, genai.Text("hi"), &genai.GenerateContentConfig{MaxOutputTokens: 8})
	elapsed := time.Since(start)

	result := "success"
	switch {
	case err != nil:
		result = failure.Classify(err).String()
		err = failure.New(failure.Classify(err), "startup", fmt.Errorf("gemini access check with %s: %w", model, err))
	case resp == nil || len(resp.Candidates) == 0:
		result = "empty_response"
		err = failure.Transientf("startup", "gemini access check with %s returned no candidates", model)
	}

	metrics.New(metrics.Namespace).
		Dimension("Result", result).
		Duration("ApiKeyValidationMs", elapsed).
		Count("ApiKeyValidationResult").
		Flush()

	if err != nil {
		log.Error().Err(err).Str("result", result).Dur("duration", elapsed).Msg("Gemini access check failed")
		return err
	}
	log.Info().Str("model", model).Dur("duration", elapsed).Msg("Gemini access validated")
	return nil
}
