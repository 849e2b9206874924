// Package chat talks to the Gemini models: it builds the extraction request
// for one video segment and returns the model's raw text.
package chat

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/hand-extractor/internal/failure"
)

// NewGeminiClient creates a client for the Gemini Developer API.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, failure.Configf("startup", "GEMINI_API_KEY is required for the gemini backend")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, failure.New(failure.Config, "startup", fmt.Errorf("create gemini client: %w", err))
	}
	log.Debug().Str("backend", "gemini").Msg("Gemini client created")
	return client, nil
}

// NewVertexClient creates a client for Vertex AI using application default
// credentials. Vertex AI can read gs:// URIs directly.
func NewVertexClient(ctx context.Context, project, location string) (*genai.Client, error) {
	if project == "" {
		return nil, failure.Configf("startup", "GOOGLE_CLOUD_PROJECT is required for the vertex backend")
	}
	if location == "" {
		location = "us-central1"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  project,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, failure.New(failure.Config, "startup", fmt.Errorf("create vertex client: %w", err))
	}
	log.Debug().Str("backend", "vertex").Str("project", project).Str("location", location).Msg("Vertex AI client created")
	return client, nil
}
