package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/hand-extractor/internal/assets"
	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/media"
	"github.com/fpang/hand-extractor/internal/metrics"
	"github.com/fpang/hand-extractor/internal/segment"
)

// Generation settings for extraction. Low temperature keeps repeated runs
// over the same clip close to each other.
const (
	Temperature     float32 = 0.1
	TopP            float32 = 0.95
	TopK            float32 = 40
	MaxOutputTokens int32   = 65535
	ResponseMIME            = "application/json"
)

// Files API polling bounds for clips still being processed.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollTimeout  = 5 * time.Minute
)

// ErrFileFailed marks an uploaded clip the Files API could not process. The
// reference is unusable; the clip must be acquired again.
var ErrFileFailed = errors.New("gemini file processing failed")

// ModelsAPI is the subset of *genai.Models used for extraction.
type ModelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// FilesAPI is the subset of *genai.Files used to wait for uploads.
type FilesAPI interface {
	Get(ctx context.Context, name string, config *genai.GetFileConfig) (*genai.File, error)
}

// Instruction selects the prompt for one extraction call.
type Instruction struct {
	Profile assets.Profile
	// Window limits extraction to a sub-range of a longer asset. Nil when
	// the video already covers exactly the segment.
	Window *segment.Segment
	// Players are expected participant names, passed as spelling hints.
	Players []string
}

// Extractor sends one video reference plus an instruction to the model and
// returns its raw text.
type Extractor struct {
	Models ModelsAPI
	Files  FilesAPI
	Model  string

	PollInterval time.Duration
	PollTimeout  time.Duration
}

// NewExtractor builds an Extractor from a genai client.
func NewExtractor(client *genai.Client, model string) *Extractor {
	if model == "" {
		model = GetModelName()
	}
	return &Extractor{Models: client.Models, Files: client.Files, Model: model}
}

// BuildPrompt assembles the profile prompt and the optional clauses.
func BuildPrompt(in Instruction) string {
	var b strings.Builder
	b.WriteString(in.Profile.Prompt())
	if in.Window != nil {
		b.WriteString("\n\n")
		b.WriteString(assets.RenderWindowClause(in.Window.Start, in.Window.End))
	}
	if clause := assets.RenderPlayersClause(in.Players); clause != "" {
		b.WriteString("\n\n")
		b.WriteString(clause)
	}
	return b.String()
}

// GenerationConfig is the fixed configuration sent with every extraction.
func GenerationConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(Temperature),
		TopP:             genai.Ptr(TopP),
		TopK:             genai.Ptr(TopK),
		MaxOutputTokens:  MaxOutputTokens,
		ResponseMIMEType: ResponseMIME,
	}
}

// VideoPart converts a reference into the request part the model reads.
func VideoPart(ref *media.VideoRef) *genai.Part {
	mime := ref.MIMEType
	if mime == "" {
		mime = media.ClipMIMEType
	}
	part := &genai.Part{}
	if len(ref.Data) > 0 {
		part.InlineData = &genai.Blob{Data: ref.Data, MIMEType: mime}
	} else {
		part.FileData = &genai.FileData{FileURI: ref.URI, MIMEType: mime}
	}
	if ref.Clipped {
		part.VideoMetadata = &genai.VideoMetadata{
			StartOffset: ref.StartOffset,
			EndOffset:   ref.EndOffset,
		}
	}
	return part
}

// Extract runs one GenerateContent call and returns the text verbatim. A
// blank or blocked reply is failure.ErrEmptyResult; interpreting the text is
// the caller's job.
func (e *Extractor) Extract(ctx context.Context, ref *media.VideoRef, in Instruction) (string, error) {
	if ref == nil || (ref.URI == "" && len(ref.Data) == 0) {
		return "", failure.Permanentf("extract", "no video reference to extract from")
	}
	if ref.FileName != "" {
		if err := e.waitForFile(ctx, ref.FileName); err != nil {
			return "", err
		}
	}

	prompt := BuildPrompt(in)
	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{VideoPart(ref), {Text: prompt}},
	}}

	log.Debug().
		Str("model", e.Model).
		Str("profile", string(in.Profile)).
		Str("window", ref.Segment.Label()).
		Bool("clipped", ref.Clipped).
		Bool("inline", len(ref.Data) > 0).
		Int("prompt_length", len(prompt)).
		Msg("Starting Gemini API call for hand extraction")

	start := time.Now()
	resp, err := e.Models.GenerateContent(ctx, e.Model, contents, GenerationConfig())
	elapsed := time.Since(start)

	m := metrics.New(metrics.Namespace).
		Dimension("Operation", "extract").
		Duration("GeminiApiLatencyMs", elapsed).
		Count("GeminiApiCalls")
	if err != nil {
		m.Count("GeminiApiErrors")
	}
	if resp != nil && resp.UsageMetadata != nil {
		m.Metric("GeminiInputTokens", float64(resp.UsageMetadata.PromptTokenCount), metrics.UnitCount)
		m.Metric("GeminiOutputTokens", float64(resp.UsageMetadata.CandidatesTokenCount), metrics.UnitCount)
	}
	m.Flush()

	if err != nil {
		class := failure.Classify(err)
		log.Error().Err(err).Str("class", class.String()).Dur("duration", elapsed).Msg("Gemini extraction call failed")
		return "", failure.New(class, "extract", fmt.Errorf("generate content: %w", err))
	}
	if resp == nil || len(resp.Candidates) == 0 {
		ev := log.Warn()
		if resp != nil && resp.PromptFeedback != nil {
			ev = ev.Str("block_reason", string(resp.PromptFeedback.BlockReason))
		}
		ev.Msg("Gemini returned no candidates")
		return "", failure.New(failure.Quality, "extract", failure.ErrEmptyResult)
	}
	fr := resp.Candidates[0].FinishReason
	if fr == genai.FinishReasonMaxTokens {
		log.Warn().Int32("max_output_tokens", MaxOutputTokens).Msg("Gemini response truncated at token limit")
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		log.Warn().Str("finish_reason", string(fr)).Msg("Gemini returned an empty response")
		return "", failure.New(failure.Quality, "extract", failure.ErrEmptyResult)
	}

	log.Info().
		Int("response_length", len(text)).
		Dur("duration", elapsed).
		Msg("Gemini extraction response received")
	return text, nil
}

// waitForFile blocks until an uploaded file leaves PROCESSING. A file that
// fails processing is transient: the caller re-acquires and uploads again.
func (e *Extractor) waitForFile(ctx context.Context, name string) error {
	if e.Files == nil {
		return nil
	}
	interval := e.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := e.PollTimeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}

	start := time.Now()
	deadline := start.Add(timeout)
	pollIteration := 0
	for {
		file, err := e.Files.Get(ctx, name, nil)
		if err != nil {
			return failure.New(failure.Classify(err), "extract", fmt.Errorf("get file state %s: %w", name, err))
		}
		switch file.State {
		case genai.FileStateFailed:
			return failure.New(failure.Transient, "extract", fmt.Errorf("%w: %s", ErrFileFailed, name))
		case genai.FileStateProcessing:
		default:
			if pollIteration > 0 {
				log.Info().
					Str("name", name).
					Dur("total_time", time.Since(start)).
					Int("poll_iterations", pollIteration).
					Msg("Video ready for inference")
			}
			return nil
		}

		if time.Now().Add(interval).After(deadline) {
			return failure.Transientf("extract", "timeout waiting for %s processing after %v", name, timeout)
		}
		pollIteration++
		log.Debug().Str("name", name).Int("poll_iteration", pollIteration).Msg("Video still processing, waiting...")

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
