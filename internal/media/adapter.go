package media

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/segment"
)

// Adapter acquires a model-readable reference for one segment of a source.
// The caller must Release every reference it receives.
type Adapter interface {
	Acquire(ctx context.Context, index int, seg segment.Segment) (*VideoRef, error)
}

// DirectAdapter passes a source the model can already fetch through
// unchanged, selecting the window with clip offsets. No local I/O.
type DirectAdapter struct {
	Locator  Locator
	MIMEType string
}

// Acquire implements Adapter.
func (a *DirectAdapter) Acquire(_ context.Context, _ int, seg segment.Segment) (*VideoRef, error) {
	mime := a.MIMEType
	if mime == "" {
		mime = ClipMIMEType
	}
	return &VideoRef{
		URI:         a.Locator.Raw,
		MIMEType:    mime,
		Segment:     seg,
		Clipped:     true,
		StartOffset: secondsToDuration(seg.Start),
		EndOffset:   secondsToDuration(seg.End),
		// Offsets in a clipped request are reported against the whole source.
		Offset: 0,
	}, nil
}

// ExtractAdapter cuts each segment out of the source with ffmpeg and stages
// the clip for the model.
type ExtractAdapter struct {
	Locator  Locator
	RunID    string
	Resolver Resolver
	Clipper  Clipper
	Stager   Stager
	// TempDir holds clips between extraction and staging. Defaults to
	// os.TempDir().
	TempDir string
	// DownscaleAbove re-encodes sources taller than this many pixels.
	// Zero disables downscaling.
	DownscaleAbove int

	mu        sync.Mutex
	sourceURL string
	downscale bool
}

// Acquire implements Adapter. The local clip is removed before Acquire
// returns, whether or not it succeeded.
func (a *ExtractAdapter) Acquire(ctx context.Context, index int, seg segment.Segment) (*VideoRef, error) {
	src, downscale, err := a.source(ctx)
	if err != nil {
		return nil, err
	}

	dir := a.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	tmp, err := os.CreateTemp(dir, fmt.Sprintf("segment_%03d_*.mp4", index))
	if err != nil {
		return nil, diskError(err, "create temp clip")
	}
	localPath := tmp.Name()
	tmp.Close()
	defer func() {
		if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", localPath).Msg("Failed to remove temp clip")
		}
	}()

	if err := a.Clipper.Clip(ctx, ClipRequest{
		Input:     src,
		Output:    localPath,
		Start:     seg.Start,
		Duration:  seg.Duration(),
		Downscale: downscale,
	}); err != nil {
		return nil, failure.Wrap("acquire", err)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, diskError(err, "stat clip")
	}
	if info.Size() == 0 {
		return nil, failure.Transientf("acquire", "ffmpeg produced an empty clip for segment %d", index)
	}

	staged, err := a.Stager.Stage(ctx, StageRequest{LocalPath: localPath, RunID: a.RunID, Index: index, Segment: seg})
	if err != nil {
		return nil, failure.Wrap("acquire", err)
	}

	ref := &VideoRef{
		URI:       staged.URI,
		Data:      staged.Data,
		FileName:  staged.FileName,
		MIMEType:  ClipMIMEType,
		SizeBytes: info.Size(),
		Segment:   seg,
		Offset:    seg.Start,
	}
	if staged.Remove != nil {
		ref.OnRelease(staged.Remove)
	}

	log.Info().
		Int("segment", index).
		Str("window", seg.Label()).
		Int64("size_bytes", info.Size()).
		Str("uri", staged.URI).
		Msg("Segment acquired")
	return ref, nil
}

// source resolves the seekable URL and probes it once per adapter.
func (a *ExtractAdapter) source(ctx context.Context) (string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sourceURL != "" {
		return a.sourceURL, a.downscale, nil
	}

	u, err := a.Resolver.Resolve(ctx, a.Locator)
	if err != nil {
		return "", false, failure.Wrap("acquire", err)
	}

	downscale := false
	if a.DownscaleAbove > 0 {
		info, err := a.Clipper.Probe(ctx, u)
		switch {
		case err != nil:
			// Without a probe the clip is stream-copied at source resolution.
			log.Warn().Err(err).Str("source", a.Locator.Raw).Msg("Probe failed, keeping source resolution")
		case info.Height > a.DownscaleAbove:
			downscale = true
			log.Info().Int("height", info.Height).Int("limit", a.DownscaleAbove).Msg("Source will be downscaled")
		}
	}

	a.sourceURL = u
	a.downscale = downscale
	return u, downscale, nil
}

func diskError(err error, op string) error {
	if isDiskFull(err) {
		return failure.New(failure.Config, "acquire", fmt.Errorf("%s: %w", op, err))
	}
	return failure.Transientf("acquire", "%s: %v", op, err)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
