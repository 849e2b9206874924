package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/metrics"
	"github.com/fpang/hand-extractor/internal/segment"
)

// ClipMIMEType is the container ffmpeg writes.
const ClipMIMEType = "video/mp4"

// DefaultInlineLimit is the largest clip sent as inline bytes. Larger clips
// must go through the Files API or GCS.
const DefaultInlineLimit = 20 << 20

// Staged is a clip placed where the model can read it.
type Staged struct {
	URI      string
	FileName string
	Data     []byte
	// Remove deletes the staged copy. Nil when nothing remote was created.
	Remove func(ctx context.Context) error
}

// StageRequest identifies the clip being staged.
type StageRequest struct {
	LocalPath string
	RunID     string
	Index     int
	Segment   segment.Segment
}

// Stager makes a local clip readable by the model.
type Stager interface {
	Stage(ctx context.Context, req StageRequest) (*Staged, error)
}

// GeminiFilesAPI is the subset of *genai.Files used for staging and polling.
type GeminiFilesAPI interface {
	Upload(ctx context.Context, r io.Reader, config *genai.UploadFileConfig) (*genai.File, error)
	Get(ctx context.Context, name string, config *genai.GetFileConfig) (*genai.File, error)
	Delete(ctx context.Context, name string, config *genai.DeleteFileConfig) (*genai.DeleteFileResponse, error)
}

// GeminiFilesStager uploads clips to the Gemini Files API. The returned file
// may still be PROCESSING; the extractor waits for it.
type GeminiFilesStager struct {
	Files GeminiFilesAPI
}

// Stage implements Stager.
func (s *GeminiFilesStager) Stage(ctx context.Context, req StageRequest) (*Staged, error) {
	f, err := os.Open(req.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("open clip: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat clip: %w", err)
	}

	uploadStart := time.Now()
	file, err := s.Files.Upload(ctx, f, &genai.UploadFileConfig{
		MIMEType:    ClipMIMEType,
		DisplayName: fmt.Sprintf("%s-segment-%d", req.RunID, req.Index),
	})
	if err != nil {
		return nil, failure.Wrap("acquire", fmt.Errorf("upload file: %w", err))
	}

	metrics.New(metrics.Namespace).
		Dimension("Operation", "filesApiUpload").
		Duration("GeminiFilesApiUploadMs", time.Since(uploadStart)).
		Metric("GeminiFilesApiUploadBytes", float64(info.Size()), metrics.UnitBytes).
		Flush()

	log.Debug().
		Str("name", file.Name).
		Str("uri", file.URI).
		Str("state", string(file.State)).
		Dur("upload_duration", time.Since(uploadStart)).
		Msg("Clip uploaded to Gemini Files API")

	name := file.Name
	return &Staged{
		URI:      file.URI,
		FileName: name,
		Remove: func(ctx context.Context) error {
			if _, err := s.Files.Delete(ctx, name, nil); err != nil {
				return fmt.Errorf("delete gemini file %s: %w", name, err)
			}
			log.Debug().Str("name", name).Msg("Gemini file deleted")
			return nil
		},
	}, nil
}

// TempSegmentPrefix is the object prefix for clips staged in GCS.
const TempSegmentPrefix = "temp-segments"

// GCSStager uploads clips to a temporary prefix in a GCS bucket. Only the
// Vertex AI backend can read the resulting gs:// URIs.
type GCSStager struct {
	Client *storage.Client
	Bucket string
}

// ObjectName is the staged object name for a clip.
func ObjectName(runID string, index int, seg segment.Segment) string {
	return path.Join(TempSegmentPrefix, runID, fmt.Sprintf("segment_%03d_%s.mp4", index, seg.Label()))
}

// Stage implements Stager.
func (s *GCSStager) Stage(ctx context.Context, req StageRequest) (*Staged, error) {
	f, err := os.Open(req.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("open clip: %w", err)
	}
	defer f.Close()

	name := ObjectName(req.RunID, req.Index, req.Segment)
	obj := s.Client.Bucket(s.Bucket).Object(name)

	w := obj.NewWriter(ctx)
	w.ContentType = ClipMIMEType
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return nil, failure.Wrap("acquire", fmt.Errorf("gcs upload %s: %w", name, err))
	}
	if err := w.Close(); err != nil {
		return nil, failure.Wrap("acquire", fmt.Errorf("gcs upload %s: %w", name, err))
	}

	uri := fmt.Sprintf("gs://%s/%s", s.Bucket, name)
	log.Debug().Str("uri", uri).Msg("Clip staged in GCS")
	return &Staged{
		URI: uri,
		Remove: func(ctx context.Context) error {
			err := s.Client.Bucket(s.Bucket).Object(name).Delete(ctx)
			if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
				return fmt.Errorf("delete %s: %w", uri, err)
			}
			return nil
		},
	}, nil
}

// InlineStager reads the clip into memory for an inline request part.
type InlineStager struct {
	MaxBytes int64
}

// Stage implements Stager.
func (s *InlineStager) Stage(_ context.Context, req StageRequest) (*Staged, error) {
	limit := s.MaxBytes
	if limit <= 0 {
		limit = DefaultInlineLimit
	}
	info, err := os.Stat(req.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("stat clip: %w", err)
	}
	if info.Size() > limit {
		return nil, failure.Configf("acquire", "clip is %d bytes, over the %d byte inline limit; use gemini-files or gcs staging", info.Size(), limit)
	}
	data, err := os.ReadFile(req.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("read clip: %w", err)
	}
	return &Staged{Data: data}, nil
}
