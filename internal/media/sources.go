package media

import (
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/kkdai/youtube/v2"
	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/s3util"
)

// Backend names the model endpoint. Only Vertex AI can read gs:// URIs.
type Backend string

const (
	BackendGemini Backend = "gemini"
	BackendVertex Backend = "vertex"
)

// Sources holds the clients used to reach each kind of source. Nil fields
// disable the schemes that need them.
type Sources struct {
	Backend Backend

	S3Head    s3util.HeadAPI
	S3Presign s3util.PresignAPI
	GCS       *storage.Client
	YouTube   *youtube.Client
	HTTP      *http.Client
	URLExpiry time.Duration

	Clipper        Clipper
	Stager         Stager
	TempDir        string
	DownscaleAbove int
}

// Adapter picks the acquisition strategy for loc. gs:// sources on Vertex
// AI are passed through; everything else is clipped locally.
func (s *Sources) Adapter(loc Locator, runID string) (Adapter, error) {
	if loc.Scheme == SchemeGCS && s.Backend == BackendVertex {
		log.Debug().Str("source", loc.Raw).Msg("Using direct locator strategy")
		return &DirectAdapter{Locator: loc}, nil
	}

	resolver, err := s.resolver(loc)
	if err != nil {
		return nil, err
	}
	if s.Clipper == nil {
		return nil, failure.Configf("acquire", "ffmpeg is required to extract segments from %s sources", loc.Scheme)
	}
	if s.Stager == nil {
		return nil, failure.Configf("acquire", "no segment staging configured")
	}
	log.Debug().Str("source", loc.Raw).Str("scheme", string(loc.Scheme)).Msg("Using physical extraction strategy")
	return &ExtractAdapter{
		Locator:        loc,
		RunID:          runID,
		Resolver:       resolver,
		Clipper:        s.Clipper,
		Stager:         s.Stager,
		TempDir:        s.TempDir,
		DownscaleAbove: s.DownscaleAbove,
	}, nil
}

func (s *Sources) resolver(loc Locator) (Resolver, error) {
	switch loc.Scheme {
	case SchemeS3:
		if s.S3Head == nil || s.S3Presign == nil {
			return nil, failure.Configf("acquire", "s3 sources need AWS credentials")
		}
		return &S3Resolver{Head: s.S3Head, Presigner: s.S3Presign, Expiry: s.URLExpiry}, nil
	case SchemeGCS:
		if s.GCS == nil {
			return nil, failure.Configf("acquire", "gs:// sources need a GCS client")
		}
		return &GCSResolver{Client: s.GCS, Expiry: s.URLExpiry}, nil
	case SchemeYouTube:
		return &YouTubeResolver{Client: s.YouTube}, nil
	case SchemeHTTP:
		return &HTTPResolver{Client: s.HTTP}, nil
	}
	return nil, failure.Permanentf("acquire", "invalid locator %q: unsupported scheme", loc.Raw)
}
