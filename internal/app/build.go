package app

import (
	"context"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	"github.com/kkdai/youtube/v2"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/hand-extractor/internal/auth"
	"github.com/fpang/hand-extractor/internal/chat"
	"github.com/fpang/hand-extractor/internal/config"
	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/handstore"
	"github.com/fpang/hand-extractor/internal/lambdaboot"
	"github.com/fpang/hand-extractor/internal/media"
	"github.com/fpang/hand-extractor/internal/metrics"
	"github.com/fpang/hand-extractor/internal/pipeline"
	"github.com/fpang/hand-extractor/internal/s3util"
	"github.com/fpang/hand-extractor/internal/store"
)

// resolveTimeout bounds the HTTP HEAD used to check plain URL sources.
const resolveTimeout = 30 * time.Second

// Options carries the clients built by the entry point. Nil fields disable
// the features that need them.
type Options struct {
	AWS  *lambdaboot.AWSClients
	GCS  *storage.Client
	Prom *metrics.Prom
	// Preflight checks model access before returning.
	Preflight bool
}

// Build validates cfg and assembles a Service. The returned close function
// releases the database pool, if one was opened.
func Build(ctx context.Context, cfg config.Pipeline, opts Options) (*Service, func(), error) {
	noop := func() {}
	if err := cfg.Validate(); err != nil {
		return nil, noop, err
	}

	client, err := newModelClient(ctx, cfg)
	if err != nil {
		return nil, noop, err
	}
	if opts.Preflight {
		if err := auth.ValidateAccess(ctx, client.Models, cfg.Model); err != nil {
			return nil, noop, err
		}
	}
	sources, err := buildSources(cfg, opts, client)
	if err != nil {
		return nil, noop, err
	}

	orch := &pipeline.Orchestrator{
		Sources:   sources,
		Extractor: chat.NewExtractor(client, cfg.Model),
		Config:    cfg.OrchestratorConfig(),
	}
	if opts.Prom != nil {
		orch.Observer = opts.Prom
	}
	if cfg.ArchiveBucket != "" {
		if opts.AWS == nil {
			log.Warn().Str("bucket", cfg.ArchiveBucket).Msg("ARCHIVE_BUCKET set without AWS credentials, raw responses are not archived")
		} else {
			archiver, err := s3util.NewRawArchiver(opts.AWS.S3, cfg.ArchiveBucket)
			if err != nil {
				return nil, noop, failure.New(failure.Config, "startup", err)
			}
			orch.Archiver = archiver
		}
	}

	svc := &Service{Runner: orch, Prom: opts.Prom}
	svc.Store = store.NewMemoryStore()
	if opts.AWS != nil {
		if ds := lambdaboot.InitDynamo(opts.AWS.Config, cfg.RunTable); ds != nil {
			svc.Store = ds
		}
		if pub := lambdaboot.InitEvents(opts.AWS.Config, cfg.EventBus); pub != nil {
			svc.Events = pub
		}
	}

	closeFn := noop
	switch {
	case cfg.DatabaseURL != "":
		pool, hs, err := handstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		svc.Hands = hs
		closeFn = pool.Close
	case cfg.AuroraClusterARN != "" && opts.AWS != nil:
		hs := handstore.NewDataAPIStore(rdsdata.NewFromConfig(opts.AWS.Config), cfg.AuroraClusterARN, cfg.AuroraSecretARN, cfg.AuroraDatabase)
		if err := hs.EnsureSchema(ctx); err != nil {
			return nil, noop, failure.New(failure.Config, "startup", err)
		}
		svc.Hands = hs
	}

	log.Info().
		Str("backend", string(cfg.Backend)).
		Str("model", cfg.Model).
		Str("staging", cfg.Staging).
		Bool("archive", orch.Archiver != nil).
		Bool("events", svc.Events != nil).
		Bool("handstore", svc.Hands != nil).
		Msg("Pipeline assembled")
	return svc, closeFn, nil
}

func newModelClient(ctx context.Context, cfg config.Pipeline) (*genai.Client, error) {
	if cfg.Backend == media.BackendVertex {
		return chat.NewVertexClient(ctx, cfg.GCPProject, cfg.VertexLocation)
	}
	return chat.NewGeminiClient(ctx, cfg.GeminiAPIKey)
}

func buildSources(cfg config.Pipeline, opts Options, client *genai.Client) (*media.Sources, error) {
	s := &media.Sources{
		Backend:        cfg.Backend,
		GCS:            opts.GCS,
		YouTube:        &youtube.Client{},
		HTTP:           &http.Client{Timeout: resolveTimeout},
		URLExpiry:      cfg.URLExpiry,
		TempDir:        cfg.TempDir,
		DownscaleAbove: cfg.DownscaleAboveHeight,
	}
	if opts.AWS != nil {
		s.S3Head = opts.AWS.S3
		s.S3Presign = opts.AWS.Presigner
	}
	if ff, err := media.NewFFmpeg(); err == nil {
		s.Clipper = ff
	} else {
		log.Warn().Err(err).Msg("ffmpeg not found, only direct gs:// sources will work")
	}

	switch cfg.Staging {
	case config.StagingGeminiFiles:
		s.Stager = &media.GeminiFilesStager{Files: client.Files}
	case config.StagingGCS:
		if opts.GCS == nil {
			return nil, failure.Configf("startup", "gcs staging needs a Cloud Storage client")
		}
		s.Stager = &media.GCSStager{Client: opts.GCS, Bucket: cfg.SegmentBucket}
	case config.StagingInline:
		s.Stager = &media.InlineStager{}
	default:
		return nil, failure.Configf("startup", "unknown staging mode %q", cfg.Staging)
	}
	log.Debug().Str("staging", cfg.Staging).Msgf("Segment staging: %T", s.Stager)
	return s, nil
}
