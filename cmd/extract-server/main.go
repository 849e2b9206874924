// Command extract-server serves the run API: POST /api/analyze starts a run,
// GET /api/analyze/{runId} reports its progress.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/app"
	"github.com/fpang/hand-extractor/internal/config"
	"github.com/fpang/hand-extractor/internal/lambdaboot"
	"github.com/fpang/hand-extractor/internal/logging"
	"github.com/fpang/hand-extractor/internal/metrics"
	"github.com/fpang/hand-extractor/internal/server"
)

const (
	shutdownTimeout = 10 * time.Second
	// drainTimeout bounds how long in-flight runs get to record their abort
	// after the base context is canceled.
	drainTimeout = 30 * time.Second
)

func main() {
	initStart := time.Now()
	_ = config.Load()
	logging.Init()

	port := config.GetEnv("PORT", "8080")

	base, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	opts := app.Options{Prom: metrics.NewProm(), GCS: lambdaboot.InitGCS(base), Preflight: true}
	if config.GetEnv("AWS_ENABLED", "true") == "true" {
		aws, err := lambdaboot.InitAWS(base)
		if err != nil {
			log.Warn().Err(err).Msg("AWS unavailable, s3:// sources and DynamoDB records disabled")
		} else {
			opts.AWS = &aws
			if err := lambdaboot.LoadGeminiKey(base, aws.SSM); err != nil {
				log.Warn().Err(err).Msg("Gemini key not loaded from SSM")
			}
		}
	}
	cfg := config.FromEnv()

	svc, closeFn, err := app.Build(base, cfg, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("Pipeline init failed")
	}
	defer closeFn()

	dispatcher := server.NewLocalDispatcher(base, svc)
	h := server.NewHandler(dispatcher, svc.Store, opts.Prom)
	h.OriginSecret = os.Getenv("ORIGIN_VERIFY_SECRET")
	srv := &http.Server{Addr: ":" + port, Handler: h.Router()}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	lambdaboot.StartupLog("extract-server", initStart).
		S3Bucket("archive", cfg.ArchiveBucket).
		GCSBucket("segments", cfg.SegmentBucket).
		DynamoTable("runs", cfg.RunTable).
		EventBus("events", cfg.EventBus).
		Config("port", port).
		Config("backend", string(cfg.Backend)).
		Config("model", cfg.Model).
		Feature("aws", opts.AWS != nil).
		Feature("handstore", svc.Hands != nil).
		Feature("originVerify", h.OriginSecret != "").
		Log()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}

	cancelRuns()
	done := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		log.Warn().Msg("Runs still in flight at exit")
	}
	log.Info().Msg("Server stopped")
}
