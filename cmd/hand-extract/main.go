// Command hand-extract runs one extraction locally and writes the hands it
// finds as JSON.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/hand-extractor/internal/app"
	"github.com/fpang/hand-extractor/internal/auth"
	"github.com/fpang/hand-extractor/internal/cli"
	"github.com/fpang/hand-extractor/internal/config"
	"github.com/fpang/hand-extractor/internal/jobs"
	"github.com/fpang/hand-extractor/internal/lambdaboot"
	"github.com/fpang/hand-extractor/internal/logging"
	"github.com/fpang/hand-extractor/internal/media"
	"github.com/fpang/hand-extractor/internal/pipeline"
	"github.com/fpang/hand-extractor/internal/segment"
)

var (
	videoFlag     string
	streamFlag    string
	platformFlag  string
	rangeFlags    []string
	playerFlags   []string
	outFlag       string
	envFlag       string
	modelFlag     string
	skipCheckFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "hand-extract",
	Short: "Extract poker hand histories from a broadcast video",
	Long: `hand-extract sends a poker broadcast to Gemini in bounded segments and
collects every hand it reports, with timestamps relative to the full video.

Sources may be s3://, gs://, YouTube or plain https:// URLs. Ranges are
start-end in seconds or clock time; long ranges are split automatically.

Examples:
  hand-extract --video s3://broadcasts/day1.mp4 --range 0-5400
  hand-extract -v https://youtu.be/abc123 -r 1:00:00-2:30:00 -p wsop -o hands.json
  hand-extract -v gs://poker/ept.mp4 -r 0-1800 -r 3600-5400 --player "Daniel Negreanu"`,
	SilenceUsage: true,
	RunE:         runMain,
}

func init() {
	rootCmd.Flags().StringVarP(&videoFlag, "video", "v", "", "Video locator (s3://, gs://, YouTube or https:// URL)")
	rootCmd.Flags().StringVar(&streamFlag, "stream-id", "", "Stream UUID the hands belong to (random when empty)")
	rootCmd.Flags().StringVarP(&platformFlag, "platform", "p", "triton", "Broadcast overlay profile (triton, ept, wsop)")
	rootCmd.Flags().StringArrayVarP(&rangeFlags, "range", "r", nil, "Range to analyze as start-end; repeatable")
	rootCmd.Flags().StringArrayVar(&playerFlags, "player", nil, "Player expected at the table; repeatable")
	rootCmd.Flags().StringVarP(&outFlag, "out", "o", "", "Write the JSON report here instead of stdout")
	rootCmd.Flags().StringVar(&envFlag, "env", "", "Load settings from this .env file")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini model (defaults to GEMINI_MODEL)")
	rootCmd.Flags().BoolVar(&skipCheckFlag, "skip-check", false, "Skip the Gemini access check before the run")
	_ = rootCmd.MarkFlagRequired("video")
	_ = rootCmd.MarkFlagRequired("range")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		hint, code := cli.Hint(err)
		fmt.Fprintln(os.Stderr, hint)
		os.Exit(code)
	}
}

func runMain(cmd *cobra.Command, _ []string) error {
	if envFlag != "" {
		if err := config.Load(envFlag); err != nil {
			return fmt.Errorf("load %s: %w", envFlag, err)
		}
	} else {
		_ = config.Load()
	}
	logging.Init()

	req, loc, err := buildRequest()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if cfg.Backend == media.BackendGemini && cfg.GeminiAPIKey == "" {
		key, err := auth.GetAPIKey()
		if err != nil {
			return err
		}
		cfg.GeminiAPIKey = key
	}

	opts := app.Options{Preflight: !skipCheckFlag}
	if needsAWS(cfg, loc) {
		aws, err := lambdaboot.InitAWS(ctx)
		if err != nil {
			return err
		}
		opts.AWS = &aws
	}
	if loc.Scheme == media.SchemeGCS || cfg.Staging == config.StagingGCS {
		opts.GCS = lambdaboot.InitGCS(ctx)
	}

	svc, closeFn, err := app.Build(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer closeFn()

	runID := jobs.NewRunID()
	start := time.Now()
	res, err := svc.Execute(ctx, runID, req)
	if err != nil {
		return err
	}
	log.Info().
		Str("runId", runID).
		Int("hands", res.TotalHands).
		Int("segments", len(res.Segments)).
		Dur("elapsed", time.Since(start)).
		Msg("Extraction complete")
	if err := writeReport(res); err != nil {
		return err
	}
	return cli.PrintSummary(os.Stderr, res)
}

func buildRequest() (pipeline.Request, media.Locator, error) {
	streamID := streamFlag
	if streamID == "" {
		streamID = uuid.NewString()
	}
	req := pipeline.Request{
		StreamID: streamID,
		Source:   videoFlag,
		Platform: platformFlag,
		Players:  playerFlags,
	}
	for _, s := range rangeFlags {
		r, err := segment.ParseRange(s)
		if err != nil {
			return pipeline.Request{}, media.Locator{}, err
		}
		req.Ranges = append(req.Ranges, r)
	}
	loc, _, err := req.Validate()
	if err != nil {
		return pipeline.Request{}, media.Locator{}, err
	}
	return req, loc, nil
}

// needsAWS reports whether any configured feature talks to AWS.
func needsAWS(cfg config.Pipeline, loc media.Locator) bool {
	return loc.Scheme == media.SchemeS3 || cfg.ArchiveBucket != "" || cfg.RunTable != "" || cfg.EventBus != ""
}

func writeReport(res *pipeline.Result) error {
	var w io.Writer = os.Stdout
	if outFlag != "" {
		f, err := os.Create(outFlag)
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if outFlag != "" {
		log.Info().Str("path", outFlag).Msg("Report written")
	}
	return nil
}
