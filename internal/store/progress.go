package store

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/pipeline"
)

// DefaultWriteTimeout bounds each progress write.
const DefaultWriteTimeout = 10 * time.Second

// ProgressWriter returns a pipeline.ProgressFunc that mirrors every snapshot
// into s. base carries the request fields (source, platform). Write
// failures are logged and never affect the run.
func ProgressWriter(ctx context.Context, s RunStore, base RunRecord) pipeline.ProgressFunc {
	ctx = context.WithoutCancel(ctx)
	return func(p pipeline.Progress) {
		rec := RecordFromProgress(base, p)
		wctx, cancel := context.WithTimeout(ctx, DefaultWriteTimeout)
		defer cancel()
		if err := s.PutRun(wctx, &rec); err != nil {
			log.Warn().Err(err).
				Str("runId", p.RunID).
				Str("status", string(p.Status)).
				Msg("Failed to persist run progress")
		}
	}
}
