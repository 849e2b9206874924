package cli

import (
	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/pipeline"
)

// Exit codes by failure class.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitConfig   = 2
	ExitInput    = 3
	ExitCanceled = 130
)

// Hint returns a one-line suggestion for err and the process exit code.
func Hint(err error) (string, int) {
	if err == nil {
		return "", ExitOK
	}
	if ae, ok := pipeline.AsAbort(err); ok && ae.Stage == pipeline.StageCanceled {
		return "Run canceled.", ExitCanceled
	}
	switch failure.Classify(err) {
	case failure.Config:
		return "Check GEMINI_API_KEY, the backend settings, quota, and free disk space.", ExitConfig
	case failure.Input:
		return "Check the video locator, the ranges, and that the source is readable.", ExitInput
	}
	return "The run failed after retries. Try again later or with a smaller range.", ExitFailure
}
