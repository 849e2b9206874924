// Package cli renders run results and errors for the command line.
package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fpang/hand-extractor/internal/pipeline"
)

// FormatDurationShort formats a duration as M:SS or H:MM:SS.
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

func clock(seconds float64) string {
	return FormatDurationShort(time.Duration(seconds * float64(time.Second)))
}

// PrintSummary writes one line per segment followed by the totals.
func PrintSummary(w io.Writer, res *pipeline.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEGMENT\tWINDOW\tHANDS\tDROPPED\tATTEMPTS\tNOTE")
	for _, s := range res.Segments {
		note := ""
		if s.Empty {
			note = "no hands found"
		}
		fmt.Fprintf(tw, "%d\t%s-%s\t%d\t%d\t%d\t%s\n", s.Index, clock(s.Start), clock(s.End), s.Hands, s.Dropped, s.Attempts, note)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d hands in %d segments, run %s took %s\n",
		res.TotalHands, len(res.Segments), res.RunID, FormatDurationShort(res.CompletedAt.Sub(res.StartedAt)))
	return err
}
