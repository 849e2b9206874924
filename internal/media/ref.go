package media

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fpang/hand-extractor/internal/segment"
)

// VideoRef is a model-readable handle for one segment. Exactly one of URI or
// Data is set.
type VideoRef struct {
	// URI is a gs://, https:// or Gemini Files API URI.
	URI string
	// Data holds the clip bytes when sent inline.
	Data     []byte
	MIMEType string
	// FileName is the Gemini Files API resource name ("files/abc") when the
	// clip was uploaded there; the model cannot read it until it is ACTIVE.
	FileName  string
	SizeBytes int64

	// Segment is the window this reference covers in the source.
	Segment segment.Segment
	// Clipped is true when URI addresses the whole source and StartOffset
	// and EndOffset select the window.
	Clipped     bool
	StartOffset time.Duration
	EndOffset   time.Duration

	// Offset is added to clip-relative timestamps reported by the model to
	// make them absolute in the source.
	Offset float64

	mu       sync.Mutex
	releases []func(context.Context) error
}

// OnRelease registers a cleanup step run by Release, in reverse order.
func (r *VideoRef) OnRelease(fn func(context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releases = append(r.releases, fn)
}

// Release frees everything acquired for the reference. It runs each step at
// most once and is safe to call more than once.
func (r *VideoRef) Release(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	steps := r.releases
	r.releases = nil
	r.mu.Unlock()

	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		if err := steps[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
