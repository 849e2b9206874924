package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fpang/hand-extractor/internal/failure"
)

// testPolicy records waits instead of sleeping.
func testPolicy(attempts int, waits *[]time.Duration) Policy {
	p := DefaultPolicy("test")
	p.MaxAttempts = attempts
	p.Randomize = false
	p.Sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return p
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	var waits []time.Duration
	calls := 0
	v, err := Do(context.Background(), testPolicy(3, &waits), func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil || v != "ok" || calls != 1 || len(waits) != 0 {
		t.Errorf("v=%q err=%v calls=%d waits=%v", v, err, calls, waits)
	}
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	var waits []time.Duration
	var seen []int
	v, err := Do(context.Background(), testPolicy(3, &waits), func(ctx context.Context, attempt int) (int, error) {
		seen = append(seen, attempt)
		if attempt < 3 {
			return 0, failure.Transientf("extract", "503")
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("v=%d err=%v", v, err)
	}
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Errorf("attempt numbers = %v", seen)
	}
	if len(waits) != 2 {
		t.Errorf("expected 2 waits, got %v", waits)
	}
}

func TestDo_ExhaustsAfterCeiling(t *testing.T) {
	var waits []time.Duration
	calls := 0
	_, err := Do(context.Background(), testPolicy(3, &waits), func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, errors.New("connection reset by peer")
	})
	if calls != 3 {
		t.Errorf("expected exactly 3 calls, got %d", calls)
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) || ex.Attempts != 3 {
		t.Fatalf("expected *ExhaustedError after 3 attempts, got %v", err)
	}
	if ex.Last == nil || ex.Last.Error() != "connection reset by peer" {
		t.Errorf("Last = %v", ex.Last)
	}
}

func TestDo_EmptyResultIsRetriedAndVisibleAfterExhaustion(t *testing.T) {
	var waits []time.Duration
	calls := 0
	_, err := Do(context.Background(), testPolicy(3, &waits), func(ctx context.Context, attempt int) ([]int, error) {
		calls++
		return nil, failure.ErrEmptyResult
	})
	if calls != 3 {
		t.Errorf("expected 3 calls for empty results, got %d", calls)
	}
	if !errors.Is(err, failure.ErrEmptyResult) {
		t.Errorf("exhaustion should wrap ErrEmptyResult, got %v", err)
	}
}

func TestDo_PermanentStopsAfterOneCall(t *testing.T) {
	var waits []time.Duration
	calls := 0
	perm := failure.Permanentf("acquire", "object not found")
	_, err := Do(context.Background(), testPolicy(5, &waits), func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, perm
	})
	if calls != 1 {
		t.Errorf("expected a single call, got %d", calls)
	}
	if err != perm {
		t.Errorf("expected the permanent error unchanged, got %v", err)
	}
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		t.Error("permanent error must not be reported as exhaustion")
	}
	if len(waits) != 0 {
		t.Errorf("no waits expected, got %v", waits)
	}
}

func TestDo_CustomClassifier(t *testing.T) {
	var waits []time.Duration
	p := testPolicy(4, &waits)
	p.Classify = func(error) failure.Class { return failure.Input }
	calls := 0
	_, _ = Do(context.Background(), p, func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, errors.New("anything")
	})
	if calls != 1 {
		t.Errorf("expected classifier to stop retries, got %d calls", calls)
	}
}

func TestDo_ContextCancelledStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var waits []time.Duration
	p := testPolicy(5, &waits)
	calls := 0
	_, err := Do(ctx, p, func(ctx context.Context, attempt int) (int, error) {
		calls++
		cancel()
		return 0, failure.Transientf("extract", "503")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RealSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p := DefaultPolicy("slow")
	p.MinDelay = time.Hour
	start := time.Now()
	_, err := Do(ctx, p, func(ctx context.Context, attempt int) (int, error) {
		return 0, failure.Transientf("extract", "503")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("sleep did not observe context deadline")
	}
}

func TestDelay_ClampedExponential(t *testing.T) {
	p := DefaultPolicy("x")
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},  // 2s clamped up to min
		{2, 5 * time.Second},  // 4s clamped up to min
		{3, 8 * time.Second},  // 2^3
		{5, 32 * time.Second}, // 2^5
		{6, 60 * time.Second}, // 64s clamped down to max
		{10, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDo_JitterWithinBounds(t *testing.T) {
	var waits []time.Duration
	p := testPolicy(2, &waits)
	p.Randomize = true
	_, _ = Do(context.Background(), p, func(ctx context.Context, attempt int) (int, error) {
		return 0, failure.Transientf("x", "503")
	})
	if len(waits) != 1 {
		t.Fatalf("expected 1 wait, got %v", waits)
	}
	if waits[0] < 5*time.Second || waits[0] >= 10*time.Second {
		t.Errorf("jittered delay %v outside [5s, 10s)", waits[0])
	}
}
