package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/segment"
)

type fakeResolver struct {
	calls int
	url   string
	err   error
}

func (f *fakeResolver) Resolve(_ context.Context, _ Locator) (string, error) {
	f.calls++
	return f.url, f.err
}

type fakeClipper struct {
	height    int
	probes    int
	requests  []ClipRequest
	clipErr   error
	writeSize int
	empty     bool
}

func (f *fakeClipper) Probe(_ context.Context, _ string) (*ProbeInfo, error) {
	f.probes++
	return &ProbeInfo{Width: f.height * 16 / 9, Height: f.height}, nil
}

func (f *fakeClipper) Clip(_ context.Context, req ClipRequest) error {
	f.requests = append(f.requests, req)
	if f.clipErr != nil {
		// Leave a partial file behind the way a crashed ffmpeg would.
		os.WriteFile(req.Output, []byte("partial"), 0o644)
		return f.clipErr
	}
	if f.empty {
		return os.WriteFile(req.Output, nil, 0o644)
	}
	size := f.writeSize
	if size == 0 {
		size = 1024
	}
	return os.WriteFile(req.Output, make([]byte, size), 0o644)
}

type fakeStager struct {
	staged  []StageRequest
	removed []string
	err     error
}

func (f *fakeStager) Stage(_ context.Context, req StageRequest) (*Staged, error) {
	if _, err := os.Stat(req.LocalPath); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	f.staged = append(f.staged, req)
	uri := "https://files.example/" + filepath.Base(req.LocalPath)
	return &Staged{
		URI: uri,
		Remove: func(context.Context) error {
			f.removed = append(f.removed, uri)
			return nil
		},
	}, nil
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func newExtractAdapter(t *testing.T, clipper *fakeClipper, stager *fakeStager) (*ExtractAdapter, *fakeResolver, string) {
	t.Helper()
	dir := t.TempDir()
	res := &fakeResolver{url: "https://signed.example/video.mp4?sig=1"}
	return &ExtractAdapter{
		Locator:        Locator{Raw: "s3://vods/day1.mp4", Scheme: SchemeS3, Bucket: "vods", Object: "day1.mp4"},
		RunID:          "run-test",
		Resolver:       res,
		Clipper:        clipper,
		Stager:         stager,
		TempDir:        dir,
		DownscaleAbove: TargetHeight,
	}, res, dir
}

func TestExtractAdapter_Success(t *testing.T) {
	clipper := &fakeClipper{height: 1080}
	stager := &fakeStager{}
	a, res, dir := newExtractAdapter(t, clipper, stager)
	ctx := context.Background()

	segs := []segment.Segment{{Start: 0, End: 1800}, {Start: 1800, End: 2400}}
	for i, seg := range segs {
		ref, err := a.Acquire(ctx, i, seg)
		if err != nil {
			t.Fatalf("Acquire(%d): %v", i, err)
		}
		if ref.Offset != seg.Start {
			t.Errorf("Offset = %v, want %v", ref.Offset, seg.Start)
		}
		if ref.Clipped {
			t.Error("extracted clip must not be marked clipped")
		}
		if ref.SizeBytes != 1024 {
			t.Errorf("SizeBytes = %d", ref.SizeBytes)
		}
		if names := dirEntries(t, dir); len(names) != 0 {
			t.Errorf("temp files left after Acquire: %v", names)
		}
		if err := ref.Release(ctx); err != nil {
			t.Errorf("Release: %v", err)
		}
	}

	if res.calls != 1 || clipper.probes != 1 {
		t.Errorf("resolve/probe should run once, got %d/%d", res.calls, clipper.probes)
	}
	if len(clipper.requests) != 2 {
		t.Fatalf("clip requests = %d", len(clipper.requests))
	}
	second := clipper.requests[1]
	if second.Start != 1800 || second.Duration != 600 || !second.Downscale {
		t.Errorf("second clip = %+v", second)
	}
	if len(stager.removed) != 2 {
		t.Errorf("staged copies removed = %d, want 2", len(stager.removed))
	}
}

func TestExtractAdapter_NoDownscaleAt720(t *testing.T) {
	clipper := &fakeClipper{height: 720}
	a, _, _ := newExtractAdapter(t, clipper, &fakeStager{})
	ref, err := a.Acquire(context.Background(), 0, segment.Segment{Start: 0, End: 60})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer ref.Release(context.Background())
	if clipper.requests[0].Downscale {
		t.Error("720p source must be stream copied")
	}
}

func TestExtractAdapter_CleanupOnFailure(t *testing.T) {
	tests := []struct {
		name      string
		clipper   *fakeClipper
		stager    *fakeStager
		wantClass failure.Class
	}{
		{
			name:      "ffmpeg crash",
			clipper:   &fakeClipper{height: 1080, clipErr: failure.Transientf("acquire", "ffmpeg exited 1")},
			stager:    &fakeStager{},
			wantClass: failure.Transient,
		},
		{
			name:      "staging rejected",
			clipper:   &fakeClipper{height: 1080},
			stager:    &fakeStager{err: failure.Configf("acquire", "quota")},
			wantClass: failure.Config,
		},
		{
			name:      "empty clip",
			clipper:   &fakeClipper{height: 1080, empty: true},
			stager:    &fakeStager{},
			wantClass: failure.Transient,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, dir := newExtractAdapter(t, tt.clipper, tt.stager)
			ref, err := a.Acquire(context.Background(), 0, segment.Segment{Start: 0, End: 60})
			if err == nil {
				ref.Release(context.Background())
				t.Fatal("expected error")
			}
			if got := failure.Classify(err); got != tt.wantClass {
				t.Errorf("class = %v, want %v (err: %v)", got, tt.wantClass, err)
			}
			if names := dirEntries(t, dir); len(names) != 0 {
				t.Errorf("temp files left after failure: %v", names)
			}
		})
	}
}

func TestExtractAdapter_ResolveFailure(t *testing.T) {
	clipper := &fakeClipper{height: 1080}
	a, res, _ := newExtractAdapter(t, clipper, &fakeStager{})
	res.err = failure.Permanentf("acquire", "object not found: s3://vods/day1.mp4")

	_, err := a.Acquire(context.Background(), 0, segment.Segment{Start: 0, End: 60})
	if failure.Classify(err) != failure.Input {
		t.Fatalf("class = %v, want input", failure.Classify(err))
	}
	if len(clipper.requests) != 0 {
		t.Error("ffmpeg must not run when the source cannot be resolved")
	}
}

func TestExtractAdapter_MissingTempDir(t *testing.T) {
	a, _, _ := newExtractAdapter(t, &fakeClipper{height: 720}, &fakeStager{})
	a.TempDir = filepath.Join(t.TempDir(), "does-not-exist")
	_, err := a.Acquire(context.Background(), 0, segment.Segment{Start: 0, End: 60})
	if err == nil {
		t.Fatal("expected error")
	}
	if failure.Classify(err) != failure.Transient {
		t.Errorf("class = %v, want transient", failure.Classify(err))
	}
}

func TestDirectAdapter(t *testing.T) {
	a := &DirectAdapter{Locator: Locator{Raw: "gs://broadcasts/day1.mp4", Scheme: SchemeGCS}}
	ref, err := a.Acquire(context.Background(), 2, segment.Segment{Start: 3600, End: 5400})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if ref.URI != "gs://broadcasts/day1.mp4" || ref.MIMEType != ClipMIMEType {
		t.Errorf("ref = %+v", ref)
	}
	if !ref.Clipped || ref.StartOffset != time.Hour || ref.EndOffset != 90*time.Minute {
		t.Errorf("clip window = %v..%v clipped=%v", ref.StartOffset, ref.EndOffset, ref.Clipped)
	}
	if ref.Offset != 0 {
		t.Errorf("Offset = %v, want 0", ref.Offset)
	}
	if err := ref.Release(context.Background()); err != nil {
		t.Errorf("Release: %v", err)
	}
}

func TestVideoRef_ReleaseOnceInReverse(t *testing.T) {
	var order []int
	ref := &VideoRef{}
	ref.OnRelease(func(context.Context) error { order = append(order, 1); return nil })
	ref.OnRelease(func(context.Context) error { order = append(order, 2); return errors.New("delete failed") })

	if err := ref.Release(context.Background()); err == nil {
		t.Error("expected joined error")
	}
	if err := ref.Release(context.Background()); err != nil {
		t.Errorf("second Release: %v", err)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("order = %v, want [2 1]", order)
	}

	var nilRef *VideoRef
	if err := nilRef.Release(context.Background()); err != nil {
		t.Errorf("nil Release: %v", err)
	}
}
