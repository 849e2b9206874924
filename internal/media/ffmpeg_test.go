package media

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestBuildClipArgs_StreamCopy(t *testing.T) {
	args := buildClipArgs(ClipRequest{Input: "https://src/video.mp4", Output: "/tmp/out.mp4", Start: 1800, Duration: 1800})
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"-ss 1800.000 -i https://src/video.mp4 -t 1800.000",
		"-map 0:v:0 -map 0:a?",
		"-c copy",
		"-avoid_negative_ts make_zero",
		"-f mp4 -y /tmp/out.mp4",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q:\n%s", want, joined)
		}
	}
	if slices.Contains(args, "libx264") {
		t.Error("stream copy must not re-encode")
	}
	if args[len(args)-1] != "/tmp/out.mp4" {
		t.Errorf("output must be last, got %s", args[len(args)-1])
	}
}

func TestBuildClipArgs_Downscale(t *testing.T) {
	args := buildClipArgs(ClipRequest{Input: "in.mp4", Output: "out.mp4", Start: 0, Duration: 90.5, Downscale: true})
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, fmt.Sprintf("scale=%d:%d", TargetWidth, TargetHeight)) {
		t.Errorf("missing scale filter: %s", joined)
	}
	if !strings.Contains(joined, "-c:v libx264") {
		t.Errorf("missing libx264: %s", joined)
	}
	if strings.Contains(joined, "-c copy") {
		t.Errorf("downscale must not stream copy: %s", joined)
	}
	if !strings.Contains(joined, "-t 90.500") {
		t.Errorf("duration not formatted: %s", joined)
	}
}

func TestParseProbe(t *testing.T) {
	out := []byte(`{
		"format": {"duration": "5400.250000"},
		"streams": [
			{"codec_type": "audio", "codec_name": "aac"},
			{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080}
		]
	}`)
	info, err := parseProbe(out)
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if info.Width != 1920 || info.Height != 1080 || info.Codec != "h264" {
		t.Errorf("info = %+v", info)
	}
	if info.Duration != 5400*time.Second+250*time.Millisecond {
		t.Errorf("duration = %v", info.Duration)
	}

	if _, err := parseProbe([]byte("not json")); err == nil {
		t.Error("expected error for malformed ffprobe output")
	}
}

func TestTailLines(t *testing.T) {
	s := "a\nb\nc\nd\n"
	if got := tailLines(s, 2); got != "c\nd" {
		t.Errorf("tailLines = %q", got)
	}
	if got := tailLines("only", 5); got != "only" {
		t.Errorf("tailLines = %q", got)
	}
}

func TestIsDiskFull(t *testing.T) {
	if !isDiskFull(&os.PathError{Op: "write", Path: "/tmp/x", Err: syscall.ENOSPC}) {
		t.Error("PathError ENOSPC should be disk full")
	}
	if !isDiskFull(fmt.Errorf("copy: %w", syscall.ENOSPC)) {
		t.Error("wrapped ENOSPC should be disk full")
	}
	if isDiskFull(errors.New("permission denied")) {
		t.Error("unrelated error reported as disk full")
	}
}

func TestFFmpeg_Probe(t *testing.T) {
	if !IsFFmpegAvailable() {
		t.Skip("ffmpeg not available")
	}
	f, err := NewFFmpeg()
	if err != nil {
		t.Fatalf("NewFFmpeg: %v", err)
	}
	if _, err := f.Probe(t.Context(), "/nonexistent/file.mp4"); err == nil {
		t.Error("expected probe of missing file to fail")
	}
}
