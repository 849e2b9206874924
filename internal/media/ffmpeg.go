package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/failure"
	"github.com/fpang/hand-extractor/internal/metrics"
)

// Target size for re-encoded clips. Sources at or below TargetHeight are
// stream-copied untouched.
const (
	TargetWidth  = 1280
	TargetHeight = 720
)

// ProbeInfo is the subset of ffprobe output the extractor needs.
type ProbeInfo struct {
	Width    int
	Height   int
	Duration time.Duration
	Codec    string
}

// ClipRequest describes one ffmpeg extraction.
type ClipRequest struct {
	Input  string
	Output string
	Start  float64
	// Duration is the clip length in seconds.
	Duration float64
	// Downscale re-encodes to TargetWidth x TargetHeight instead of
	// stream-copying.
	Downscale bool
}

// Clipper probes sources and cuts clips from them.
type Clipper interface {
	Probe(ctx context.Context, input string) (*ProbeInfo, error)
	Clip(ctx context.Context, req ClipRequest) error
}

// FFmpeg is the Clipper backed by the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

// NewFFmpeg locates ffmpeg and ffprobe on PATH.
func NewFFmpeg() (*FFmpeg, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, failure.Configf("acquire", "ffmpeg not found in PATH: install FFmpeg with: brew install ffmpeg (macOS) or apt install ffmpeg (Linux)")
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, failure.Configf("acquire", "ffprobe not found in PATH: %v", err)
	}
	log.Debug().Str("ffmpeg", ffmpegPath).Str("ffprobe", ffprobePath).Msg("ffmpeg found")
	return &FFmpeg{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}, nil
}

// IsFFmpegAvailable returns true if ffmpeg and ffprobe are on PATH.
func IsFFmpegAvailable() bool {
	_, err := NewFFmpeg()
	return err == nil
}

// ffprobeOutput represents the JSON structure from ffprobe.
type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeStream struct {
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Probe reads the first video stream's resolution and the container duration.
func (f *FFmpeg) Probe(ctx context.Context, input string) (*ProbeInfo, error) {
	cmd := exec.CommandContext(ctx, f.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, failure.Transientf("acquire", "ffprobe failed: %v", err)
	}
	return parseProbe(output)
}

func parseProbe(output []byte) (*ProbeInfo, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &ProbeInfo{}
	if probe.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			info.Duration = time.Duration(dur * float64(time.Second))
		}
	}
	for _, s := range probe.Streams {
		if s.CodecType == "video" {
			info.Width = s.Width
			info.Height = s.Height
			info.Codec = s.CodecName
			break
		}
	}
	return info, nil
}

// Clip runs ffmpeg for req. Failures are transient unless the disk is full.
func (f *FFmpeg) Clip(ctx context.Context, req ClipRequest) error {
	args := buildClipArgs(req)
	log.Debug().Strs("args", args).Msg("Running FFmpeg extraction")

	start := time.Now()
	cmd := exec.CommandContext(ctx, f.FFmpegPath, args...)
	output, err := cmd.CombinedOutput()
	elapsed := time.Since(start)

	rec := metrics.New(metrics.Namespace).
		Dimension("Operation", "clip").
		Duration("ClipExtractionMs", elapsed)
	if err != nil {
		rec.Count("ClipExtractionErrors").Flush()
		tail := tailLines(string(output), 10)
		log.Warn().Err(err).Str("ffmpeg_output", tail).Dur("duration", elapsed).Msg("FFmpeg extraction failed")
		if strings.Contains(tail, "No space left on device") {
			return failure.New(failure.Config, "acquire", fmt.Errorf("ffmpeg: %w", syscall.ENOSPC))
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return failure.Transientf("acquire", "ffmpeg extraction failed: %v: %s", err, tail)
	}
	rec.Count("ClipExtractions").Flush()

	log.Info().
		Float64("start", req.Start).
		Float64("duration", req.Duration).
		Bool("downscale", req.Downscale).
		Dur("elapsed", elapsed).
		Msg("Clip extracted")
	return nil
}

// buildClipArgs seeks before the input for a fast keyframe seek, then either
// stream-copies or downscales.
func buildClipArgs(req ClipRequest) []string {
	args := []string{
		"-hide_banner",
		"-ss", formatSeconds(req.Start),
		"-i", req.Input,
		"-t", formatSeconds(req.Duration),
		// Stream mapping: video required, audio optional.
		"-map", "0:v:0", "-map", "0:a?",
	}

	if req.Downscale {
		vf := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease:force_divisible_by=2", TargetWidth, TargetHeight)
		args = append(args,
			"-vf", vf,
			"-c:v", "libx264", "-preset", "veryfast", "-crf", "28",
			"-c:a", "aac", "-b:a", "96k",
		)
	} else {
		args = append(args, "-c", "copy", "-avoid_negative_ts", "make_zero")
	}

	args = append(args, "-movflags", "+faststart", "-f", "mp4", "-y", req.Output)
	return args
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// isDiskFull reports whether err comes from a full filesystem.
func isDiskFull(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr.Err, syscall.ENOSPC)
	}
	return errors.Is(err, syscall.ENOSPC)
}
