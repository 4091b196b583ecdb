// Package media wraps the ffmpeg and ffprobe binaries for the pipeline's
// audio extraction, keyframe capture, and probing needs.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors for media operations.
var (
	ErrUnsupportedFormat = errors.New("media: unsupported container format")
	ErrProbe             = errors.New("media: probe failed")
)

// Timeouts per operation class. Audio extraction walks the whole file;
// frame capture seeks and decodes one frame.
const (
	audioExtractTimeout = 5 * time.Minute
	frameTimeout        = 30 * time.Second
	probeTimeout        = 30 * time.Second
)

// stderrTailBytes caps how much tool output a CommandError carries.
const stderrTailBytes = 2048

// CommandError reports a failed tool invocation with the tail of its stderr,
// which is where ffmpeg explains itself.
type CommandError struct {
	Tool   string
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("media: %s failed: %v: %s", e.Tool, e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error { return e.Err }

// supportedExtensions is the container allowlist for intake.
var supportedExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".avi":  true,
	".webm": true,
}

// ValidateFormat checks the file extension against the supported container
// list before any tool is spawned.
func ValidateFormat(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !supportedExtensions[ext] {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	return nil
}

// FFmpeg invokes the ffmpeg and ffprobe binaries. Paths default to the
// bare names resolved on PATH.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

// New returns an FFmpeg bound to the default binary names.
func New() *FFmpeg {
	return &FFmpeg{FFmpegPath: "ffmpeg", FFprobePath: "ffprobe"}
}

// ExtractAudio decodes the input's audio track to 16 kHz mono PCM WAV, the
// format the diarization and transcription services expect. input may be a
// local path or a presigned URL; ffmpeg streams either.
func (f *FFmpeg) ExtractAudio(ctx context.Context, input, outputWAV string) error {
	args := []string{
		"-y",
		"-i", input,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		outputWAV,
	}
	return f.run(ctx, f.ffmpeg(), args, audioExtractTimeout)
}

// ExtractFrame captures a single frame at the given offset as a JPEG.
func (f *FFmpeg) ExtractFrame(ctx context.Context, input string, offsetSec float64, outputJPEG string) error {
	args := []string{
		"-y",
		"-ss", formatOffset(offsetSec),
		"-i", input,
		"-frames:v", "1",
		"-q:v", "2",
		outputJPEG,
	}
	return f.run(ctx, f.ffmpeg(), args, frameTimeout)
}

// Duration probes the container duration in seconds.
func (f *FFmpeg) Duration(ctx context.Context, input string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	}
	cmd := exec.CommandContext(ctx, f.ffprobe(), args...) // #nosec G204 - fixed binary, controlled args
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, &CommandError{
			Tool:   f.ffprobe(),
			Args:   args,
			Stderr: tail(stderr.String()),
			Err:    err,
		}
	}
	return ParseProbeDuration(stdout.String())
}

// ParseProbeDuration parses ffprobe's duration output line.
func ParseProbeDuration(out string) (float64, error) {
	s := strings.TrimSpace(out)
	if s == "" || s == "N/A" {
		return 0, fmt.Errorf("%w: no duration in output %q", ErrProbe, out)
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse duration %q: %w", ErrProbe, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: negative duration %v", ErrProbe, d)
	}
	return d, nil
}

func (f *FFmpeg) ffmpeg() string {
	if f.FFmpegPath != "" {
		return f.FFmpegPath
	}
	return "ffmpeg"
}

func (f *FFmpeg) ffprobe() string {
	if f.FFprobePath != "" {
		return f.FFprobePath
	}
	return "ffprobe"
}

func (f *FFmpeg) run(ctx context.Context, tool string, args []string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, tool, args...) // #nosec G204 - fixed binary, controlled args
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return &CommandError{
			Tool:   tool,
			Args:   args,
			Stderr: tail(stderr.String()),
			Err:    err,
		}
	}
	return nil
}

// formatOffset renders a seek offset with millisecond precision.
func formatOffset(sec float64) string {
	return strconv.FormatFloat(sec, 'f', 3, 64)
}

// tail returns the last stderrTailBytes of s.
func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= stderrTailBytes {
		return s
	}
	return s[len(s)-stderrTailBytes:]
}
