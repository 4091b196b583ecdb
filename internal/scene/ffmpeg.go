package scene

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/lifestream/lifestream/internal/media"
)

// detectTimeout bounds one scene-detection pass over the whole file.
const detectTimeout = 5 * time.Minute

// ptsTimeRe pulls frame timestamps out of showinfo filter output.
var ptsTimeRe = regexp.MustCompile(`pts_time:([0-9]+(?:\.[0-9]+)?)`)

// Compile-time check that FFmpegDetector implements Detector.
var _ Detector = (*FFmpegDetector)(nil)

// FFmpegDetector finds scene changes with ffmpeg's scene filter and
// captures keyframes at the detected boundaries.
type FFmpegDetector struct {
	FFmpegPath string
	extractor  *FrameExtractor
}

// NewFFmpegDetector creates a detector sharing the given ffmpeg binding
// for frame capture.
func NewFFmpegDetector(ff *media.FFmpeg) *FFmpegDetector {
	path := "ffmpeg"
	if ff != nil && ff.FFmpegPath != "" {
		path = ff.FFmpegPath
	}
	return &FFmpegDetector{FFmpegPath: path, extractor: NewFrameExtractor(ff)}
}

// Detect runs a decode pass selecting frames whose scene score exceeds
// threshold and returns their timestamps in ascending order.
func (d *FFmpegDetector) Detect(ctx context.Context, videoPath string, threshold float64) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()

	filter := fmt.Sprintf("select='gt(scene,%g)',showinfo", threshold)
	cmd := exec.CommandContext(ctx, d.FFmpegPath, // #nosec G204 - fixed binary, controlled args
		"-i", videoPath,
		"-vf", filter,
		"-f", "null", "-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("scene detection: %w: %s", err, tailOf(stderr.String()))
	}

	return ParseShowinfoTimestamps(stderr.String()), nil
}

// ExtractKeyframes captures one frame per boundary.
func (d *FFmpegDetector) ExtractKeyframes(ctx context.Context, videoPath string, boundaries []float64, outDir string) ([]Keyframe, error) {
	return d.extractor.ExtractKeyframes(ctx, videoPath, boundaries, outDir)
}

// ParseShowinfoTimestamps extracts sorted, de-duplicated pts_time values
// from showinfo filter logging.
func ParseShowinfoTimestamps(out string) []float64 {
	matches := ptsTimeRe.FindAllStringSubmatch(out, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := map[float64]bool{}
	var stamps []float64
	for _, m := range matches {
		ts, err := strconv.ParseFloat(m[1], 64)
		if err != nil || seen[ts] {
			continue
		}
		seen[ts] = true
		stamps = append(stamps, ts)
	}
	sort.Float64s(stamps)
	return stamps
}

func tailOf(s string) string {
	const max = 512
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
