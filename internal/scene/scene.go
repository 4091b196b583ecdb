// Package scene defines the executor's port onto the scene-change detector
// and provides the ffmpeg-backed keyframe extraction used with it.
package scene

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/lifestream/lifestream/internal/media"
)

// Keyframe is one frame captured at a scene boundary.
type Keyframe struct {
	Timestamp   float64 `json:"timestamp"`
	Path        string  `json:"path"`
	SceneChange bool    `json:"scene_change"`
}

// Detector finds scene boundaries and captures a representative frame per
// scene. Detect returns boundary offsets in seconds, ascending; an empty
// result means the video is one continuous shot.
type Detector interface {
	Detect(ctx context.Context, videoPath string, threshold float64) ([]float64, error)
	ExtractKeyframes(ctx context.Context, videoPath string, boundaries []float64, outDir string) ([]Keyframe, error)
}

// FrameExtractor captures one frame per boundary with ffmpeg. Detection
// itself is an external collaborator; this covers the capture half of the
// port so any boundary source can reuse it.
type FrameExtractor struct {
	ff *media.FFmpeg
}

// NewFrameExtractor wraps an ffmpeg binding.
func NewFrameExtractor(ff *media.FFmpeg) *FrameExtractor {
	return &FrameExtractor{ff: ff}
}

// ExtractKeyframes captures one JPEG per boundary into outDir. Boundary i
// produces frame_%04d.jpg named by index.
func (e *FrameExtractor) ExtractKeyframes(ctx context.Context, videoPath string, boundaries []float64, outDir string) ([]Keyframe, error) {
	frames := make([]Keyframe, 0, len(boundaries))
	for i, b := range boundaries {
		out := filepath.Join(outDir, fmt.Sprintf("frame_%04d.jpg", i))
		if err := e.ff.ExtractFrame(ctx, videoPath, b, out); err != nil {
			return nil, fmt.Errorf("keyframe at %.3fs: %w", b, err)
		}
		frames = append(frames, Keyframe{Timestamp: b, Path: out, SceneChange: true})
	}
	return frames, nil
}

// SyntheticBoundaries returns the fallback boundary set for a video with no
// detected scene changes: the full duration as a single boundary, treating
// the whole recording as one scene.
func SyntheticBoundaries(duration float64) []float64 {
	return []float64{duration}
}
