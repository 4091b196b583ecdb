// Package pipeline implements the executor: the staged transformation of
// one uploaded video into a structured daily summary.
package pipeline

import (
	"math"
	"sort"

	"github.com/lifestream/lifestream/internal/diary"
	"github.com/lifestream/lifestream/internal/scene"
)

// DefaultWindowSeconds is the fixed window width for synchronization.
const DefaultWindowSeconds = 300.0

// Window is one fixed-duration slice of the timeline with the audio and
// keyframes that belong to it.
type Window struct {
	Start         float64
	End           float64
	AudioSegments []diary.AudioSegment
	Keyframes     []scene.Keyframe
}

// Empty reports whether the window carries no signal at all.
func (w *Window) Empty() bool {
	return len(w.AudioSegments) == 0 && len(w.Keyframes) == 0
}

// Synchronize joins the audio and scene branches onto a common timeline of
// contiguous fixed-duration windows.
//
// The timeline spans [0, end] where end is the maximum of the video
// duration and any audio or keyframe timestamp, so late-running branch
// output is never dropped. Audio segments land in every window they
// overlap. Keyframes land in every window their owning scene overlaps;
// without scene boundaries they are assigned by timestamp.
func Synchronize(segments []diary.AudioSegment, keyframes []scene.Keyframe, boundaries []float64, videoDuration, windowSeconds float64) []Window {
	if windowSeconds <= 0 {
		windowSeconds = DefaultWindowSeconds
	}

	end := videoDuration
	for _, seg := range segments {
		end = math.Max(end, seg.End)
	}
	for _, kf := range keyframes {
		end = math.Max(end, kf.Timestamp)
	}
	if end <= 0 {
		return nil
	}

	count := int(math.Ceil(end / windowSeconds))
	windows := make([]Window, count)
	for i := range windows {
		windows[i].Start = float64(i) * windowSeconds
		windows[i].End = math.Min(windows[i].Start+windowSeconds, end)
	}

	for i := range windows {
		w := &windows[i]
		for _, seg := range segments {
			if seg.Start < w.End && seg.End > w.Start {
				w.AudioSegments = append(w.AudioSegments, seg)
			}
		}
	}

	assignKeyframes(windows, keyframes, boundaries, end)

	for i := range windows {
		sort.Slice(windows[i].AudioSegments, func(a, b int) bool {
			return windows[i].AudioSegments[a].Start < windows[i].AudioSegments[b].Start
		})
		sort.Slice(windows[i].Keyframes, func(a, b int) bool {
			return windows[i].Keyframes[a].Timestamp < windows[i].Keyframes[b].Timestamp
		})
	}

	return windows
}

// assignKeyframes places each keyframe in the windows its scene spans. A
// keyframe captured at boundary b_i represents the scene [b_i, b_{i+1});
// the last scene extends to the end of the timeline. When no boundary set
// is available, assignment falls back to the keyframe's own timestamp, and
// a frame sitting exactly on the timeline's right edge still belongs to
// the final window.
func assignKeyframes(windows []Window, keyframes []scene.Keyframe, boundaries []float64, end float64) {
	if len(windows) == 0 || len(keyframes) == 0 {
		return
	}

	useScenes := len(boundaries) > 0
	sorted := append([]float64(nil), boundaries...)
	sort.Float64s(sorted)

	for _, kf := range keyframes {
		if useScenes {
			sceneStart, sceneEnd := owningScene(kf.Timestamp, sorted, end)
			for i := range windows {
				if sceneStart < windows[i].End && sceneEnd > windows[i].Start {
					windows[i].Keyframes = append(windows[i].Keyframes, kf)
				}
			}
			continue
		}

		placed := false
		for i := range windows {
			if kf.Timestamp >= windows[i].Start && kf.Timestamp < windows[i].End {
				windows[i].Keyframes = append(windows[i].Keyframes, kf)
				placed = true
				break
			}
		}
		if !placed && kf.Timestamp == windows[len(windows)-1].End {
			last := &windows[len(windows)-1]
			last.Keyframes = append(last.Keyframes, kf)
		}
	}
}

// owningScene returns the scene interval containing ts. Boundaries are
// sorted ascending; the scene starting at boundary b_i is [b_i, b_{i+1}),
// the last scene runs to the end of the timeline, and anything before the
// first boundary belongs to [0, b_0).
func owningScene(ts float64, boundaries []float64, end float64) (float64, float64) {
	if len(boundaries) == 0 || ts < boundaries[0] {
		sceneEnd := end
		if len(boundaries) > 0 {
			sceneEnd = boundaries[0]
		}
		return 0, sceneEnd
	}

	idx := sort.SearchFloat64s(boundaries, ts)
	// SearchFloat64s returns the first boundary > ts unless ts is exactly a
	// boundary; normalize to the boundary at or before ts.
	if idx == len(boundaries) || boundaries[idx] > ts {
		idx--
	}

	start := boundaries[idx]
	sceneEnd := end
	if idx+1 < len(boundaries) {
		sceneEnd = boundaries[idx+1]
	}
	return start, sceneEnd
}
