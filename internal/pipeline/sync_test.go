package pipeline

import (
	"testing"

	"github.com/lifestream/lifestream/internal/diary"
	"github.com/lifestream/lifestream/internal/scene"
)

func TestSynchronizeSingleWindow(t *testing.T) {
	segments := []diary.AudioSegment{
		{Start: 10, End: 20, SpeakerID: "SPEAKER_00", Text: "hello"},
		{Start: 100, End: 110, SpeakerID: "SPEAKER_01", Text: "hi"},
	}
	keyframes := []scene.Keyframe{{Timestamp: 50, Path: "f0.jpg", SceneChange: true}}

	windows := Synchronize(segments, keyframes, []float64{50}, 300, 300)

	if len(windows) != 1 {
		t.Fatalf("windows = %d, want 1", len(windows))
	}
	w := windows[0]
	if w.Start != 0 || w.End != 300 {
		t.Errorf("window bounds = [%v, %v)", w.Start, w.End)
	}
	if len(w.AudioSegments) != 2 || len(w.Keyframes) != 1 {
		t.Errorf("window contents: %d segments, %d keyframes", len(w.AudioSegments), len(w.Keyframes))
	}
}

func TestSynchronizeTwoWindowsWithShortTail(t *testing.T) {
	segments := []diary.AudioSegment{
		{Start: 10, End: 20, Text: "first window"},
		{Start: 350, End: 360, Text: "second window"},
	}

	windows := Synchronize(segments, nil, nil, 420, 300)

	if len(windows) != 2 {
		t.Fatalf("windows = %d, want 2", len(windows))
	}
	if windows[1].Start != 300 || windows[1].End != 420 {
		t.Errorf("final window = [%v, %v), want [300, 420)", windows[1].Start, windows[1].End)
	}
	if len(windows[0].AudioSegments) != 1 || windows[0].AudioSegments[0].Text != "first window" {
		t.Errorf("first window audio: %+v", windows[0].AudioSegments)
	}
	if len(windows[1].AudioSegments) != 1 || windows[1].AudioSegments[0].Text != "second window" {
		t.Errorf("second window audio: %+v", windows[1].AudioSegments)
	}
}

func TestAudioSpanningBoundaryLandsInBothWindows(t *testing.T) {
	segments := []diary.AudioSegment{{Start: 290, End: 310, Text: "spans"}}

	windows := Synchronize(segments, nil, nil, 600, 300)

	if len(windows) != 2 {
		t.Fatalf("windows = %d, want 2", len(windows))
	}
	if len(windows[0].AudioSegments) != 1 || len(windows[1].AudioSegments) != 1 {
		t.Errorf("boundary-spanning segment must appear in both windows: %d, %d",
			len(windows[0].AudioSegments), len(windows[1].AudioSegments))
	}
}

func TestKeyframeAssignedBySceneOverlap(t *testing.T) {
	// Scene starting at 250 runs to the next boundary at 400, so its
	// keyframe belongs to both windows even though its timestamp sits in
	// the first.
	keyframes := []scene.Keyframe{{Timestamp: 250, Path: "f.jpg", SceneChange: true}}
	boundaries := []float64{250, 400}

	windows := Synchronize(nil, keyframes, boundaries, 600, 300)

	if len(windows) != 2 {
		t.Fatalf("windows = %d, want 2", len(windows))
	}
	if len(windows[0].Keyframes) != 1 {
		t.Errorf("first window keyframes = %d, want 1", len(windows[0].Keyframes))
	}
	if len(windows[1].Keyframes) != 1 {
		t.Errorf("second window keyframes = %d, want 1 (scene spans boundary)", len(windows[1].Keyframes))
	}
}

func TestKeyframeTimestampFallbackWithoutScenes(t *testing.T) {
	keyframes := []scene.Keyframe{
		{Timestamp: 100, Path: "a.jpg"},
		{Timestamp: 400, Path: "b.jpg"},
	}

	windows := Synchronize(nil, keyframes, nil, 600, 300)

	if len(windows) != 2 {
		t.Fatalf("windows = %d, want 2", len(windows))
	}
	if len(windows[0].Keyframes) != 1 || windows[0].Keyframes[0].Path != "a.jpg" {
		t.Errorf("first window keyframes: %+v", windows[0].Keyframes)
	}
	if len(windows[1].Keyframes) != 1 || windows[1].Keyframes[0].Path != "b.jpg" {
		t.Errorf("second window keyframes: %+v", windows[1].Keyframes)
	}
}

func TestFinalKeyframeOnRightEdgeJoinsLastWindow(t *testing.T) {
	// A synthetic boundary at the full duration produces a keyframe whose
	// timestamp equals the timeline end; it must not be dropped.
	keyframes := []scene.Keyframe{{Timestamp: 600, Path: "last.jpg"}}

	windows := Synchronize(nil, keyframes, nil, 600, 300)

	if len(windows) != 2 {
		t.Fatalf("windows = %d, want 2", len(windows))
	}
	if len(windows[1].Keyframes) != 1 {
		t.Errorf("edge keyframe dropped: %+v", windows[1].Keyframes)
	}
}

func TestTimelineExtendsBeyondVideoDuration(t *testing.T) {
	// Branch output past the probed duration grows the timeline.
	segments := []diary.AudioSegment{{Start: 580, End: 650, Text: "late"}}

	windows := Synchronize(segments, nil, nil, 600, 300)

	if len(windows) != 3 {
		t.Fatalf("windows = %d, want 3 (timeline extends to 650)", len(windows))
	}
	if windows[2].End != 650 {
		t.Errorf("final window end = %v, want 650", windows[2].End)
	}
}

func TestSynchronizeEmptyInputs(t *testing.T) {
	if windows := Synchronize(nil, nil, nil, 0, 300); windows != nil {
		t.Errorf("expected no windows for an empty timeline, got %d", len(windows))
	}
}

func TestOwningScene(t *testing.T) {
	boundaries := []float64{100, 200, 300}
	tests := []struct {
		ts        float64
		wantStart float64
		wantEnd   float64
	}{
		{50, 0, 100},
		{100, 100, 200},
		{150, 100, 200},
		{300, 300, 600},
		{450, 300, 600},
	}
	for _, tt := range tests {
		start, end := owningScene(tt.ts, boundaries, 600)
		if start != tt.wantStart || end != tt.wantEnd {
			t.Errorf("owningScene(%v) = [%v, %v), want [%v, %v)", tt.ts, start, end, tt.wantStart, tt.wantEnd)
		}
	}
}
