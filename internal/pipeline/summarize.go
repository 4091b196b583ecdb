package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lifestream/lifestream/internal/diary"
	"github.com/lifestream/lifestream/internal/llm"
)

// genericActivity is the placeholder the model falls back to when it has
// nothing to say; it is replaced with a transcript prefix so the diary
// never shows a blank label next to real speech.
const genericActivity = "Unknown activity"

// activityPrefixLen caps the transcript prefix used as a fallback label.
const activityPrefixLen = 80

const systemPrompt = `You are a diary assistant. You receive one time window of a first-person
video recording: the diarized transcript and descriptions of scene keyframes.
Reply with a single JSON object, no prose, with these fields:
activity, location, context_type, transcript_summary,
per_speaker_summary (object keyed by speaker id), visual_summary,
action_items (array of strings), source_reliability (High|Medium|Low).
Leave fields empty when the window gives no evidence for them.`

// windowReply is the shape expected back from the model. Every field is
// optional; parsing is tolerant.
type windowReply struct {
	Activity          string            `json:"activity"`
	Location          string            `json:"location"`
	ContextType       string            `json:"context_type"`
	TranscriptSummary string            `json:"transcript_summary"`
	PerSpeakerSummary map[string]string `json:"per_speaker_summary"`
	VisualSummary     string            `json:"visual_summary"`
	ActionItems       []string          `json:"action_items"`
	SourceReliability string            `json:"source_reliability"`
}

// Summarizer turns synchronized windows into diary time blocks, one model
// call per non-empty window.
type Summarizer struct {
	client      llm.Client
	maxAttempts int
	logger      *slog.Logger
}

// NewSummarizer wires the model client and retry bound.
func NewSummarizer(client llm.Client, maxAttempts int, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{client: client, maxAttempts: maxAttempts, logger: logger}
}

// Summarize produces the daily summary for a set of windows. Empty windows
// skip the model and get a minimal placeholder block.
func (s *Summarizer) Summarize(ctx context.Context, windows []Window, videoSource string, videoDuration float64) (*diary.DailySummary, error) {
	blocks := make([]diary.TimeBlock, 0, len(windows))
	for i := range windows {
		w := &windows[i]
		if w.Empty() {
			blocks = append(blocks, placeholderBlock(w))
			continue
		}

		reply, err := llm.Summarize(ctx, s.client, s.logger, s.maxAttempts, systemPrompt, windowPrompt(w))
		if err != nil {
			return nil, fmt.Errorf("summarize window %s: %w", diary.FormatTimestamp(w.Start), err)
		}
		blocks = append(blocks, blockFromReply(w, reply))
	}

	return &diary.DailySummary{
		Date:          time.Now().UTC().Format("2006-01-02"),
		VideoSource:   videoSource,
		TimeBlocks:    blocks,
		TotalDuration: videoDuration,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// windowPrompt renders one window's evidence for the model.
func windowPrompt(w *Window) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Window %s - %s.\n\n", diary.FormatTimestamp(w.Start), diary.FormatTimestamp(w.End))

	if len(w.AudioSegments) > 0 {
		b.WriteString("Transcript:\n")
		for _, seg := range w.AudioSegments {
			fmt.Fprintf(&b, "[%s] %s: %s\n", diary.FormatTimestamp(seg.Start), seg.SpeakerID, seg.Text)
		}
		b.WriteString("\n")
	} else {
		b.WriteString("No speech in this window.\n\n")
	}

	if len(w.Keyframes) > 0 {
		b.WriteString("Scene keyframes at: ")
		for i, kf := range w.Keyframes {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(diary.FormatTimestamp(kf.Timestamp))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// blockFromReply builds the time block for a window from the model's raw
// reply, applying all fallbacks.
func blockFromReply(w *Window, raw string) diary.TimeBlock {
	reply := parseReply(raw)

	block := diary.TimeBlock{
		StartTime:         diary.FormatTimestamp(w.Start),
		EndTime:           diary.FormatTimestamp(w.End),
		Activity:          reply.Activity,
		Location:          reply.Location,
		ContextType:       reply.ContextType,
		TranscriptSummary: reply.TranscriptSummary,
		PerSpeakerSummary: reply.PerSpeakerSummary,
		VisualSummary:     reply.VisualSummary,
		ActionItems:       reply.ActionItems,
		SourceReliability: parseReliability(reply.SourceReliability, w),
		Participants:      windowParticipants(w),
		AudioSegments:     w.AudioSegments,
		VideoFrames:       windowFrames(w),
	}

	if block.Activity == "" || block.Activity == genericActivity {
		if prefix := transcriptPrefix(w); prefix != "" {
			block.Activity = prefix
		} else if block.Activity == "" {
			block.Activity = genericActivity
		}
	}
	if block.ActionItems == nil {
		block.ActionItems = []string{}
	}

	meeting := isMeeting(&block)
	block.IsMeeting = &meeting

	return block
}

// parseReply decodes the model's JSON, tolerating code fences and leading
// prose. A reply that cannot be decoded at all yields the zero value and
// every field falls back.
func parseReply(raw string) windowReply {
	var reply windowReply

	text := strings.TrimSpace(raw)
	if i := strings.Index(text, "{"); i >= 0 {
		if j := strings.LastIndex(text, "}"); j > i {
			text = text[i : j+1]
		}
	}
	_ = json.Unmarshal([]byte(text), &reply)
	return reply
}

// parseReliability normalizes the model's rating, falling back to a signal
// heuristic: both branches present is High, one is Medium, neither is Low.
func parseReliability(s string, w *Window) diary.SourceReliability {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return diary.ReliabilityHigh
	case "medium":
		return diary.ReliabilityMedium
	case "low":
		return diary.ReliabilityLow
	}

	switch {
	case len(w.AudioSegments) > 0 && len(w.Keyframes) > 0:
		return diary.ReliabilityHigh
	case len(w.AudioSegments) > 0 || len(w.Keyframes) > 0:
		return diary.ReliabilityMedium
	default:
		return diary.ReliabilityLow
	}
}

// isMeeting marks blocks with two or more distinct speakers, or a context
// the model already labelled as a meeting.
func isMeeting(b *diary.TimeBlock) bool {
	if strings.Contains(strings.ToLower(b.ContextType), "meeting") {
		return true
	}
	return len(b.Participants) >= 2
}

// placeholderBlock is the record for a window with no audio and no frames.
func placeholderBlock(w *Window) diary.TimeBlock {
	meeting := false
	return diary.TimeBlock{
		StartTime:         diary.FormatTimestamp(w.Start),
		EndTime:           diary.FormatTimestamp(w.End),
		Activity:          "No activity detected",
		SourceReliability: diary.ReliabilityLow,
		IsMeeting:         &meeting,
		Participants:      []diary.Participant{},
		ActionItems:       []string{},
		AudioSegments:     []diary.AudioSegment{},
		VideoFrames:       []diary.VideoFrame{},
	}
}

// windowParticipants lists the distinct speakers heard in a window, in
// order of first appearance.
func windowParticipants(w *Window) []diary.Participant {
	seen := map[string]bool{}
	var out []diary.Participant
	for _, seg := range w.AudioSegments {
		if seg.SpeakerID == "" || seen[seg.SpeakerID] {
			continue
		}
		seen[seg.SpeakerID] = true
		out = append(out, diary.Participant{SpeakerID: seg.SpeakerID})
	}
	if out == nil {
		out = []diary.Participant{}
	}
	return out
}

// windowFrames converts the window's keyframes to the diary frame type.
func windowFrames(w *Window) []diary.VideoFrame {
	frames := make([]diary.VideoFrame, 0, len(w.Keyframes))
	for _, kf := range w.Keyframes {
		frames = append(frames, diary.VideoFrame{
			Timestamp:   kf.Timestamp,
			Path:        kf.Path,
			SceneChange: kf.SceneChange,
		})
	}
	return frames
}

// transcriptPrefix returns the first words spoken in the window, truncated
// to a label-sized string.
func transcriptPrefix(w *Window) string {
	for _, seg := range w.AudioSegments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if utf8.RuneCountInString(text) <= activityPrefixLen {
			return text
		}
		runes := []rune(text)
		return string(runes[:activityPrefixLen]) + "..."
	}
	return ""
}
