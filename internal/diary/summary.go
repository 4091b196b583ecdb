// Package diary defines the structured daily summary produced by the
// processing pipeline. The JSON shape of DailySummary is a stable contract:
// the query API and the vector indexer both re-parse it.
package diary

import (
	"fmt"
	"strings"
	"time"
)

// SourceReliability rates how much signal a time block was built from.
type SourceReliability string

const (
	ReliabilityHigh   SourceReliability = "High"
	ReliabilityMedium SourceReliability = "Medium"
	ReliabilityLow    SourceReliability = "Low"
)

// AudioSegment is one diarized, transcribed span of speech.
type AudioSegment struct {
	Start     float64 `json:"start_time"`
	End       float64 `json:"end_time"`
	SpeakerID string  `json:"speaker_id"`
	Text      string  `json:"transcript_text,omitempty"`
}

// VideoFrame is a keyframe extracted at a scene boundary.
type VideoFrame struct {
	Timestamp   float64 `json:"timestamp"`
	Path        string  `json:"frame_path"`
	SceneChange bool    `json:"scene_change"`
}

// Participant identifies a speaker within a time block.
type Participant struct {
	SpeakerID string `json:"speaker_id"`
	RealName  string `json:"real_name,omitempty"`
	Role      string `json:"role,omitempty"`
}

// VideoMetadata describes the source video.
type VideoMetadata struct {
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	FPS             float64 `json:"fps,omitempty"`
	Format          string  `json:"format,omitempty"`
}

// TimeBlock is the summarized record for one synchronized window.
type TimeBlock struct {
	StartTime         string            `json:"start_time"` // HH:MM:SS offsets into the video
	EndTime           string            `json:"end_time"`
	Activity          string            `json:"activity"`
	Location          string            `json:"location,omitempty"`
	SourceReliability SourceReliability `json:"source_reliability"`
	ContextType       string            `json:"context_type,omitempty"`
	IsMeeting         *bool             `json:"is_meeting,omitempty"`
	Participants      []Participant     `json:"participants"`
	TranscriptSummary string            `json:"transcript_summary,omitempty"`
	PerSpeakerSummary map[string]string `json:"per_speaker_summary,omitempty"`
	VisualSummary     string            `json:"visual_summary,omitempty"`
	ActionItems       []string          `json:"action_items"`
	AudioSegments     []AudioSegment    `json:"audio_segments"`
	VideoFrames       []VideoFrame      `json:"video_frames"`
}

// DailySummary is the top-level artifact written to
// results/{job_id}/summary.json.
type DailySummary struct {
	Date          string         `json:"date"`
	VideoSource   string         `json:"video_source,omitempty"`
	TimeBlocks    []TimeBlock    `json:"time_blocks"`
	VideoMetadata *VideoMetadata `json:"video_metadata,omitempty"`
	TotalDuration float64        `json:"total_duration"`
	CreatedAt     time.Time      `json:"created_at"`
}

// FormatTimestamp renders seconds from the start of the video as HH:MM:SS.
func FormatTimestamp(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

// ParseTimestamp inverts FormatTimestamp. Malformed input parses as zero.
func ParseTimestamp(ts string) float64 {
	var h, m, s int
	if _, err := fmt.Sscanf(ts, "%d:%d:%d", &h, &m, &s); err != nil {
		return 0
	}
	return float64(h*3600 + m*60 + s)
}

// Markdown renders the summary as the human-readable diary document
// uploaded next to the JSON artifact.
func (s *DailySummary) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Daily Summary — %s\n\n", s.Date)
	if s.VideoSource != "" {
		fmt.Fprintf(&b, "Source: `%s`\n\n", s.VideoSource)
	}

	for _, block := range s.TimeBlocks {
		fmt.Fprintf(&b, "## %s - %s: %s\n\n", block.StartTime, block.EndTime, block.Activity)
		if block.Location != "" {
			fmt.Fprintf(&b, "* **Location:** %s\n", block.Location)
		}
		fmt.Fprintf(&b, "* **Source Reliability:** %s\n", block.SourceReliability)
		if len(block.Participants) > 0 {
			b.WriteString("* **Participants:**\n")
			for _, p := range block.Participants {
				name := p.RealName
				if name == "" {
					name = p.SpeakerID
				}
				fmt.Fprintf(&b, "  * **%s:** %s\n", p.SpeakerID, name)
			}
		}
		if block.TranscriptSummary != "" {
			fmt.Fprintf(&b, "* **Transcript Summary:** %s\n", block.TranscriptSummary)
		}
		if len(block.PerSpeakerSummary) > 0 {
			b.WriteString("* **Per-Speaker Summary:**\n")
			for _, p := range block.Participants {
				if summary, ok := block.PerSpeakerSummary[p.SpeakerID]; ok {
					fmt.Fprintf(&b, "  * **%s:** %s\n", p.SpeakerID, summary)
				}
			}
		}
		if block.VisualSummary != "" {
			fmt.Fprintf(&b, "* **Visual Summary:** %s\n", block.VisualSummary)
		}
		if len(block.ActionItems) > 0 {
			b.WriteString("* **Action Items:**\n")
			for _, item := range block.ActionItems {
				fmt.Fprintf(&b, "  * [ ] %s\n", item)
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "---\n\nTotal duration: %s\n", FormatTimestamp(s.TotalDuration))
	return b.String()
}
