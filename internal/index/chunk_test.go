package index

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/lifestream/lifestream/internal/diary"
)

func sampleSummary() *diary.DailySummary {
	return &diary.DailySummary{
		Date:          "2026-01-05",
		VideoSource:   "videos/uploads/a.mp4",
		TotalDuration: 600,
		CreatedAt:     time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC),
		TimeBlocks: []diary.TimeBlock{
			{
				StartTime:         "00:00:00",
				EndTime:           "00:05:00",
				Activity:          "Standup meeting",
				SourceReliability: diary.ReliabilityHigh,
				Participants:      []diary.Participant{{SpeakerID: "SPEAKER_00"}, {SpeakerID: "SPEAKER_01"}},
				TranscriptSummary: "The team reviewed sprint progress.",
				ActionItems:       []string{"Ship the release notes", "Book the retro room"},
				AudioSegments: []diary.AudioSegment{
					{Start: 3, End: 10, SpeakerID: "SPEAKER_00", Text: "Let's get started."},
					{Start: 11, End: 25, SpeakerID: "SPEAKER_01", Text: "I finished the migration."},
				},
			},
			{
				StartTime:         "00:05:00",
				EndTime:           "00:10:00",
				Activity:          "Quiet work",
				SourceReliability: diary.ReliabilityLow,
				// No audio, no action items.
			},
		},
	}
}

func TestChunksFromSummaryShape(t *testing.T) {
	chunks := ChunksFromSummary("videos/uploads/a.mp4", sampleSummary())

	var summaries, transcripts, actions int
	for _, c := range chunks {
		switch c.Kind {
		case KindSummaryBlock:
			summaries++
		case KindTranscriptBlock:
			transcripts++
		case KindActionItem:
			actions++
		}
	}

	// Block 0: summary + transcript + 2 action items. Block 1: summary only.
	if summaries != 2 || transcripts != 1 || actions != 2 {
		t.Errorf("chunk counts = summary:%d transcript:%d action:%d", summaries, transcripts, actions)
	}

	for _, c := range chunks {
		if c.VideoID != "videos/uploads/a.mp4" {
			t.Errorf("chunk %s video ID = %q", c.ChunkID, c.VideoID)
		}
		if !strings.HasPrefix(c.ChunkID, "chunk_") || len(c.ChunkID) != len("chunk_")+16 {
			t.Errorf("chunk ID shape: %q", c.ChunkID)
		}
	}
}

func TestChunkIDsAreDeterministic(t *testing.T) {
	first := ChunksFromSummary("videos/uploads/a.mp4", sampleSummary())
	second := ChunksFromSummary("videos/uploads/a.mp4", sampleSummary())

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ChunkID != second[i].ChunkID {
			t.Errorf("chunk %d ID changed between runs: %q vs %q", i, first[i].ChunkID, second[i].ChunkID)
		}
	}

	// A different video produces disjoint IDs.
	other := ChunksFromSummary("videos/uploads/b.mp4", sampleSummary())
	seen := map[string]bool{}
	for _, c := range first {
		seen[c.ChunkID] = true
	}
	for _, c := range other {
		if seen[c.ChunkID] {
			t.Errorf("chunk ID %q collides across videos", c.ChunkID)
		}
	}
}

func TestTranscriptChunkJoinsSpeakerLines(t *testing.T) {
	chunks := ChunksFromSummary("v", sampleSummary())

	var transcript *Chunk
	for i := range chunks {
		if chunks[i].Kind == KindTranscriptBlock {
			transcript = &chunks[i]
		}
	}
	if transcript == nil {
		t.Fatal("no transcript chunk")
	}
	if !strings.Contains(transcript.Text, "SPEAKER_00: Let's get started.") {
		t.Errorf("transcript missing speaker line: %q", transcript.Text)
	}
	if got := transcript.Speakers; len(got) != 2 || got[0] != "SPEAKER_00" || got[1] != "SPEAKER_01" {
		t.Errorf("speakers = %v", got)
	}
}

func TestLongTextIsTruncated(t *testing.T) {
	s := sampleSummary()
	s.TimeBlocks[0].TranscriptSummary = strings.Repeat("a", 3000)

	chunks := ChunksFromSummary("v", s)
	for _, c := range chunks {
		if len(c.Text) > maxChunkTextLen+3 {
			t.Errorf("chunk %s text length %d exceeds cap", c.ChunkID, len(c.Text))
		}
		if len(c.Text) == maxChunkTextLen+3 && !strings.HasSuffix(c.Text, "...") {
			t.Errorf("truncated chunk missing marker")
		}
	}
}

func TestTruncationPreservesRuneBoundaries(t *testing.T) {
	s := sampleSummary()
	s.TimeBlocks[0].TranscriptSummary = strings.Repeat("日", 3000)

	var truncated bool
	for _, c := range ChunksFromSummary("v", s) {
		if !strings.HasSuffix(c.Text, "...") {
			continue
		}
		truncated = true
		if !utf8.ValidString(c.Text) {
			t.Errorf("chunk %s text cut mid-rune", c.ChunkID)
		}
		if got := utf8.RuneCountInString(strings.TrimSuffix(c.Text, "...")); got != maxChunkTextLen {
			t.Errorf("truncated rune count = %d, want %d", got, maxChunkTextLen)
		}
	}
	if !truncated {
		t.Fatal("no chunk was truncated")
	}
}

func TestEmptyBlockProducesNoChunks(t *testing.T) {
	s := &diary.DailySummary{
		Date:       "2026-01-05",
		TimeBlocks: []diary.TimeBlock{{StartTime: "00:00:00", EndTime: "00:05:00"}},
	}
	if chunks := ChunksFromSummary("v", s); len(chunks) != 0 {
		t.Errorf("expected no chunks from empty block, got %d", len(chunks))
	}
}
