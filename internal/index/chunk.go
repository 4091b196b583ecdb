// Package index derives searchable chunks from completed summaries, embeds
// them, and maintains the vector store the diary search reads.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/lifestream/lifestream/internal/diary"
)

// SourceKind labels where a chunk's text came from.
type SourceKind string

const (
	KindSummaryBlock    SourceKind = "summary_block"
	KindTranscriptBlock SourceKind = "transcript_block"
	KindActionItem      SourceKind = "action_item"
)

// maxChunkTextLen caps embedded text; longer inputs are truncated with a
// visible marker.
const maxChunkTextLen = 1000

// Chunk is one vector-indexable unit of a job's output. Every chunk belongs
// to exactly one video; deleting the video deletes its chunks.
type Chunk struct {
	ChunkID      string     `json:"chunk_id"`
	VideoID      string     `json:"video_id"`
	Kind         SourceKind `json:"source_kind"`
	Text         string     `json:"text"`
	StartSeconds float64    `json:"start_seconds"`
	EndSeconds   float64    `json:"end_seconds"`
	Speakers     []string   `json:"speakers,omitempty"`
	Date         string     `json:"date"`
	Activity     string     `json:"activity,omitempty"`
}

// ChunkID derives the deterministic identifier for a chunk position. The
// same job output always produces the same IDs, so re-indexing upserts in
// place instead of accumulating duplicates.
func ChunkID(videoID, date string, startSeconds, endSeconds float64, kind SourceKind, index int) string {
	payload := fmt.Sprintf("%s|%s|%.3f|%.3f|%s|%d", videoID, date, startSeconds, endSeconds, kind, index)
	sum := sha256.Sum256([]byte(payload))
	return "chunk_" + hex.EncodeToString(sum[:])[:16]
}

// ChunksFromSummary derives the chunk set for a summary: one summary chunk
// per time block, one transcript chunk per block with audio, and one chunk
// per action item.
func ChunksFromSummary(videoID string, s *diary.DailySummary) []Chunk {
	var chunks []Chunk

	for blockIdx, block := range s.TimeBlocks {
		speakers := blockSpeakers(block)
		start := diary.ParseTimestamp(block.StartTime)
		end := diary.ParseTimestamp(block.EndTime)

		if text := summaryText(block); text != "" {
			chunks = append(chunks, Chunk{
				ChunkID:      ChunkID(videoID, s.Date, start, end, KindSummaryBlock, blockIdx*2),
				VideoID:      videoID,
				Kind:         KindSummaryBlock,
				Text:         truncate(text),
				StartSeconds: start,
				EndSeconds:   end,
				Speakers:     speakers,
				Date:         s.Date,
				Activity:     block.Activity,
			})
		}

		if transcript := transcriptText(block); transcript != "" {
			chunks = append(chunks, Chunk{
				ChunkID:      ChunkID(videoID, s.Date, start, end, KindTranscriptBlock, blockIdx*2+1),
				VideoID:      videoID,
				Kind:         KindTranscriptBlock,
				Text:         truncate(transcript),
				StartSeconds: start,
				EndSeconds:   end,
				Speakers:     speakers,
				Date:         s.Date,
				Activity:     block.Activity,
			})
		}

		for i, item := range block.ActionItems {
			if strings.TrimSpace(item) == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				ChunkID:      ChunkID(videoID, s.Date, start, end, KindActionItem, (blockIdx+1)*100+i),
				VideoID:      videoID,
				Kind:         KindActionItem,
				Text:         truncate(item),
				StartSeconds: start,
				EndSeconds:   end,
				Speakers:     speakers,
				Date:         s.Date,
				Activity:     block.Activity,
			})
		}
	}

	return chunks
}

// summaryText assembles the embeddable description of one time block.
func summaryText(b diary.TimeBlock) string {
	var parts []string
	if b.Activity != "" {
		parts = append(parts, "Activity: "+b.Activity)
	}
	if b.Location != "" {
		parts = append(parts, "Location: "+b.Location)
	}
	if b.TranscriptSummary != "" {
		parts = append(parts, b.TranscriptSummary)
	}
	if b.VisualSummary != "" {
		parts = append(parts, "Visual: "+b.VisualSummary)
	}
	return strings.Join(parts, "\n")
}

// transcriptText joins the block's raw utterances with speaker labels.
func transcriptText(b diary.TimeBlock) string {
	var sb strings.Builder
	for _, seg := range b.AudioSegments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		if seg.SpeakerID != "" {
			sb.WriteString(seg.SpeakerID)
			sb.WriteString(": ")
		}
		sb.WriteString(text)
	}
	return sb.String()
}

// blockSpeakers collects the block's distinct speaker IDs, sorted.
func blockSpeakers(b diary.TimeBlock) []string {
	seen := map[string]bool{}
	for _, p := range b.Participants {
		if p.SpeakerID != "" {
			seen[p.SpeakerID] = true
		}
	}
	for _, seg := range b.AudioSegments {
		if seg.SpeakerID != "" {
			seen[seg.SpeakerID] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	speakers := make([]string, 0, len(seen))
	for s := range seen {
		speakers = append(speakers, s)
	}
	sort.Strings(speakers)
	return speakers
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxChunkTextLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChunkTextLen]) + "..."
}
