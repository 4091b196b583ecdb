package pipeline

import (
	"github.com/lifestream/lifestream/internal/diary"
	"github.com/lifestream/lifestream/internal/speech"
)

// unknownSpeaker labels transcript spans no diarized turn overlaps.
const unknownSpeaker = "SPEAKER_UNKNOWN"

// MergeTranscript attributes each transcript segment to the speaker whose
// diarized turn overlaps it the most. Segments with no overlapping turn are
// kept under a sentinel speaker rather than dropped.
func MergeTranscript(segments []speech.TranscriptSegment, turns []speech.SpeakerTurn) []diary.AudioSegment {
	out := make([]diary.AudioSegment, 0, len(segments))
	for _, seg := range segments {
		out = append(out, diary.AudioSegment{
			Start:     seg.Start,
			End:       seg.End,
			SpeakerID: dominantSpeaker(seg, turns),
			Text:      seg.Text,
		})
	}
	return out
}

// dominantSpeaker picks the turn with the largest overlap against the
// segment.
func dominantSpeaker(seg speech.TranscriptSegment, turns []speech.SpeakerTurn) string {
	best := unknownSpeaker
	bestOverlap := 0.0
	for _, turn := range turns {
		start := seg.Start
		if turn.Start > start {
			start = turn.Start
		}
		end := seg.End
		if turn.End < end {
			end = turn.End
		}
		if overlap := end - start; overlap > bestOverlap {
			bestOverlap = overlap
			best = turn.SpeakerID
		}
	}
	return best
}
