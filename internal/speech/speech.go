// Package speech defines the executor's ports onto the external speech
// services: transcription and speaker diarization. Both are black boxes
// behind HTTP or library bindings; the pipeline only depends on these
// contracts.
package speech

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnrecognizedAnnotation is returned when a diarizer reply matches
// neither known shape.
var ErrUnrecognizedAnnotation = errors.New("speech: unrecognized diarization annotation shape")

// Word is one recognized word with its own timing, when the recognizer
// provides word-level alignment.
type Word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptSegment is one recognized utterance.
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

// SpeakerTurn is one diarized interval attributed to a speaker.
type SpeakerTurn struct {
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	SpeakerID string  `json:"speaker_id"`
}

// Annotation is the diarizer's reply. Providers disagree on envelope shape:
// some return the turn list directly, others wrap it in a result object.
// Exactly one of Turns or Wrapped is set.
type Annotation struct {
	Turns   []SpeakerTurn
	Wrapped *Annotation
}

// Unwrap resolves the annotation to its turn list, failing fast on a shape
// it does not recognize rather than guessing.
func (a *Annotation) Unwrap() ([]SpeakerTurn, error) {
	switch {
	case a == nil:
		return nil, fmt.Errorf("%w: nil annotation", ErrUnrecognizedAnnotation)
	case a.Turns != nil && a.Wrapped == nil:
		return a.Turns, nil
	case a.Turns == nil && a.Wrapped != nil:
		if a.Wrapped.Wrapped != nil {
			// One level of wrapping is a known provider quirk; deeper
			// nesting is not.
			return nil, fmt.Errorf("%w: nested wrapping", ErrUnrecognizedAnnotation)
		}
		return a.Wrapped.Unwrap()
	default:
		return nil, fmt.Errorf("%w: both or neither variant set", ErrUnrecognizedAnnotation)
	}
}

// Transcriber converts an audio file to timed transcript segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) ([]TranscriptSegment, error)
}

// Diarizer labels an audio file with speaker turns.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string) (*Annotation, error)
}
