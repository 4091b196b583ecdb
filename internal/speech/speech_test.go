package speech

import (
	"errors"
	"testing"
)

func TestUnwrapDirectTurns(t *testing.T) {
	ann := &Annotation{Turns: []SpeakerTurn{{Start: 0, End: 5, SpeakerID: "SPEAKER_00"}}}
	turns, err := ann.Unwrap()
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if len(turns) != 1 || turns[0].SpeakerID != "SPEAKER_00" {
		t.Errorf("unexpected turns: %+v", turns)
	}
}

func TestUnwrapSingleWrapping(t *testing.T) {
	ann := &Annotation{Wrapped: &Annotation{
		Turns: []SpeakerTurn{{Start: 2, End: 7, SpeakerID: "SPEAKER_01"}},
	}}
	turns, err := ann.Unwrap()
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if len(turns) != 1 || turns[0].SpeakerID != "SPEAKER_01" {
		t.Errorf("unexpected turns: %+v", turns)
	}
}

func TestUnwrapEmptyTurnsIsValid(t *testing.T) {
	// Silence is a real outcome: zero turns, not an error.
	ann := &Annotation{Turns: []SpeakerTurn{}}
	turns, err := ann.Unwrap()
	if err != nil {
		t.Fatalf("unwrap: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("expected empty turns, got %+v", turns)
	}
}

func TestUnwrapRejectsUnknownShapes(t *testing.T) {
	cases := []*Annotation{
		nil,
		{},
		{Turns: []SpeakerTurn{}, Wrapped: &Annotation{}},
		{Wrapped: &Annotation{Wrapped: &Annotation{Turns: []SpeakerTurn{}}}},
	}
	for i, ann := range cases {
		if _, err := ann.Unwrap(); !errors.Is(err, ErrUnrecognizedAnnotation) {
			t.Errorf("case %d: error = %v, want ErrUnrecognizedAnnotation", i, err)
		}
	}
}
