package scene

import (
	"testing"
)

func TestParseShowinfoTimestamps(t *testing.T) {
	out := `
[Parsed_showinfo_1 @ 0x55] n:   0 pts:  90090 pts_time:1.001   duration_time:0.04
[Parsed_showinfo_1 @ 0x55] n:   1 pts: 450450 pts_time:5.005   duration_time:0.04
[Parsed_showinfo_1 @ 0x55] n:   2 pts: 450450 pts_time:5.005   duration_time:0.04
frame= 3 fps=0.0
`
	stamps := ParseShowinfoTimestamps(out)
	if len(stamps) != 2 {
		t.Fatalf("stamps = %v, want 2 unique values", stamps)
	}
	if stamps[0] != 1.001 || stamps[1] != 5.005 {
		t.Errorf("stamps = %v", stamps)
	}
}

func TestParseShowinfoNoMatches(t *testing.T) {
	if stamps := ParseShowinfoTimestamps("frame= 0 fps=0.0"); stamps != nil {
		t.Errorf("expected nil for no scene changes, got %v", stamps)
	}
}

func TestSyntheticBoundaries(t *testing.T) {
	b := SyntheticBoundaries(642.5)
	if len(b) != 1 || b[0] != 642.5 {
		t.Errorf("synthetic boundaries = %v, want [642.5]", b)
	}
}
