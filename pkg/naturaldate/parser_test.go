package naturaldate

import (
	"testing"
	"time"
)

// Wednesday.
var ref = time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	p := New(time.UTC)
	tests := []struct {
		phrase string
		want   time.Time
	}{
		{"tomorrow 3pm", time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)},
		{"Tomorrow at 3 P.M.", time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)},
		{"3pm", time.Date(2025, 1, 1, 15, 0, 0, 0, time.UTC)},
		{"9am", time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)},
		{"at 17:30", time.Date(2025, 1, 1, 17, 30, 0, 0, time.UTC)},
		{"noon tomorrow", time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)},
		{"midnight", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"12am", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"today", time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC)},
		{"tonight", time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC)},
		{"tomorrow morning", time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)},
		{"the day after tomorrow", time.Date(2025, 1, 3, 9, 0, 0, 0, time.UTC)},
		{"friday", time.Date(2025, 1, 3, 9, 0, 0, 0, time.UTC)},
		{"wednesday", time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)},
		{"wednesday evening", time.Date(2025, 1, 1, 18, 0, 0, 0, time.UTC)},
		{"next wed 8pm", time.Date(2025, 1, 8, 20, 0, 0, 0, time.UTC)},
		{"next friday", time.Date(2025, 1, 3, 9, 0, 0, 0, time.UTC)},
		{"march 12", time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)},
		{"12th of March at 5:15 pm", time.Date(2025, 3, 12, 17, 15, 0, 0, time.UTC)},
		{"jan 1 8am", time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)},
		{"March 12, 2024 5pm", time.Date(2024, 3, 12, 17, 0, 0, 0, time.UTC)},
		{"in 2 hours", time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"in an hour", time.Date(2025, 1, 1, 11, 0, 0, 0, time.UTC)},
		{"in half an hour", time.Date(2025, 1, 1, 10, 30, 0, 0, time.UTC)},
		{"30 minutes from now", time.Date(2025, 1, 1, 10, 30, 0, 0, time.UTC)},
		{"in 3 days", time.Date(2025, 1, 4, 10, 0, 0, 0, time.UTC)},
		{"now", ref},
		{"2025-02-03", time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC)},
		{"2025-02-03T07:45", time.Date(2025, 2, 3, 7, 45, 0, 0, time.UTC)},
		{"2025-02-03 07:45:10", time.Date(2025, 2, 3, 7, 45, 10, 0, time.UTC)},
		{"tomorrow at 7", time.Date(2025, 1, 2, 7, 0, 0, 0, time.UTC)},
		{"at 18", time.Date(2025, 1, 1, 18, 0, 0, 0, time.UTC)},
		{"tomorrow morning at 7", time.Date(2025, 1, 2, 7, 0, 0, 0, time.UTC)},
		{"tomorrow at 7 in the evening", time.Date(2025, 1, 2, 19, 0, 0, 0, time.UTC)},
		{"at 12 march", time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			got, ok := p.Parse(tt.phrase, ref)
			if !ok {
				t.Fatalf("Parse(%q) failed", tt.phrase)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Parse(%q): expected %v, got %v", tt.phrase, tt.want, got)
			}
		})
	}
}

func TestParseInZone(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	p := New(ist)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, ist)

	got, ok := p.Parse("tomorrow at 6pm", now)
	if !ok {
		t.Fatal("Expected phrase to parse")
	}
	want := time.Date(2025, 3, 11, 18, 0, 0, 0, ist)
	if !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if got.Format(time.RFC3339) != "2025-03-11T18:00:00+05:30" {
		t.Errorf("Expected result expressed in IST, got %s", got.Format(time.RFC3339))
	}

	// A reference instant in another zone is converted first.
	got, _ = p.Parse("8pm", now.UTC())
	if want := time.Date(2025, 3, 10, 20, 0, 0, 0, ist); !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	got, ok = p.Parse("2025-03-11T18:00:00Z", now)
	if !ok || got.Location() != ist {
		t.Errorf("Expected RFC3339 input converted to IST, got %v", got)
	}
}

func TestParseLateDayPartsRollForward(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	p := New(ist)
	now := time.Date(2025, 3, 10, 22, 0, 0, 0, ist)

	tests := []struct {
		phrase string
		want   time.Time
	}{
		{"tonight", time.Date(2025, 3, 11, 20, 0, 0, 0, ist)},
		{"this evening", time.Date(2025, 3, 11, 18, 0, 0, 0, ist)},
		{"tonight at 11pm", time.Date(2025, 3, 10, 23, 0, 0, 0, ist)},
	}
	for _, tt := range tests {
		got, ok := p.Parse(tt.phrase, now)
		if !ok {
			t.Fatalf("Parse(%q) failed", tt.phrase)
		}
		if !got.Equal(tt.want) {
			t.Errorf("Parse(%q): expected %v, got %v", tt.phrase, tt.want, got)
		}
		if !got.After(now) {
			t.Errorf("Parse(%q): expected a future instant, got %v", tt.phrase, got)
		}
	}
}

func TestParseRejects(t *testing.T) {
	p := New(nil)
	for _, phrase := range []string{"", "   ", "whenever", "13pm", "25:00", "feb 30", "in many hours", "someday soon", "in 100000000 weeks", "at 25"} {
		if got, ok := p.Parse(phrase, ref); ok {
			t.Errorf("Parse(%q): expected failure, got %v", phrase, got)
		}
	}
}

func TestNilLocationIsUTC(t *testing.T) {
	if New(nil).Location() != time.UTC {
		t.Error("Expected nil location to default to UTC")
	}
}
