package docgen

import (
	"strings"
	"testing"
)

func sampleFragments() []Fragment {
	return []Fragment{
		{Index: 0, StartSec: 0, EndSec: 60, Text: "hello world"},
		{Index: 1, StartSec: 60, EndSec: 120, Text: "  "},
		{Index: 2, StartSec: 120, EndSec: 150, Text: "second part"},
	}
}

func TestRenderText(t *testing.T) {
	out, err := Render(sampleFragments(), FormatText)
	if err != nil {
		t.Fatalf("render text: %v", err)
	}
	if out != "hello world second part" {
		t.Fatalf("unexpected text output: %q", out)
	}
}

func TestRenderDefaultsToText(t *testing.T) {
	out, err := Render(sampleFragments(), "")
	if err != nil {
		t.Fatalf("render empty format: %v", err)
	}
	if out != "hello world second part" {
		t.Fatalf("unexpected output for empty format: %q", out)
	}
}

func TestRenderMarkdown(t *testing.T) {
	out, err := Render(sampleFragments(), FormatMarkdown)
	if err != nil {
		t.Fatalf("render markdown: %v", err)
	}
	if !strings.Contains(out, "**[0:00]** hello world") {
		t.Fatalf("missing first markdown line: %q", out)
	}
	if !strings.Contains(out, "**[2:00]** second part") {
		t.Fatalf("missing second markdown line: %q", out)
	}
	if strings.Contains(out, "[1:00]") {
		t.Fatalf("blank fragment should be dropped: %q", out)
	}
}

func TestRenderSRT(t *testing.T) {
	out, err := Render(sampleFragments(), FormatSRT)
	if err != nil {
		t.Fatalf("render srt: %v", err)
	}
	// Blank fragments are dropped and cue numbering stays contiguous.
	if !strings.HasPrefix(out, "1\n00:00:00,000 --> 00:01:00,000\nhello world") {
		t.Fatalf("unexpected first cue: %q", out)
	}
	if !strings.Contains(out, "2\n00:02:00,000 --> 00:02:30,000\nsecond part") {
		t.Fatalf("unexpected second cue: %q", out)
	}
	if strings.Contains(out, "3\n") {
		t.Fatalf("expected exactly two cues: %q", out)
	}
}

func TestRenderBBCode(t *testing.T) {
	out, err := Render(sampleFragments(), FormatBBCode)
	if err != nil {
		t.Fatalf("render bbcode: %v", err)
	}
	if !strings.Contains(out, "[b]0:00[/b] hello world") {
		t.Fatalf("unexpected bbcode output: %q", out)
	}
}

func TestRenderUnknownFormat(t *testing.T) {
	if _, err := Render(sampleFragments(), Format("pdf")); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestRenderEmptyInput(t *testing.T) {
	out, err := Render(nil, FormatSRT)
	if err != nil {
		t.Fatalf("render nil fragments: %v", err)
	}
	if out != "" {
		t.Fatalf("expected empty output, got %q", out)
	}
}

func TestFormatSRTTime(t *testing.T) {
	cases := []struct {
		sec  float64
		want string
	}{
		{0, "00:00:00,000"},
		{61.5, "00:01:01,500"},
		{3723.042, "01:02:03,042"},
		{-5, "00:00:00,000"},
	}
	for _, tc := range cases {
		if got := formatSRTTime(tc.sec); got != tc.want {
			t.Fatalf("formatSRTTime(%v) = %q, want %q", tc.sec, got, tc.want)
		}
	}
}

func TestFormatClock(t *testing.T) {
	cases := []struct {
		sec  float64
		want string
	}{
		{0, "0:00"},
		{65, "1:05"},
		{3671, "1:01:11"},
	}
	for _, tc := range cases {
		if got := formatClock(tc.sec); got != tc.want {
			t.Fatalf("formatClock(%v) = %q, want %q", tc.sec, got, tc.want)
		}
	}
}
