// Package docgen assembles per-segment transcript fragments into final
// result documents.
package docgen

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatSRT      Format = "srt"
	FormatBBCode   Format = "bbcode"
)

// Fragment is one segment's recognized text with its time bounds.
type Fragment struct {
	Index    int
	StartSec float64
	EndSec   float64
	Text     string
}

// DecodeFragment parses a checkpointed segment result as stored on
// job_segment rows.
func DecodeFragment(index int, raw string) (Fragment, error) {
	var stored struct {
		StartSec float64 `json:"start_sec"`
		EndSec   float64 `json:"end_sec"`
		Text     string  `json:"text"`
	}
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return Fragment{}, err
	}
	return Fragment{
		Index:    index,
		StartSec: stored.StartSec,
		EndSec:   stored.EndSec,
		Text:     stored.Text,
	}, nil
}

// Render joins fragments in index order into the requested format. Fragments
// must already be sorted; empty fragments are dropped.
func Render(fragments []Fragment, format Format) (string, error) {
	switch format {
	case FormatText, "":
		return renderText(fragments), nil
	case FormatMarkdown:
		return renderMarkdown(fragments), nil
	case FormatSRT:
		return renderSRT(fragments), nil
	case FormatBBCode:
		return renderBBCode(fragments), nil
	default:
		return "", fmt.Errorf("unknown render format: %s", format)
	}
}

func renderText(fragments []Fragment) string {
	var b strings.Builder
	for _, f := range fragments {
		t := strings.TrimSpace(f.Text)
		if t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(t)
	}
	return b.String()
}

func renderMarkdown(fragments []Fragment) string {
	var b strings.Builder
	for _, f := range fragments {
		t := strings.TrimSpace(f.Text)
		if t == "" {
			continue
		}
		fmt.Fprintf(&b, "**[%s]** %s\n\n", formatClock(f.StartSec), t)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderSRT(fragments []Fragment) string {
	var b strings.Builder
	n := 0
	for _, f := range fragments {
		t := strings.TrimSpace(f.Text)
		if t == "" {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", n, formatSRTTime(f.StartSec), formatSRTTime(f.EndSec), t)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderBBCode(fragments []Fragment) string {
	var b strings.Builder
	for _, f := range fragments {
		t := strings.TrimSpace(f.Text)
		if t == "" {
			continue
		}
		fmt.Fprintf(&b, "[b]%s[/b] %s\n", formatClock(f.StartSec), t)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatSRTTime(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	d := time.Duration(sec * float64(time.Second))
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func formatClock(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	d := time.Duration(sec * float64(time.Second))
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
