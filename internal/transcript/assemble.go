// Package transcript renders transcription results as speaker-attributed lines and
// assembles them into one meeting document.
package transcript

import (
	"strings"
	"sync"

	"github.com/rbright/parley/internal/transcribe"
)

const (
	unknownSpeaker = "Unknown"
	flatSpeaker    = "Speaker"
)

// Line is one rendered utterance.
type Line struct {
	Speaker string
	Text    string
}

func (l Line) String() string {
	return l.Speaker + ": " + l.Text
}

// Lines renders a result. Segments without a speaker are attributed to "Unknown";
// a result without segments becomes a single "Speaker" line. Blank text is skipped.
func Lines(result transcribe.Result) []Line {
	if len(result.Segments) == 0 {
		text := normalize(result.Text)
		if text == "" {
			return nil
		}
		return []Line{{Speaker: flatSpeaker, Text: text}}
	}

	lines := make([]Line, 0, len(result.Segments))
	for _, segment := range result.Segments {
		text := normalize(segment.Text)
		if text == "" {
			continue
		}
		speaker := strings.TrimSpace(segment.Speaker)
		if speaker == "" {
			speaker = unknownSpeaker
		}
		lines = append(lines, Line{Speaker: speaker, Text: text})
	}
	return lines
}

// Render joins the lines of one result with newlines.
func Render(result transcribe.Result) string {
	return join(Lines(result))
}

// Document accumulates chunk transcripts in the order they are added.
// It is safe for concurrent use.
type Document struct {
	mu     sync.Mutex
	chunks int
	lines  []Line
}

// Add appends result's lines and reports whether anything was rendered.
func (d *Document) Add(result transcribe.Result) bool {
	lines := Lines(result)
	if len(lines) == 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chunks++
	d.lines = append(d.lines, lines...)
	return true
}

// Chunks returns how many results contributed lines.
func (d *Document) Chunks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chunks
}

func (d *Document) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return join(d.lines)
}

func join(lines []Line) string {
	if len(lines) == 0 {
		return ""
	}
	rendered := make([]string, len(lines))
	for i, line := range lines {
		rendered[i] = line.String()
	}
	return strings.Join(rendered, "\n")
}

func normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
