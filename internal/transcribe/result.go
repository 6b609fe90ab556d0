package transcribe

import "strings"

// Segment is one diarized utterance. Speaker labels are only meaningful within one chunk.
type Segment struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Result is a decoded transcription response. Format records the response_format that
// produced it, so callers can tell a degraded result from a diarized one.
type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Format   string    `json:"-"`
}

// Diarized reports whether the result carries speaker-attributed segments.
func (r Result) Diarized() bool {
	return len(r.Segments) > 0
}

// Empty reports whether the result holds no transcribed words.
func (r Result) Empty() bool {
	if strings.TrimSpace(r.Text) != "" {
		return false
	}
	for _, segment := range r.Segments {
		if strings.TrimSpace(segment.Text) != "" {
			return false
		}
	}
	return true
}
