package audio

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	MIMEWAV  = "audio/wav"
	MIMEMP4  = "audio/mp4"
	MIMEWebM = "audio/webm"
	MIMEMPEG = "audio/mpeg"
	MIMEOgg  = "audio/ogg"
)

// CutReason records why a chunk boundary was placed.
type CutReason string

const (
	CutNone        CutReason = ""
	CutMaxDuration CutReason = "max_duration"
	CutSilence     CutReason = "silence"
	CutManualStop  CutReason = "manual_stop"
)

// Chunk is one finished, self-contained audio unit handed to the uploader exactly once.
type Chunk struct {
	ID        string
	Data      []byte
	MIMEType  string
	Reason    CutReason
	StartedAt time.Time
	EndedAt   time.Time
	HadSpeech bool
}

// NewChunk assembles buffered fragments into a chunk with a fresh id.
func NewChunk(fragments [][]byte, mimeType string, reason CutReason, started time.Time, ended time.Time, hadSpeech bool) Chunk {
	size := 0
	for _, fragment := range fragments {
		size += len(fragment)
	}
	data := make([]byte, 0, size)
	for _, fragment := range fragments {
		data = append(data, fragment...)
	}
	return Chunk{
		ID:        uuid.NewString(),
		Data:      data,
		MIMEType:  mimeType,
		Reason:    reason,
		StartedAt: started,
		EndedAt:   ended,
		HadSpeech: hadSpeech,
	}
}

func (c Chunk) Size() int {
	return len(c.Data)
}

func (c Chunk) Duration() time.Duration {
	return c.EndedAt.Sub(c.StartedAt)
}

// Extension returns the upload filename extension for the chunk's container format.
func (c Chunk) Extension() string {
	return ExtensionForMIME(c.MIMEType)
}

// ExtensionForMIME picks the upload filename extension. Unknown types upload as webm.
func ExtensionForMIME(mimeType string) string {
	mimeType = strings.ToLower(mimeType)
	switch {
	case strings.Contains(mimeType, "mp4"):
		return "m4a"
	case strings.Contains(mimeType, "wav"):
		return "wav"
	case strings.Contains(mimeType, "mpeg"):
		return "mp3"
	case strings.Contains(mimeType, "ogg"):
		return "ogg"
	default:
		return "webm"
	}
}

// MIMEForPath guesses the container type of an audio file from its extension.
func MIMEForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return MIMEWAV
	case ".m4a", ".mp4":
		return MIMEMP4
	case ".mp3":
		return MIMEMPEG
	case ".ogg", ".oga":
		return MIMEOgg
	default:
		return MIMEWebM
	}
}
