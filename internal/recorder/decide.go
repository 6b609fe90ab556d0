package recorder

import (
	"time"

	"github.com/rbright/parley/internal/audio"
)

// Gate names used in logs and metrics when a chunk is not uploaded.
const (
	GateTooSmall = "too_small"
	GateNoSpeech = "no_speech"
)

// Decide returns the cut reason for a chunk of the given age. Max duration wins over
// silence; silence requires speech in this chunk and must strictly exceed the limit.
func Decide(cfg Config, age time.Duration, silence time.Duration, hasSpeech bool) audio.CutReason {
	if age >= cfg.MaxDuration {
		return audio.CutMaxDuration
	}
	if hasSpeech && silence > cfg.Silence {
		return audio.CutSilence
	}
	return audio.CutNone
}

// Admit applies the upload gates in order and returns the failing gate, if any.
// The speech gate only applies while the VAD feed is active.
func Admit(cfg Config, chunk audio.Chunk, vadActive bool) (string, bool) {
	if chunk.Size() < cfg.MinChunkBytes {
		return GateTooSmall, false
	}
	if vadActive && !chunk.HadSpeech {
		return GateNoSpeech, false
	}
	return "", true
}
