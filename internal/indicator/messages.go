package indicator

import (
	"os"
	"strings"

	"github.com/rbright/parley/internal/config"
	"github.com/rbright/parley/internal/event"
)

type locale string

const (
	localeEnglish locale = "en"
)

type messages struct {
	recording string
	listening string
	uploading string
	errorText string
}

func indicatorMessagesFromEnv() messages {
	return indicatorMessages(resolveLocale(os.Getenv("LANG")))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(raw, "en") {
		return localeEnglish
	}
	return localeEnglish
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeEnglish:
		fallthrough
	default:
		return messages{
			recording: "Recording…",
			listening: "Listening…",
			uploading: "Transcribing chunk…",
			errorText: "Transcription error",
		}
	}
}

func (m messages) override(cfg config.IndicatorConfig) messages {
	pick := func(dst *string, src string) {
		if src = strings.TrimSpace(src); src != "" {
			*dst = src
		}
	}
	pick(&m.recording, cfg.TextRecording)
	pick(&m.listening, cfg.TextListening)
	pick(&m.uploading, cfg.TextUploading)
	pick(&m.errorText, cfg.TextError)
	return m
}

func (m messages) forStatus(status event.Status) string {
	switch status {
	case event.StatusRecording:
		return m.recording
	case event.StatusListening:
		return m.listening
	case event.StatusUploading:
		return m.uploading
	case event.StatusError:
		return m.errorText
	default:
		return ""
	}
}
