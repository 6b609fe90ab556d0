package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	API       *jsoncAPI       `json:"api"`
	Summary   *jsoncSummary   `json:"summary"`
	Audio     *jsoncAudio     `json:"audio"`
	Chunking  *jsoncChunking  `json:"chunking"`
	VAD       *jsoncVAD       `json:"vad"`
	Indicator *jsoncIndicator `json:"indicator"`
	Output    *jsoncOutput    `json:"output"`
	Debug     *jsoncDebug     `json:"debug"`
}

type jsoncAPI struct {
	Endpoint   *string `json:"endpoint"`
	Key        *string `json:"key"`
	Deployment *string `json:"deployment"`
	APIVersion *string `json:"api_version"`
}

type jsoncSummary struct {
	Deployment     *string  `json:"deployment"`
	UseCustom      *bool    `json:"use_custom"`
	CustomEndpoint *string  `json:"custom_endpoint"`
	CustomKey      *string  `json:"custom_key"`
	CustomModel    *string  `json:"custom_model"`
	Prompt         *string  `json:"prompt"`
	Temperature    *float64 `json:"temperature"`
}

type jsoncAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
}

type jsoncChunking struct {
	MaxDurationMS *int `json:"max_duration_ms"`
	SilenceMS     *int `json:"silence_ms"`
	FlushDelayMS  *int `json:"flush_delay_ms"`
	MinChunkBytes *int `json:"min_chunk_bytes"`
}

type jsoncVAD struct {
	Enable     *bool    `json:"enable"`
	Threshold  *float64 `json:"threshold"`
	IntervalMS *int     `json:"interval_ms"`
}

type jsoncIndicator struct {
	Enable         *bool   `json:"enable"`
	DesktopAppName *string `json:"desktop_app_name"`
	TextRecording  *string `json:"text_recording"`
	TextListening  *string `json:"text_listening"`
	TextUploading  *string `json:"text_uploading"`
	TextError      *string `json:"text_error"`
	ErrorTimeoutMS *int    `json:"error_timeout_ms"`
}

type jsoncOutput struct {
	SaveTranscripts *bool   `json:"save_transcripts"`
	TranscriptDir   *string `json:"transcript_dir"`
	CopyToClipboard *bool   `json:"copy_to_clipboard"`
	ClipboardCmd    *string `json:"clipboard_cmd"`
}

type jsoncDebug struct {
	AudioDump   *bool   `json:"audio_dump"`
	MetricsAddr *string `json:"metrics_addr"`
	LogLevel    *string `json:"log_level"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if api := payload.API; api != nil {
		setString(&cfg.API.Endpoint, api.Endpoint)
		setString(&cfg.API.Key, api.Key)
		setString(&cfg.API.Deployment, api.Deployment)
		setString(&cfg.API.APIVersion, api.APIVersion)
		if api.Key != nil && strings.TrimSpace(*api.Key) != "" {
			warnings = append(warnings, Warning{Message: "api.key is stored in the config file; prefer AZURE_OPENAI_API_KEY or the .env file"})
		}
	}

	if summary := payload.Summary; summary != nil {
		setString(&cfg.Summary.Deployment, summary.Deployment)
		setBool(&cfg.Summary.UseCustom, summary.UseCustom)
		setString(&cfg.Summary.CustomEndpoint, summary.CustomEndpoint)
		setString(&cfg.Summary.CustomKey, summary.CustomKey)
		setString(&cfg.Summary.CustomModel, summary.CustomModel)
		setFloat(&cfg.Summary.Temperature, summary.Temperature)
		if summary.Prompt != nil {
			cfg.Summary.Prompt = *summary.Prompt
		}
	}

	if audio := payload.Audio; audio != nil {
		setString(&cfg.Audio.Input, audio.Input)
		setString(&cfg.Audio.Fallback, audio.Fallback)
	}

	if chunking := payload.Chunking; chunking != nil {
		setInt(&cfg.Chunking.MaxDurationMS, chunking.MaxDurationMS)
		setInt(&cfg.Chunking.SilenceMS, chunking.SilenceMS)
		setInt(&cfg.Chunking.FlushDelayMS, chunking.FlushDelayMS)
		setInt(&cfg.Chunking.MinChunkBytes, chunking.MinChunkBytes)
	}

	if vad := payload.VAD; vad != nil {
		setBool(&cfg.VAD.Enable, vad.Enable)
		setFloat(&cfg.VAD.Threshold, vad.Threshold)
		setInt(&cfg.VAD.IntervalMS, vad.IntervalMS)
	}

	if indicator := payload.Indicator; indicator != nil {
		setBool(&cfg.Indicator.Enable, indicator.Enable)
		setString(&cfg.Indicator.DesktopAppName, indicator.DesktopAppName)
		setString(&cfg.Indicator.TextRecording, indicator.TextRecording)
		setString(&cfg.Indicator.TextListening, indicator.TextListening)
		setString(&cfg.Indicator.TextUploading, indicator.TextUploading)
		setString(&cfg.Indicator.TextError, indicator.TextError)
		setInt(&cfg.Indicator.ErrorTimeoutMS, indicator.ErrorTimeoutMS)
	}

	if output := payload.Output; output != nil {
		setBool(&cfg.Output.SaveTranscripts, output.SaveTranscripts)
		setString(&cfg.Output.TranscriptDir, output.TranscriptDir)
		setBool(&cfg.Output.CopyToClipboard, output.CopyToClipboard)
		if output.ClipboardCmd != nil {
			raw := *output.ClipboardCmd
			argv, err := parseArgv(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid output.clipboard_cmd: %w", err)
			}
			cfg.Output.Clipboard = CommandConfig{Raw: raw, Argv: argv}
		}
	}

	if debug := payload.Debug; debug != nil {
		setBool(&cfg.Debug.AudioDump, debug.AudioDump)
		setString(&cfg.Debug.MetricsAddr, debug.MetricsAddr)
		setString(&cfg.Debug.LogLevel, debug.LogLevel)
	}

	return warnings, nil
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
