package config

import (
	"fmt"
	"strings"
)

var logLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if cfg.Chunking.MaxDurationMS <= 0 {
		return nil, fmt.Errorf("chunking.max_duration_ms must be > 0")
	}
	if cfg.Chunking.SilenceMS <= 0 {
		return nil, fmt.Errorf("chunking.silence_ms must be > 0")
	}
	if cfg.Chunking.FlushDelayMS < 0 {
		return nil, fmt.Errorf("chunking.flush_delay_ms must be >= 0")
	}
	if cfg.Chunking.MinChunkBytes < 0 {
		return nil, fmt.Errorf("chunking.min_chunk_bytes must be >= 0")
	}
	if cfg.Chunking.SilenceMS >= cfg.Chunking.MaxDurationMS {
		warnings = append(warnings, Warning{Message: fmt.Sprintf(
			"chunking.silence_ms=%d is not shorter than chunking.max_duration_ms=%d; silence cuts will never fire",
			cfg.Chunking.SilenceMS, cfg.Chunking.MaxDurationMS)})
	}

	if cfg.VAD.Threshold <= 0 || cfg.VAD.Threshold >= 1 {
		return nil, fmt.Errorf("vad.threshold must be between 0 and 1 (exclusive)")
	}
	if cfg.VAD.IntervalMS <= 0 {
		return nil, fmt.Errorf("vad.interval_ms must be > 0")
	}

	if cfg.Summary.Temperature < 0 || cfg.Summary.Temperature > 2 {
		return nil, fmt.Errorf("summary.temperature must be between 0 and 2")
	}

	if cfg.Indicator.Enable && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.enable=true")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	if cfg.Output.CopyToClipboard && len(cfg.Output.Clipboard.Argv) == 0 {
		return nil, fmt.Errorf("output.clipboard_cmd must not be empty when output.copy_to_clipboard=true")
	}

	level := strings.ToLower(strings.TrimSpace(cfg.Debug.LogLevel))
	if _, ok := logLevels[level]; !ok {
		return nil, fmt.Errorf("debug.log_level must be one of: debug, info, warn, error")
	}

	return warnings, nil
}
