package config

const (
	DefaultDeployment = "gpt-4o-transcribe-diarize"
	DefaultAPIVersion = "2024-10-01-preview"
)

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	clipboard := "wl-copy --trim-newline"

	return Config{
		API: APIConfig{
			Deployment: DefaultDeployment,
			APIVersion: DefaultAPIVersion,
		},
		Summary: SummaryConfig{
			Temperature: 0.7,
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Chunking: ChunkingConfig{
			MaxDurationMS: 180000,
			SilenceMS:     3000,
			FlushDelayMS:  100,
			MinChunkBytes: 1000,
		},
		VAD: VADConfig{
			Enable:     true,
			Threshold:  0.02,
			IntervalMS: 100,
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			DesktopAppName: "parley",
			ErrorTimeoutMS: 4000,
		},
		Output: OutputConfig{
			SaveTranscripts: true,
			CopyToClipboard: false,
			Clipboard:       CommandConfig{Raw: clipboard, Argv: []string{"wl-copy", "--trim-newline"}},
		},
		Debug: DebugConfig{
			LogLevel: "info",
		},
	}
}
