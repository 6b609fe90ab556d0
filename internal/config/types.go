// Package config resolves, parses, validates, and defaults parley configuration.
package config

// Config is the fully materialized runtime configuration.
type Config struct {
	API       APIConfig
	Summary   SummaryConfig
	Audio     AudioConfig
	Chunking  ChunkingConfig
	VAD       VADConfig
	Indicator IndicatorConfig
	Output    OutputConfig
	Debug     DebugConfig
}

// APIConfig locates the Azure OpenAI transcription deployment.
type APIConfig struct {
	Endpoint   string
	Key        string
	Deployment string
	APIVersion string
}

// SummaryConfig selects the chat backend used by `parley summarize`.
type SummaryConfig struct {
	Deployment     string
	UseCustom      bool
	CustomEndpoint string
	CustomKey      string
	CustomModel    string
	Prompt         string
	Temperature    float64
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// ChunkingConfig controls where recordings are split into upload chunks.
type ChunkingConfig struct {
	MaxDurationMS int
	SilenceMS     int
	FlushDelayMS  int
	MinChunkBytes int
}

// VADConfig controls the energy-threshold voice activity detector.
type VADConfig struct {
	Enable     bool
	Threshold  float64
	IntervalMS int
}

// IndicatorConfig controls desktop notifications for session state.
type IndicatorConfig struct {
	Enable         bool
	DesktopAppName string
	TextRecording  string
	TextListening  string
	TextUploading  string
	TextError      string
	ErrorTimeoutMS int
}

// OutputConfig controls where finished transcripts go.
type OutputConfig struct {
	SaveTranscripts bool
	TranscriptDir   string
	CopyToClipboard bool
	Clipboard       CommandConfig
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// DebugConfig controls optional diagnostics.
type DebugConfig struct {
	AudioDump   bool
	MetricsAddr string
	LogLevel    string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
