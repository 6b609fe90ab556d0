// Package azure holds the Azure OpenAI connection settings, endpoint URL rules, and the
// error taxonomy shared by the transcription and summarization clients.
package azure

import (
	"context"
	"strings"
)

// Settings is the immutable API connection value read before every network operation.
type Settings struct {
	Endpoint          string
	Key               string
	Deployment        string
	SummaryDeployment string
	APIVersion        string

	UseCustomSummary bool
	CustomEndpoint   string
	CustomKey        string
	CustomModel      string
}

// SettingsProvider returns a fresh Settings snapshot.
type SettingsProvider interface {
	Settings(context.Context) (Settings, error)
}

// StaticSettings adapts a fixed value to SettingsProvider.
type StaticSettings Settings

func (s StaticSettings) Settings(context.Context) (Settings, error) {
	return Settings(s), nil
}

// ValidateTranscription reports the first missing field needed for an audio upload.
func (s Settings) ValidateTranscription() error {
	missing := make([]string, 0, 4)
	if strings.TrimSpace(s.Endpoint) == "" {
		missing = append(missing, "endpoint")
	}
	if strings.TrimSpace(s.Key) == "" {
		missing = append(missing, "key")
	}
	if strings.TrimSpace(s.Deployment) == "" && !hasDeploymentPath(s.Endpoint) {
		missing = append(missing, "deployment")
	}
	if strings.TrimSpace(s.APIVersion) == "" {
		missing = append(missing, "api_version")
	}
	if len(missing) > 0 {
		return &ConfigError{Operation: "transcription", Missing: missing}
	}
	return nil
}

// ValidateSummary checks the fields required by whichever summary backend is selected.
func (s Settings) ValidateSummary() error {
	missing := make([]string, 0, 4)
	if s.UseCustomSummary {
		if strings.TrimSpace(s.CustomEndpoint) == "" {
			missing = append(missing, "custom_endpoint")
		}
		if strings.TrimSpace(s.CustomKey) == "" {
			missing = append(missing, "custom_key")
		}
		if len(missing) > 0 {
			return &ConfigError{Operation: "custom summary", Missing: missing}
		}
		return nil
	}

	if strings.TrimSpace(s.Endpoint) == "" {
		missing = append(missing, "endpoint")
	}
	if strings.TrimSpace(s.Key) == "" {
		missing = append(missing, "key")
	}
	if strings.TrimSpace(s.SummaryDeployment) == "" {
		missing = append(missing, "summary_deployment")
	}
	if strings.TrimSpace(s.APIVersion) == "" {
		missing = append(missing, "api_version")
	}
	if len(missing) > 0 {
		return &ConfigError{Operation: "summary", Missing: missing}
	}
	return nil
}

// SummaryCredential returns the key sent with summary requests.
func (s Settings) SummaryCredential() string {
	if s.UseCustomSummary {
		return strings.TrimSpace(s.CustomKey)
	}
	return strings.TrimSpace(s.Key)
}
