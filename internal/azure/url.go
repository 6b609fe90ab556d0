package azure

import (
	"fmt"
	"net/url"
	"strings"
)

const deploymentsPath = "/openai/deployments"

// TranscriptionURL resolves the audio transcription URL.
//
// An endpoint that already names a deployment path is used as the complete base and only
// gains the api-version query parameter.
func TranscriptionURL(s Settings) (string, error) {
	if hasDeploymentPath(s.Endpoint) {
		return withAPIVersion(strings.TrimRight(strings.TrimSpace(s.Endpoint), "/"), s.APIVersion)
	}
	return deploymentURL(s.Endpoint, s.Deployment, "audio/transcriptions", s.APIVersion)
}

// ChatURL resolves the chat completion URL for summaries.
func ChatURL(s Settings) (string, error) {
	if s.UseCustomSummary {
		raw := strings.TrimSpace(s.CustomEndpoint)
		if _, err := url.ParseRequestURI(raw); err != nil {
			return "", &ConfigError{Operation: "custom summary", Err: fmt.Errorf("custom_endpoint: %w", err)}
		}
		return raw, nil
	}
	return deploymentURL(s.Endpoint, s.SummaryDeployment, "chat/completions", s.APIVersion)
}

func deploymentURL(endpoint string, deployment string, suffix string, apiVersion string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	full := base + deploymentsPath + "/" + url.PathEscape(strings.TrimSpace(deployment)) + "/" + suffix
	return withAPIVersion(full, apiVersion)
}

func withAPIVersion(raw string, apiVersion string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		if err == nil {
			err = fmt.Errorf("%q is not an absolute URL", raw)
		}
		return "", &ConfigError{Operation: "endpoint", Err: err}
	}
	query := parsed.Query()
	query.Set("api-version", strings.TrimSpace(apiVersion))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func hasDeploymentPath(endpoint string) bool {
	return strings.Contains(endpoint, deploymentsPath)
}
