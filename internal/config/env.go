package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment keys recognised as credential overrides.
const (
	EnvEndpoint          = "AZURE_OPENAI_ENDPOINT"
	EnvAPIKey            = "AZURE_OPENAI_API_KEY"
	EnvDeployment        = "AZURE_OPENAI_DEPLOYMENT"
	EnvSummaryDeployment = "AZURE_OPENAI_SUMMARY_DEPLOYMENT"
	EnvAPIVersion        = "AZURE_OPENAI_API_VERSION"
	EnvSummaryEndpoint   = "PARLEY_SUMMARY_ENDPOINT"
	EnvSummaryKey        = "PARLEY_SUMMARY_KEY"
	EnvSummaryModel      = "PARLEY_SUMMARY_MODEL"
)

var envKeys = []string{
	EnvEndpoint,
	EnvAPIKey,
	EnvDeployment,
	EnvSummaryDeployment,
	EnvAPIVersion,
	EnvSummaryEndpoint,
	EnvSummaryKey,
	EnvSummaryModel,
}

// readEnv merges the optional .env file with the process environment.
// Process values win over file values.
func readEnv(path string) (map[string]string, error) {
	values := make(map[string]string, len(envKeys))
	if path != "" {
		fileValues, err := godotenv.Read(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		for key, value := range fileValues {
			values[key] = value
		}
	}
	for _, key := range envKeys {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			values[key] = value
		}
	}
	return values, nil
}

func applyEnv(cfg *Config, values map[string]string) {
	set := func(dst *string, key string) {
		if value := strings.TrimSpace(values[key]); value != "" {
			*dst = value
		}
	}

	set(&cfg.API.Endpoint, EnvEndpoint)
	set(&cfg.API.Key, EnvAPIKey)
	set(&cfg.API.Deployment, EnvDeployment)
	set(&cfg.Summary.Deployment, EnvSummaryDeployment)
	set(&cfg.API.APIVersion, EnvAPIVersion)
	set(&cfg.Summary.CustomKey, EnvSummaryKey)
	set(&cfg.Summary.CustomModel, EnvSummaryModel)
	if value := strings.TrimSpace(values[EnvSummaryEndpoint]); value != "" {
		cfg.Summary.CustomEndpoint = value
		cfg.Summary.UseCustom = true
	}
}
