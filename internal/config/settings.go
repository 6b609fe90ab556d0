package config

import (
	"context"

	"github.com/rbright/parley/internal/azure"
)

// AzureSettings projects the API sections onto the connection value used by the clients.
func (c Config) AzureSettings() azure.Settings {
	return azure.Settings{
		Endpoint:          c.API.Endpoint,
		Key:               c.API.Key,
		Deployment:        c.API.Deployment,
		SummaryDeployment: c.Summary.Deployment,
		APIVersion:        c.API.APIVersion,
		UseCustomSummary:  c.Summary.UseCustom,
		CustomEndpoint:    c.Summary.CustomEndpoint,
		CustomKey:         c.Summary.CustomKey,
		CustomModel:       c.Summary.CustomModel,
	}
}

// SettingsSource re-reads configuration on every call so edits apply to the next request.
type SettingsSource struct {
	Path string
}

func (s SettingsSource) Settings(context.Context) (azure.Settings, error) {
	loaded, err := Load(s.Path)
	if err != nil {
		return azure.Settings{}, err
	}
	return loaded.Config.AzureSettings(), nil
}
