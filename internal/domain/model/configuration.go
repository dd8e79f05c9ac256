// Package model defines the core data types used throughout the pixeldeck job engine.
package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ConfigurationSettings is the immutable-once-saved bundle a job is started
// with: generation parameters, file-path preferences, processing flags, and
// AI feature toggles. Credentials are carried only transiently on the resolved
// form and are stripped before any snapshot is persisted.
type ConfigurationSettings struct {
	// Provider selects the downstream image-generation provider.
	Provider string `json:"provider"`
	// Model is the provider-specific model identifier.
	Model string `json:"model,omitempty"`
	// ImageCount is the number of images to generate per prompt.
	ImageCount int `json:"imageCount,omitempty"`
	// OutputFormat is the requested output format (png, jpg, webp).
	OutputFormat string `json:"outputFormat,omitempty"`
	// Prompts are the generation prompts for the run.
	Prompts []string `json:"prompts,omitempty"`

	// File-path preferences.
	OutputDir string `json:"outputDir,omitempty"`
	TempDir   string `json:"tempDir,omitempty"`

	// Processing holds the post-generation processing settings. Stored
	// normalized; retry-time overrides go through settings.Normalize first.
	Processing json.RawMessage `json:"processing,omitempty"`

	// AI feature toggles.
	VisionQC         bool `json:"visionQc,omitempty"`
	GenerateMetadata bool `json:"generateMetadata,omitempty"`

	// Credentials maps service name to secret. Never persisted in snapshots,
	// never logged; re-supplied live from the credential store on reruns.
	Credentials map[string]string `json:"credentials,omitempty"`
}

// StripCredentials returns a copy of the settings safe for persistence.
func (s ConfigurationSettings) StripCredentials() ConfigurationSettings {
	out := s
	out.Credentials = nil
	return out
}

// Validate checks the minimum shape required to start a job.
func (s *ConfigurationSettings) Validate() error {
	if strings.TrimSpace(s.Provider) == "" {
		return errors.New("provider is required")
	}
	if s.ImageCount < 0 {
		return errors.New("image count must be >= 0")
	}
	return nil
}

// Configuration is a named, saved settings bundle. Referenced, never mutated,
// by executions: executions persist a frozen snapshot instead of a live
// reference so later edits do not retroactively change history.
type Configuration struct {
	ID        int64                 `json:"id"         db:"id"`
	Name      string                `json:"name"       db:"name"`
	Settings  ConfigurationSettings `json:"settings"   db:"settings_json"`
	CreatedAt time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt time.Time             `json:"updated_at" db:"updated_at"`
}

// CreateConfigurationRequest carries a new configuration to be saved.
type CreateConfigurationRequest struct {
	Name     string                `json:"name"`
	Settings ConfigurationSettings `json:"settings"`
}

// Validate validates the CreateConfigurationRequest fields.
func (r *CreateConfigurationRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("configuration name is required")
	}
	return r.Settings.Validate()
}
