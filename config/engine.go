package config

import (
	"strings"
	"time"
)

// ProviderConfig contains downstream image-generation provider configuration.
type ProviderConfig struct {
	// BaseURL is the provider API base URL, without a trailing slash.
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:9200"`

	// Timeout bounds a single provider HTTP request. Generation calls are
	// slow; the default is deliberately generous.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10m"`

	// ResultBuffer is the processor result channel buffer size.
	ResultBuffer int `env:"RESULT_BUFFER" envDefault:"16"`
}

// Sanitize applies guardrails to provider configuration values.
func (c *ProviderConfig) Sanitize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Minute
	}
	if c.ResultBuffer <= 0 {
		c.ResultBuffer = 16
	}
}

// EngineConfig contains orchestration engine configuration.
type EngineConfig struct {
	// ReconcileOnStart runs the ledger repair pass before anything else.
	// Disable only in tests.
	ReconcileOnStart bool `env:"RECONCILE_ON_START" envDefault:"true"`

	// CredentialEnvPrefix is the prefix for the environment credential tier.
	CredentialEnvPrefix string `env:"CREDENTIAL_ENV_PREFIX" envDefault:"PIXELDECK_CREDENTIAL_"`
}

// Sanitize applies guardrails to engine configuration values.
func (c *EngineConfig) Sanitize() {
	if strings.TrimSpace(c.CredentialEnvPrefix) == "" {
		c.CredentialEnvPrefix = "PIXELDECK_CREDENTIAL_"
	}
}
