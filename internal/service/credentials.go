package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/pixeldeck/pixeldeck/internal/core"
)

// DefaultCredentialEnvPrefix is the environment-variable prefix for the
// highest-priority credential tier.
const DefaultCredentialEnvPrefix = "PIXELDECK_CREDENTIAL_"

// CredentialServiceOptions groups dependencies for CredentialService.
type CredentialServiceOptions struct {
	Repo       core.CredentialRepository   // Required: encrypted database tier
	EnvPrefix  string                      // Optional: defaults to DefaultCredentialEnvPrefix
	LookupEnv  func(string) (string, bool) // Optional: defaults to os.LookupEnv
	HTTPClient *http.Client                // Optional: used for OAuth token exchanges
	Logger     *slog.Logger                // Optional: structured logger
}

// CredentialService resolves provider credentials across tiers: process
// environment first, then the encrypted database store. Stored values that
// describe an OAuth client-credentials grant are exchanged for a live access
// token on resolution, so tokens are never written to disk.
//
// Credential values never appear in logs or errors; only service names do.
type CredentialService struct {
	repo       core.CredentialRepository
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

var _ core.CredentialResolver = (*CredentialService)(nil)

// NewCredentialService constructs a new CredentialService.
func NewCredentialService(opts CredentialServiceOptions) (*CredentialService, error) {
	if opts.Repo == nil {
		return nil, errors.New("CredentialRepository is required")
	}

	prefix := opts.EnvPrefix
	if prefix == "" {
		prefix = DefaultCredentialEnvPrefix
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "credentials")
	}

	return &CredentialService{
		repo:       opts.Repo,
		envPrefix:  prefix,
		lookupEnv:  lookup,
		httpClient: opts.HTTPClient,
		logger:     logger,
		sources:    make(map[string]oauth2.TokenSource),
	}, nil
}

// oauthGrant is the stored shape of an OAuth client-credentials entry.
type oauthGrant struct {
	Type         string   `json:"type"`
	ClientID     string   `json:"clientId"`
	ClientSecret string   `json:"clientSecret"`
	TokenURL     string   `json:"tokenUrl"`
	Scopes       []string `json:"scopes,omitempty"`
}

// Resolve returns the live credential for a service.
func (s *CredentialService) Resolve(ctx context.Context, service string) (string, error) {
	if v, ok := s.lookupEnv(s.envKey(service)); ok && v != "" {
		return v, nil
	}

	value, err := s.repo.Get(ctx, service)
	if err != nil {
		return "", fmt.Errorf("resolve credential for %s: %w", service, err)
	}

	grant, ok := parseOAuthGrant(value)
	if !ok {
		return value, nil
	}
	return s.exchangeToken(ctx, service, grant)
}

// Set stores a credential in the database tier.
func (s *CredentialService) Set(ctx context.Context, service, value string) error {
	if strings.TrimSpace(service) == "" {
		return errors.New("service name is required")
	}
	if value == "" {
		return errors.New("credential value is required")
	}
	if err := s.repo.Set(ctx, service, value); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.sources, service)
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.InfoContext(ctx, "credential stored", "service", service)
	}
	return nil
}

// Delete removes a stored credential.
func (s *CredentialService) Delete(ctx context.Context, service string) error {
	if err := s.repo.Delete(ctx, service); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sources, service)
	s.mu.Unlock()
	return nil
}

// ListServices names the services with a stored credential. Environment-tier
// entries are not enumerable and are not included.
func (s *CredentialService) ListServices(ctx context.Context) ([]string, error) {
	return s.repo.ListServices(ctx)
}

// exchangeToken trades an OAuth grant for an access token. Token sources are
// cached per service so repeated resolutions reuse unexpired tokens.
func (s *CredentialService) exchangeToken(ctx context.Context, service string, grant oauthGrant) (string, error) {
	s.mu.Lock()
	source, ok := s.sources[service]
	if !ok {
		cfg := &clientcredentials.Config{
			ClientID:     grant.ClientID,
			ClientSecret: grant.ClientSecret,
			TokenURL:     grant.TokenURL,
			Scopes:       grant.Scopes,
		}
		tokenCtx := context.Background()
		if s.httpClient != nil {
			tokenCtx = context.WithValue(tokenCtx, oauth2.HTTPClient, s.httpClient)
		}
		source = cfg.TokenSource(tokenCtx)
		s.sources[service] = source
	}
	s.mu.Unlock()

	token, err := source.Token()
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "oauth token exchange failed", "service", service)
		}
		return "", fmt.Errorf("exchange oauth token for %s: %w", service, err)
	}
	return token.AccessToken, nil
}

func (s *CredentialService) envKey(service string) string {
	key := strings.ToUpper(service)
	key = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, key)
	return s.envPrefix + key
}

// parseOAuthGrant reports whether a stored value is an OAuth grant descriptor.
func parseOAuthGrant(value string) (oauthGrant, bool) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "{") {
		return oauthGrant{}, false
	}
	var grant oauthGrant
	if err := json.Unmarshal([]byte(trimmed), &grant); err != nil {
		return oauthGrant{}, false
	}
	if grant.Type != "oauth2" || grant.ClientID == "" || grant.TokenURL == "" {
		return oauthGrant{}, false
	}
	return grant, true
}
