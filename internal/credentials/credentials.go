// Package credentials resolves the Anthropic API key for the agent.
//
// Resolution order: an explicit key from configuration or the
// ANTHROPIC_API_KEY environment variable always wins; otherwise the
// OAuth access token from the Claude Code credentials file is used when
// it is unexpired and carries the inference scope.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNoCredentials is returned when no usable credential source exists.
var ErrNoCredentials = errors.New("no API key found: set ANTHROPIC_API_KEY or authenticate with 'claude login'")

// cacheTTL bounds how often the credentials file is re-read.
const cacheTTL = 30 * time.Second

// Source identifies where a resolved key came from.
type Source string

const (
	SourceEnv        Source = "env"
	SourceClaudeCode Source = "claude-code"
	SourceNone       Source = "none"
)

type oauthCredentials struct {
	ClaudeAiOauth struct {
		AccessToken      string   `json:"accessToken"`
		RefreshToken     string   `json:"refreshToken"`
		ExpiresAt        int64    `json:"expiresAt"` // unix millis
		Scopes           []string `json:"scopes"`
		SubscriptionType string   `json:"subscriptionType"`
	} `json:"claudeAiOauth"`
}

// Resolver resolves and caches API credentials.
type Resolver struct {
	explicitKey string // from config; takes precedence over the file
	path        string
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	cached   *oauthCredentials
	readTime time.Time
}

// NewResolver creates a resolver. explicitKey may be empty; path
// overrides the default credentials file location when non-empty.
func NewResolver(explicitKey, path string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, ".claude", ".credentials.json")
		}
	}
	return &Resolver{
		explicitKey: explicitKey,
		path:        path,
		logger:      logger.With("component", "credentials"),
		now:         time.Now,
	}
}

// APIKey resolves the key to use for model calls.
func (r *Resolver) APIKey() (string, error) {
	if r.explicitKey != "" {
		return r.explicitKey, nil
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		return key, nil
	}
	token, err := r.claudeCodeToken()
	if err != nil {
		return "", err
	}
	if token != "" {
		return token, nil
	}
	return "", ErrNoCredentials
}

// CredentialSource reports which source APIKey would use.
func (r *Resolver) CredentialSource() Source {
	if r.explicitKey != "" || os.Getenv("ANTHROPIC_API_KEY") != "" {
		return SourceEnv
	}
	if token, err := r.claudeCodeToken(); err == nil && token != "" {
		return SourceClaudeCode
	}
	return SourceNone
}

// InvalidateCache forces a re-read of the credentials file on the next
// resolution.
func (r *Resolver) InvalidateCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cached = nil
	r.readTime = time.Time{}
}

// claudeCodeToken returns the OAuth token from the credentials file, or
// "" when the file is absent, the token expired, or the inference scope
// is missing.
func (r *Resolver) claudeCodeToken() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	nowMillis := now.UnixMilli()

	if r.cached != nil && now.Sub(r.readTime) < cacheTTL {
		if r.cached.ClaudeAiOauth.ExpiresAt > nowMillis &&
			hasScope(r.cached.ClaudeAiOauth.Scopes, "user:inference") {
			return r.cached.ClaudeAiOauth.AccessToken, nil
		}
	}

	creds, err := r.readFile()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	if creds.ClaudeAiOauth.AccessToken == "" {
		return "", nil
	}

	r.cached = creds
	r.readTime = now

	if creds.ClaudeAiOauth.ExpiresAt <= nowMillis {
		r.logger.Warn("Claude Code OAuth token is expired, run 'claude login' to refresh")
		return "", nil
	}

	if !hasScope(creds.ClaudeAiOauth.Scopes, "user:inference") {
		r.logger.Warn("Claude Code OAuth token lacks user:inference scope")
		return "", nil
	}

	return creds.ClaudeAiOauth.AccessToken, nil
}

func (r *Resolver) readFile() (*oauthCredentials, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, err
	}
	var creds oauthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.path, err)
	}
	return &creds, nil
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
