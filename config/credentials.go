package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/martinemde/steward/logging"
)

// CredentialProvider yields the bearer token for a model call, or false
// when the user is not logged in.
type CredentialProvider interface {
	ValidToken(ctx context.Context) (string, bool)
}

// StaticKey is a fixed API key.
type StaticKey string

// ValidToken returns the key when it is not blank.
func (k StaticKey) ValidToken(context.Context) (string, bool) {
	key := strings.TrimSpace(string(k))
	return key, key != ""
}

// tokenExpirySkew treats tokens about to expire as already expired.
const tokenExpirySkew = 30 * time.Second

// TokenFile reads the OAuth token the kimi CLI stores under the share dir.
// The file is re-read on every call so a refresh by the CLI is picked up.
type TokenFile struct {
	Path string
	Now  func() time.Time
}

type storedToken struct {
	AccessToken string  `json:"access_token"`
	ExpiresAt   float64 `json:"expires_at"`
}

// NewTokenFile points at <shareDir>/credentials/kimi-code.json.
func NewTokenFile(shareDir string) *TokenFile {
	return &TokenFile{Path: filepath.Join(shareDir, "credentials", "kimi-code.json"), Now: time.Now}
}

// ValidToken returns the stored access token unless it is missing or
// expired. An expires_at of zero means the token does not expire.
func (f *TokenFile) ValidToken(context.Context) (string, bool) {
	log := logging.NewLogger("credentials").WithField("path", f.Path)
	data, err := os.ReadFile(f.Path)
	if err != nil {
		log.WithError(err).Debug("no stored token")
		return "", false
	}
	var tok storedToken
	if err := json.Unmarshal(data, &tok); err != nil {
		log.WithError(err).Warn("malformed token file")
		return "", false
	}
	access := strings.TrimSpace(tok.AccessToken)
	if access == "" {
		return "", false
	}
	if tok.ExpiresAt > 0 {
		now := time.Now
		if f.Now != nil {
			now = f.Now
		}
		expires := time.Unix(int64(tok.ExpiresAt), 0)
		if !now().Add(tokenExpirySkew).Before(expires) {
			log.Debug("stored token expired")
			return "", false
		}
	}
	return access, true
}

// Credentials returns the provider selected by the auth mode.
func (c *Config) Credentials() CredentialProvider {
	if c.Auth.Mode == AuthAPIKey {
		return StaticKey(c.Auth.APIKey)
	}
	return NewTokenFile(c.ShareDir)
}
