package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// tokenCache persists the access/refresh token pair to a per-user location,
// keyed by tenant and client identity so different registrations never share
// a token.
type tokenCache struct {
	path string
}

func newTokenCache(baseDir, tenantID, clientID string) *tokenCache {
	name := fmt.Sprintf("token-%s-%s.json", tenantID, clientID)
	return &tokenCache{path: filepath.Join(baseDir, name)}
}

// load returns the cached token, or nil when no usable cache exists.
func (c *tokenCache) load() *oauth2.Token {
	f, err := os.Open(c.path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil
	}
	return &tok
}

// save writes the token with owner-only permissions.
func (c *tokenCache) save(tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("unable to create token cache directory: %w", err)
	}
	f, err := os.OpenFile(c.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to create token cache file %s: %w", c.path, err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}

// clear removes the cached token.
func (c *tokenCache) clear() {
	_ = os.Remove(c.path)
}
