package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"

	"golang.org/x/oauth2"
)

// cachedToken is the on-disk token cache format. The identity fields keep a
// cache written for one app registration from being used by another.
type cachedToken struct {
	TenantID string        `json:"tenant_id"`
	ClientID string        `json:"client_id"`
	Scopes   []string      `json:"scopes"`
	Granted  []string      `json:"granted_scopes,omitempty"`
	Token    *oauth2.Token `json:"token"`
}

// tokenCache persists the token at path. A zero tokenCache is disabled.
type tokenCache struct {
	path string
}

func (c tokenCache) enabled() bool {
	return c.path != ""
}

// load returns the cached token for the given identity, or nil when there is
// none or it belongs to a different tenant, client or scope set.
func (c tokenCache) load(tenantID, clientID string, scopes []string) (*cachedToken, error) {
	if !c.enabled() {
		return nil, nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token cache: %w", err)
	}

	var entry cachedToken
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse token cache: %w", err)
	}

	if entry.Token == nil || entry.TenantID != tenantID || entry.ClientID != clientID {
		return nil, nil
	}
	for _, scope := range scopes {
		if !slices.Contains(entry.Scopes, scope) {
			return nil, nil
		}
	}
	return &entry, nil
}

func (c tokenCache) save(entry cachedToken) error {
	if !c.enabled() {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode token cache: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace token cache: %w", err)
	}
	return nil
}

// DefaultCachePath is the token cache location used when caching is
// requested without an explicit path.
func DefaultCachePath() string {
	return filepath.Join(userCacheDir(), "mailgate", "token.json")
}

func userCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	if runtime.GOOS == "windows" {
		return os.TempDir()
	}
	return filepath.Join(os.Getenv("HOME"), ".cache")
}
