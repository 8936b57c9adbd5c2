// Package accountstore persists the provider account pool and tracks each
// account's transient rate-limit, in-flight, and success state.
package accountstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/relaycore/dispatch-proxy/internal/config"
)

// Account is an identified credential bundle for exactly one provider.
type Account struct {
	ID           string     `json:"id"`
	Provider     string     `json:"provider"`
	Email        string     `json:"email,omitempty"`
	Login        string     `json:"login,omitempty"`
	Label        string     `json:"label,omitempty"`
	AccessToken  string     `json:"accessToken,omitempty"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
	ProjectID    string     `json:"projectId,omitempty"`
	// AccountType distinguishes Copilot subscription tiers ("business",
	// "enterprise"); empty means individual. Unused by the other providers.
	AccountType string    `json:"accountType,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Summary is the dashboard-safe, token-redacted projection of an Account.
type Summary struct {
	ID        string     `json:"id"`
	Provider  string     `json:"provider"`
	Email     string     `json:"email,omitempty"`
	Login     string     `json:"login,omitempty"`
	Label     string     `json:"label,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func (a Account) redact() Summary {
	return Summary{
		ID:        a.ID,
		Provider:  a.Provider,
		Email:     a.Email,
		Login:     a.Login,
		Label:     a.Label,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
		ExpiresAt: a.ExpiresAt,
	}
}

// shardPath returns the per-account JSON file path for (provider, id).
func shardPath(provider, id string) string {
	return config.GetAccountShardPath(provider, id)
}

// loadShard reads one account shard from disk. A missing file is not an
// error; callers treat it the same as "account not found".
func loadShard(provider, id string) (*Account, error) {
	data, err := os.ReadFile(shardPath(provider, id))
	if err != nil {
		return nil, err
	}
	var acc Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// saveShard writes one account shard atomically: temp file in the same
// directory, fsync, chmod 0600, then rename.
func saveShard(acc *Account) error {
	path := shardPath(acc.Provider, acc.ID)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(acc, "", "  ")
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, ".acct-*.tmp")
	if err != nil {
		return err
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return err
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tempPath, 0600); err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		return err
	}
	success = true
	return nil
}

func isNotExist(err error) bool {
	return os.IsNotExist(err)
}

func removeShard(provider, id string) error {
	return os.Remove(shardPath(provider, id))
}

// listShardIDs returns every account id persisted for a provider, derived
// from the shard filenames under its auth directory.
func listShardIDs(provider string) ([]string, error) {
	entries, err := os.ReadDir(config.GetAuthDir(provider))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const suffix = ".json"
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			ids = append(ids, name[:len(name)-len(suffix)])
		}
	}
	return ids, nil
}
