// Package config manages the gateway's runtime configuration file.
//
// Configuration lives in a dotenv-style key/value file. The file is both
// read and written at runtime: the OAuth token refresh persists rotated
// credentials back into it, and several keys (force_proxy, the passthrough
// URL, reasoning strengths) are re-read on every request so operators can
// change behavior without a restart.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Keys recognized in the configuration file.
const (
	KeyOAuthHost            = "oauth_host"
	KeyOAuthClientID        = "oauth_client_id"
	KeyAPIURL               = "llm_api_url"
	KeyRefreshToken         = "oauth_refresh_token"
	KeyAccessToken          = "oauth_access_token"
	KeyAccessTokenExpiresAt = "oauth_access_token_expires_at"
	KeyModelsAPIURL         = "llm_models_api_url"
	KeyModelName            = "llm_model_name"
	KeyResponsesAPIURL      = "llm_responses_api_url"
	KeyRequestTimeout       = "llm_request_timeout"
	KeyConnectionTimeout    = "connection_timeout"
	KeyProxyURL             = "http_proxy_url"
	KeyForceProxy           = "force_proxy"
	KeyDisableSSLVerify     = "disable_ssl_verify"
	KeyCABundle             = "multi_ca_bundle"
	KeyReasoningStrength    = "llm_reasoning_strength"
	KeyNonReasoningStrength = "llm_non_reasoning_strength"
	KeyTemperature          = "llm_temperature"
	KeyLogFilePath          = "log_file_path"
	KeyLogLevel             = "log_level"
	KeyListenAddr           = "listen_addr"
)

// Defaults applied when the corresponding key is absent.
const (
	DefaultRequestTimeout    = 120 * time.Second
	DefaultConnectionTimeout = 2 * time.Second
	DefaultListenAddr        = ":8000"
)

// Manager owns a configuration file. Reads go through an in-memory snapshot
// refreshed by Reload; writes rewrite the whole file atomically so a crash
// mid-refresh never leaves a truncated credential store behind.
type Manager struct {
	path string

	mu     sync.RWMutex
	values map[string]string
}

// Load reads the configuration file at path. The file must exist and carry
// the keys required to reach the upstream.
func Load(path string) (*Manager, error) {
	m := &Manager{path: path}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	for _, key := range []string{KeyOAuthHost, KeyOAuthClientID, KeyAPIURL} {
		if m.Get(key) == "" {
			return nil, fmt.Errorf("config %s: missing required key %q", path, key)
		}
	}
	return m, nil
}

// Reload re-reads the file, replacing the in-memory snapshot.
func (m *Manager) Reload() error {
	values, err := godotenv.Read(m.path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", m.path, err)
	}
	m.mu.Lock()
	m.values = values
	m.mu.Unlock()
	return nil
}

// Path returns the location of the backing file.
func (m *Manager) Path() string { return m.path }

// Get returns the value for key, or "" when unset.
func (m *Manager) Get(key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return strings.TrimSpace(m.values[key])
}

// GetFresh re-reads the file before returning key. Used for keys that must
// reflect operator edits immediately (force_proxy, the passthrough URL).
func (m *Manager) GetFresh(key string) string {
	if err := m.Reload(); err != nil {
		// Keep serving the last good snapshot if the file is briefly
		// unreadable, e.g. mid-rewrite by an editor.
		return m.Get(key)
	}
	return m.Get(key)
}

// GetBool interprets key as a boolean ("true", case-insensitive).
func (m *Manager) GetBool(key string) bool {
	return strings.EqualFold(m.Get(key), "true")
}

// GetDuration interprets key as a duration in seconds, falling back to def
// when unset or unparsable. Fractional seconds are accepted.
func (m *Manager) GetDuration(key string, def time.Duration) time.Duration {
	raw := m.Get(key)
	if raw == "" {
		return def
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

// GetFloat interprets key as a float. The second return reports presence.
func (m *Manager) GetFloat(key string) (float64, bool) {
	raw := m.Get(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Set updates the given keys and rewrites the file atomically: the full key
// set is marshalled to a temp file in the same directory, then renamed over
// the original. Unrelated keys are preserved.
func (m *Manager) Set(updates map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Merge over the latest file contents, not the snapshot, so edits made
	// outside the process since the last Reload are not clobbered.
	values, err := godotenv.Read(m.path)
	if err != nil {
		values = make(map[string]string, len(m.values))
		for k, v := range m.values {
			values[k] = v
		}
	}
	for k, v := range updates {
		values[k] = v
	}

	content, err := godotenv.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, ".config-*")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace config: %w", err)
	}

	m.values = values
	return nil
}
