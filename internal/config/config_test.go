package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `oauth_host=auth.example.com
oauth_client_id=client-1
llm_api_url=https://llm.example.com/v1/chat/completions
`

func TestLoadRequiresCoreKeys(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"complete", minimalConfig, false},
		{"missing host", "oauth_client_id=c\nllm_api_url=u\n", true},
		{"missing client id", "oauth_host=h\nllm_api_url=u\n", true},
		{"missing api url", "oauth_host=h\noauth_client_id=c\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetDuration(t *testing.T) {
	m, err := Load(writeConfig(t, minimalConfig+"connection_timeout=2.5\nllm_request_timeout=bogus\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := m.GetDuration(KeyConnectionTimeout, time.Second); got != 2500*time.Millisecond {
		t.Errorf("GetDuration(connection_timeout) = %v, want 2.5s", got)
	}
	if got := m.GetDuration(KeyRequestTimeout, DefaultRequestTimeout); got != DefaultRequestTimeout {
		t.Errorf("GetDuration(llm_request_timeout) = %v, want default %v", got, DefaultRequestTimeout)
	}
}

func TestSetPersistsAtomically(t *testing.T) {
	path := writeConfig(t, minimalConfig+"oauth_refresh_token=old-refresh\nllm_model_name=base\n")
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	err = m.Set(map[string]string{
		KeyAccessToken:  "new-access",
		KeyRefreshToken: "new-refresh",
	})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}

	// The snapshot reflects the write immediately.
	if got := m.Get(KeyAccessToken); got != "new-access" {
		t.Errorf("Get(access_token) = %q, want new-access", got)
	}

	// A fresh load sees the new values and the untouched keys.
	fresh, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := fresh.Get(KeyRefreshToken); got != "new-refresh" {
		t.Errorf("persisted refresh token = %q, want new-refresh", got)
	}
	if got := fresh.Get(KeyModelName); got != "base" {
		t.Errorf("unrelated key llm_model_name = %q, want base", got)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".config-") {
			t.Errorf("stale temp file %s", e.Name())
		}
	}
}

func TestGetFreshSeesExternalEdits(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if m.GetBool(KeyForceProxy) {
		t.Fatal("force_proxy unexpectedly set")
	}
	if err := os.WriteFile(path, []byte(minimalConfig+"force_proxy=true\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if got := m.GetFresh(KeyForceProxy); got != "true" {
		t.Errorf("GetFresh(force_proxy) = %q, want true", got)
	}
}
