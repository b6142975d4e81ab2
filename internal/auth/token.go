package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/haasonsaas/switchboard/internal/config"
)

// refreshTimeout bounds the token endpoint call; it is independent of the
// (much longer) completion request timeout.
const refreshTimeout = 30 * time.Second

// expirySafetyMargin is subtracted from the advertised lifetime so a token
// is never presented within a minute of expiring.
const expirySafetyMargin = time.Minute

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AccessToken returns a currently valid bearer, refreshing if needed.
// Concurrent callers share one refresh attempt.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	if tok := m.cachedToken(); tok != "" {
		return tok, nil
	}
	v, err, _ := m.group.Do("refresh", func() (any, error) {
		// A caller that queued behind a completed refresh uses its result.
		if tok := m.cachedToken(); tok != "" {
			return tok, nil
		}
		return m.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) cachedToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != nil && m.token.AccessToken != "" && time.Now().Before(m.token.Expiry) {
		return m.token.AccessToken
	}
	return ""
}

// refresh exchanges the persisted refresh token for a new access token and
// writes the result (including any rotated refresh token) back to the
// configuration file.
func (m *Manager) refresh(ctx context.Context) (string, error) {
	// Re-read the file first: another process sharing the credential file
	// may have rotated the refresh token since our last look.
	if err := m.cfg.Reload(); err != nil {
		m.logger.Warn("config reload before token refresh failed", "error", err)
	}
	refreshToken := m.cfg.Get(config.KeyRefreshToken)
	if refreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token configured", ErrAuth)
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {m.cfg.Get(config.KeyOAuthClientID)},
		"refresh_token": {refreshToken},
	}
	resp, err := m.Do(ctx, Request{
		Method:  http.MethodPost,
		URL:     fmt.Sprintf("https://%s/oauth2/v1/token", m.cfg.Get(config.KeyOAuthHost)),
		Body:    []byte(form.Encode()),
		Header:  http.Header{"Content-Type": {"application/x-www-form-urlencoded"}},
		Timeout: refreshTimeout,
		Retry:   true,
	})
	if err != nil {
		return "", fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("token refresh: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d: %s", ErrAuth, resp.StatusCode, excerpt(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrAuth, err)
	}
	if tr.AccessToken == "" || tr.ExpiresIn <= 0 {
		return "", fmt.Errorf("%w: response missing access_token or expires_in", ErrAuth)
	}

	expiry := time.Now().Add(time.Duration(tr.ExpiresIn)*time.Second - expirySafetyMargin)
	updates := map[string]string{
		config.KeyAccessToken:          tr.AccessToken,
		config.KeyAccessTokenExpiresAt: expiry.Format(time.RFC3339),
	}
	if tr.RefreshToken != "" && tr.RefreshToken != refreshToken {
		updates[config.KeyRefreshToken] = tr.RefreshToken
		m.logger.Info("refresh token rotated by identity provider")
	}
	if err := m.cfg.Set(updates); err != nil {
		// The in-memory token is still good; losing persistence only
		// costs an extra refresh after restart.
		m.logger.Error("persisting refreshed token failed", "error", err)
	}

	m.mu.Lock()
	m.token = &oauth2.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		Expiry:       expiry,
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.TokenRefreshes.Inc()
	}
	m.logger.Info("access token refreshed", "expires_at", expiry.Format(time.RFC3339))
	return tr.AccessToken, nil
}

func excerpt(body []byte) string {
	if len(body) > 500 {
		body = body[:500]
	}
	return string(body)
}
