// Package auth owns the OAuth2 access-token lifecycle and the dual-path
// HTTP transport used for every upstream call. A single Manager serves the
// whole process: it refreshes the short-lived bearer on demand, persists
// rotated credentials back to the configuration file, and transparently
// fails over between direct and proxied connectivity.
package auth

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/haasonsaas/switchboard/internal/config"
	"github.com/haasonsaas/switchboard/internal/observability"
)

// Mode selects the network path for upstream calls.
type Mode int32

const (
	ModeDirect Mode = iota
	ModeProxy
)

func (m Mode) String() string {
	if m == ModeProxy {
		return "proxy"
	}
	return "direct"
}

func (m Mode) other() Mode {
	if m == ModeDirect {
		return ModeProxy
	}
	return ModeDirect
}

// Request describes one upstream HTTP call. Body must be fully materialised
// so a failed attempt can be replayed on the other path.
type Request struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header

	// Timeout bounds the whole call including body/stream consumption.
	// Zero means the configured llm_request_timeout.
	Timeout time.Duration

	// Retry enables the flip-and-retry-once failover on transport errors.
	Retry bool
}

// Manager is the process-wide token holder and transport.
type Manager struct {
	cfg     *config.Manager
	logger  *slog.Logger
	metrics *observability.Metrics

	direct *http.Client
	proxy  *http.Client // nil when no proxy URL is configured

	// mode is sticky: a successful failover leaves the process on the
	// path that worked until the next failover.
	mode atomic.Int32

	group singleflight.Group

	mu    sync.Mutex
	token *oauth2.Token
}

// NewManager builds the transport pair from configuration and seeds the
// in-memory token from any previously persisted access token.
func NewManager(cfg *config.Manager, logger *slog.Logger, metrics *observability.Metrics) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := trustPool(cfg)
	if err != nil {
		return nil, err
	}
	insecure := cfg.GetBool(config.KeyDisableSSLVerify)
	dialer := &net.Dialer{Timeout: cfg.GetDuration(config.KeyConnectionTimeout, config.DefaultConnectionTimeout)}

	directTransport := &http.Transport{
		DialContext:       dialer.DialContext,
		ForceAttemptHTTP2: true,
		TLSClientConfig:   &tls.Config{RootCAs: pool, InsecureSkipVerify: insecure},
	}

	m := &Manager{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		direct:  &http.Client{Transport: directTransport},
	}

	if proxyURL := cfg.Get(config.KeyProxyURL); proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse http_proxy_url: %w", err)
		}
		proxyTransport := directTransport.Clone()
		proxyTransport.Proxy = http.ProxyURL(u)
		// MITM-ing corporate proxies re-sign upstream certificates, so
		// verification is off on this path.
		proxyTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		m.proxy = &http.Client{Transport: proxyTransport}
	}

	if access := cfg.Get(config.KeyAccessToken); access != "" {
		if expiry, err := time.Parse(time.RFC3339, cfg.Get(config.KeyAccessTokenExpiresAt)); err == nil {
			m.mu.Lock()
			m.token = &oauth2.Token{AccessToken: access, Expiry: expiry}
			m.mu.Unlock()
		}
	}

	return m, nil
}

// ConnectionMode reports the current sticky transport mode.
func (m *Manager) ConnectionMode() Mode { return Mode(m.mode.Load()) }

// ProxyConfigured reports whether a proxy path exists.
func (m *Manager) ProxyConfigured() bool { return m.proxy != nil }

// effectiveMode resolves the mode for the next attempt. The force-proxy
// flag is re-read from the file on every call so operators can steer a
// running process.
func (m *Manager) effectiveMode() Mode {
	if m.proxy != nil && m.cfg.GetFresh(config.KeyForceProxy) == "true" {
		return ModeProxy
	}
	mode := Mode(m.mode.Load())
	if mode == ModeProxy && m.proxy == nil {
		return ModeDirect
	}
	return mode
}

func (m *Manager) clientFor(mode Mode) *http.Client {
	if mode == ModeProxy && m.proxy != nil {
		return m.proxy
	}
	return m.direct
}

// Do performs one upstream call with failover. A returned response may have
// any status code; HTTP-level failures never trigger the path flip. The
// response body cancels the request context when closed.
func (m *Manager) Do(ctx context.Context, r Request) (*http.Response, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = m.cfg.GetDuration(config.KeyRequestTimeout, config.DefaultRequestTimeout)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)

	resp, err := m.send(ctx, r)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (m *Manager) send(ctx context.Context, r Request) (*http.Response, error) {
	primary := m.effectiveMode()
	resp, primaryErr := m.attempt(ctx, r, primary)
	if primaryErr == nil {
		return resp, nil
	}
	if !r.Retry {
		return nil, fmt.Errorf("%w (%s): %v", ErrConnection, primary, primaryErr)
	}

	secondary := primary.other()
	if secondary == ModeProxy && m.proxy == nil {
		// No distinct second path; one more attempt on the only one.
		secondary = ModeDirect
	} else {
		m.mode.Store(int32(secondary))
		m.logger.Warn("transport failover",
			"from", primary.String(), "to", secondary.String(), "url", r.URL, "error", primaryErr)
		if m.metrics != nil {
			m.metrics.FailoversTotal.Inc()
		}
	}

	resp, secondaryErr := m.attempt(ctx, r, secondary)
	if secondaryErr != nil {
		return nil, fmt.Errorf("%w: %s failed (%v); %s failed (%v)",
			ErrConnection, primary, primaryErr, secondary, secondaryErr)
	}
	return resp, nil
}

func (m *Manager) attempt(ctx context.Context, r Request, mode Mode) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return nil, err
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return m.clientFor(mode).Do(req)
}

// Stream performs a call expected to answer with a line-oriented body and
// returns the lines as they arrive. Non-2xx responses are drained into an
// UpstreamError. onOpen, when non-nil, observes the response headers before
// the first line.
func (m *Manager) Stream(ctx context.Context, r Request, onOpen func(http.Header)) (*LineStream, error) {
	resp, err := m.Do(ctx, r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}
	if onOpen != nil {
		onOpen(resp.Header)
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64<<10), 4<<20)
	return &LineStream{resp: resp, scanner: scanner}, nil
}

// LineStream yields the decoded lines of a streaming response.
type LineStream struct {
	resp    *http.Response
	scanner *bufio.Scanner
}

// Next returns the next line. ok is false at end of stream or on error.
func (s *LineStream) Next() (line string, ok bool) {
	if s.scanner.Scan() {
		return s.scanner.Text(), true
	}
	return "", false
}

// Err reports a read error, if any, once Next has returned false.
func (s *LineStream) Err() error { return s.scanner.Err() }

// Close releases the upstream connection promptly.
func (s *LineStream) Close() error { return s.resp.Body.Close() }

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
