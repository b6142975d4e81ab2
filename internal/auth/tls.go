package auth

import (
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/haasonsaas/switchboard/internal/config"
)

// trustPool merges any extra CA bundles named by multi_ca_bundle (colon- or
// comma-separated PEM paths) into the system trust store. Corporate proxies
// and private upstreams commonly require this.
func trustPool(cfg *config.Manager) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}

	raw := cfg.Get(config.KeyCABundle)
	if raw == "" {
		return pool, nil
	}
	for _, path := range strings.FieldsFunc(raw, func(r rune) bool { return r == ':' || r == ',' }) {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read ca bundle %s: %w", path, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca bundle %s: no certificates found", path)
		}
	}
	return pool, nil
}
