package tsa

// Package tsa contains clients for external timestamping authorities. Each
// authority accepts a hex-encoded SHA-256 and returns an opaque binary proof
// of the submission time.

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stampd/internal/config"
)

// proof bodies are small; cap reads defensively against misbehaving servers
const maxProofBytes = 1 << 20

// Authority is one independent external timestamping service.
type Authority interface {
	// Name identifies the authority in anchors and logs.
	Name() string
	// Submit sends the hex-encoded hash and returns the raw proof bytes.
	Submit(ctx context.Context, hexHash string) ([]byte, error)
}

// HTTPAuthority submits hashes to a single authority endpoint over HTTP.
type HTTPAuthority struct {
	name     string
	endpoint string
	client   *http.Client
}

// NewHTTPAuthority creates an authority client with a bounded per-call
// timeout. The name is derived from the endpoint host.
func NewHTTPAuthority(endpoint string, timeout time.Duration) *HTTPAuthority {
	name := endpoint
	if i := strings.Index(name, "://"); i >= 0 {
		name = name[i+3:]
	}
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[:i]
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPAuthority{
		name:     name,
		endpoint: endpoint,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

var _ Authority = (*HTTPAuthority)(nil)

func (a *HTTPAuthority) Name() string { return a.name }

// Submit POSTs the hex hash and returns the proof body as-is. Any non-2xx
// response or transport error (including timeout) is returned to the caller,
// which treats it as recoverable and moves to the next authority.
func (a *HTTPAuthority) Submit(ctx context.Context, hexHash string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(hexHash))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Accept", "application/timestamp-proof")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit to %s: %w", a.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("authority %s returned %d", a.name, resp.StatusCode)
	}

	proof, err := io.ReadAll(io.LimitReader(resp.Body, maxProofBytes))
	if err != nil {
		return nil, fmt.Errorf("read proof from %s: %w", a.name, err)
	}
	if len(proof) == 0 {
		return nil, fmt.Errorf("authority %s returned empty proof", a.name)
	}
	return proof, nil
}

// FromConfig builds the ordered authority list from configuration.
func FromConfig(cfg config.TSAConfig) []Authority {
	out := make([]Authority, 0, len(cfg.Authorities))
	for _, endpoint := range cfg.Authorities {
		out = append(out, NewHTTPAuthority(endpoint, cfg.Timeout))
	}
	return out
}
