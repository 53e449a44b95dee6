package netstate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProber treats any HTTP response from URL as proof of reachability.
// Only transport errors count as offline.
type HTTPProber struct {
	url        string
	httpClient *http.Client
}

// NewHTTPProber creates a prober for url. A zero timeout uses 5 seconds.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Probe sends a HEAD request to the configured URL.
func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.url, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}
