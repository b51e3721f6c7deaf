package shortlink

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// A Prober checks whether a URL can be reached.
type Prober interface {
	// Probe returns an error when url is not reachable.
	Probe(ctx context.Context, url string) error
}

// A ProberFunc is a function used as a Prober.
type ProberFunc func(ctx context.Context, url string) error

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context, url string) error {
	return f(ctx, url)
}

// HTTPProber probes URLs with a HEAD request, following redirects.
type HTTPProber struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPProber returns a new HTTPProber bounded by timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return errors.Wrap(err, "could not build probe request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "probe failed")
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errors.Errorf("probe returned %s", resp.Status)
	}
	return nil
}
