package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// pingable is implemented by every store and index backend.
type pingable interface {
	Ping(ctx context.Context) error
}

// DependencyPinger adapts a store or index backend to the Pinger interface.
type DependencyPinger struct {
	// target is the backend to ping.
	target pingable
	// name identifies the backend in readiness responses (e.g. "sqlite").
	name string
}

// NewDependencyPinger constructs a DependencyPinger for target.
func NewDependencyPinger(name string, target pingable) *DependencyPinger {
	return &DependencyPinger{target: target, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *DependencyPinger) Name() string { return p.name }

// Ping delegates to the backend's own Ping.
func (p *DependencyPinger) Ping(ctx context.Context) error {
	return p.target.Ping(ctx)
}

// HTTPPinger checks a model backend with a cheap GET request instead of a
// generate call, so readiness checks never consume tokens.
type HTTPPinger struct {
	// url is the polled endpoint (e.g. "http://localhost:11434/api/tags").
	url string
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
	// client performs the request. Per-call deadlines come from ctx.
	client *http.Client
}

// NewHTTPPinger constructs an HTTPPinger that GETs baseURL+path.
func NewHTTPPinger(name, baseURL, path string) *HTTPPinger {
	return &HTTPPinger{
		url:    strings.TrimRight(baseURL, "/") + path,
		name:   name,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the backend label used in readiness responses.
func (p *HTTPPinger) Name() string { return p.name }

// Ping returns nil when the endpoint answers with a 2xx status.
func (p *HTTPPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("health check returned HTTP %d", resp.StatusCode)
	}
	return nil
}
