// ABOUTME: HTTP metadata providers for a station's own endpoint and for a lookup proxy
// ABOUTME: Both fetch JSON with a bounded body and a hard timeout
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harper/radiod/internal/domain"
	"github.com/harper/radiod/internal/domain/station"
)

const maxBody = 64 * 1024

var ErrNoTitle = errors.New("no title in metadata")

type HTTPConfig struct {
	Timeout time.Duration
}

type client struct {
	timeout time.Duration
	http    *http.Client
}

func newClient(timeout time.Duration) client {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return client{
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c client) fetch(ctx context.Context, target string) (domain.Track, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return domain.Track{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Track{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Track{}, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return domain.Track{}, fmt.Errorf("read body: %w", err)
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return domain.Track{}, fmt.Errorf("parse json: %w", err)
	}

	track := ExtractTrack(data)
	if track.Title == "" {
		return domain.Track{}, ErrNoTitle
	}
	return track, nil
}

// HTTPProvider reads the station's own metadata endpoint.
type HTTPProvider struct {
	client client
}

func NewHTTP(cfg HTTPConfig) *HTTPProvider {
	return &HTTPProvider{client: newClient(cfg.Timeout)}
}

func (h *HTTPProvider) Fetch(ctx context.Context, st *station.Station) (domain.Track, error) {
	if st.MetadataURL == "" {
		return domain.Track{}, ErrNoTitle
	}
	return h.client.fetch(ctx, st.MetadataURL)
}

type ProxyConfig struct {
	// URL contains {stream}, replaced by the query-escaped stream address.
	URL     string
	Timeout time.Duration
}

// ProxyProvider asks a lookup service about a stream it cannot read directly.
type ProxyProvider struct {
	template string
	client   client
}

func NewProxy(cfg ProxyConfig) *ProxyProvider {
	return &ProxyProvider{
		template: cfg.URL,
		client:   newClient(cfg.Timeout),
	}
}

func (p *ProxyProvider) Fetch(ctx context.Context, st *station.Station) (domain.Track, error) {
	target := strings.ReplaceAll(p.template, "{stream}", url.QueryEscape(st.StreamURL))
	return p.client.fetch(ctx, target)
}
