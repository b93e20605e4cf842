// ABOUTME: HTTP stream source for MP3 radio streams and finite audio files
// ABOUTME: Reports ICY headers and content length, and resumes finite files with Range requests
package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/harper/radiod/internal/domain"
)

type HTTPConfig struct {
	ConnectTimeout time.Duration
	Headers        map[string]string
}

type HTTPSource struct {
	cfg    HTTPConfig
	client *http.Client
}

var _ domain.StreamSource = (*HTTPSource)(nil)

func NewHTTP(cfg HTTPConfig) *HTTPSource {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ConnectTimeout,
		DisableCompression:    true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPSource{
		cfg: cfg,
		// Streams are unbounded, so there is no total timeout.
		client: &http.Client{Transport: transport},
	}
}

// Connect opens url starting at byte offset. Servers that ignore the Range
// header are skipped forward by reading.
func (h *HTTPSource) Connect(ctx context.Context, url string, offset int64) (*domain.Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// Metadata comes from the resolver, not the stream.
	req.Header.Set("Icy-MetaData", "0")
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !isAudio(ct) {
		resp.Body.Close()
		return nil, fmt.Errorf("unsupported content type %q", ct)
	}

	length := resp.ContentLength
	if offset > 0 && resp.StatusCode == http.StatusOK {
		if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("skip to offset %d: %w", offset, err)
		}
		if length > 0 {
			length -= offset
		}
	}

	bitrate, _ := strconv.Atoi(strings.TrimSpace(resp.Header.Get("icy-br")))
	metaInt, _ := strconv.Atoi(strings.TrimSpace(resp.Header.Get("icy-metaint")))

	return &domain.Stream{
		Body:          resp.Body,
		ContentLength: length,
		BitrateKbps:   bitrate,
		MetaInt:       metaInt,
		Name:          resp.Header.Get("icy-name"),
	}, nil
}

func isAudio(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "audio/") ||
		strings.HasPrefix(ct, "application/octet-stream") ||
		strings.HasPrefix(ct, "application/ogg")
}
