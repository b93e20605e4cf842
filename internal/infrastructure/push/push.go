// ABOUTME: Push metadata subscriptions over Server-Sent Events or WebSocket
// ABOUTME: Providers match stream addresses by pattern and expand the stream id into an endpoint
package push

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/harper/radiod/internal/domain"
	"github.com/harper/radiod/internal/domain/station"
	"github.com/harper/radiod/internal/infrastructure/metadata"
)

type ProviderConfig struct {
	// Pattern is matched against the stream URL; its first group is the stream id.
	Pattern string
	// URL receives the stream id in place of {id}.
	URL          string
	TitleField   string
	ArtworkField string
}

type provider struct {
	cfg    ProviderConfig
	re     *regexp.Regexp
	prefix string
}

type Set struct {
	providers []provider
	client    *http.Client
	dialer    *websocket.Dialer
}

func New(cfgs []ProviderConfig) (*Set, error) {
	s := &Set{
		// No client timeout; subscriptions live until cancelled.
		client: &http.Client{},
		dialer: websocket.DefaultDialer,
	}
	for i, cfg := range cfgs {
		re, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			return nil, fmt.Errorf("push provider %d: %w", i, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("push provider %d: pattern has no capture group", i)
		}
		prefix, _, _ := strings.Cut(cfg.URL, "{id}")
		s.providers = append(s.providers, provider{cfg: cfg, re: re, prefix: prefix})
	}
	return s, nil
}

// Match returns the subscription endpoint for the station, if any provider
// recognises its stream.
func (s *Set) Match(st *station.Station) (string, bool) {
	for _, p := range s.providers {
		m := p.re.FindStringSubmatch(st.StreamURL)
		if len(m) < 2 || m[1] == "" {
			continue
		}
		return strings.ReplaceAll(p.cfg.URL, "{id}", m[1]), true
	}
	return "", false
}

func (s *Set) Connect(ctx context.Context, endpoint string) (domain.PushStream, error) {
	p, ok := s.lookup(endpoint)
	if !ok {
		return nil, fmt.Errorf("no push provider for %s", endpoint)
	}

	switch {
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "wss://"):
		conn, _, err := s.dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("dial ws: %w", err)
		}
		return &wsStream{conn: conn, cfg: p.cfg}, nil
	default:
		return s.connectSSE(ctx, endpoint, p.cfg)
	}
}

func (s *Set) lookup(endpoint string) (provider, bool) {
	for _, p := range s.providers {
		if strings.HasPrefix(endpoint, p.prefix) {
			return p, true
		}
	}
	return provider{}, false
}

func (s *Set) connectSSE(ctx context.Context, endpoint string, cfg ProviderConfig) (domain.PushStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-store")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		resp.Body.Close()
		return nil, fmt.Errorf("events status %s", resp.Status)
	}

	return &sseStream{
		body:    resp.Body,
		scanner: bufio.NewScanner(resp.Body),
		cfg:     cfg,
	}, nil
}

func decodeTrack(payload []byte, cfg ProviderConfig) (domain.Track, bool) {
	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		return domain.Track{}, false
	}
	title, ok := metadata.Lookup(data, cfg.TitleField).(string)
	if !ok {
		return domain.Track{}, false
	}
	track := domain.Track{Title: strings.TrimSpace(title)}
	if cfg.ArtworkField != "" {
		track.ArtworkURL, _ = metadata.Lookup(data, cfg.ArtworkField).(string)
	}
	return track, true
}

type sseStream struct {
	body interface{ Close() error }
	// scanner is only touched by Next.
	scanner *bufio.Scanner
	cfg     ProviderConfig
	once    sync.Once
}

// Next returns the next event carrying the title field. Events are separated
// by blank lines; multiple data lines are joined with newlines.
func (s *sseStream) Next() (domain.Track, error) {
	var data []string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			if len(data) == 0 {
				continue
			}
			payload := strings.Join(data, "\n")
			data = data[:0]
			if track, ok := decodeTrack([]byte(payload), s.cfg); ok {
				return track, nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := s.scanner.Err(); err != nil {
		return domain.Track{}, err
	}
	return domain.Track{}, errors.New("event stream closed")
}

func (s *sseStream) Close() error {
	var err error
	s.once.Do(func() { err = s.body.Close() })
	return err
}

type wsStream struct {
	conn *websocket.Conn
	cfg  ProviderConfig
	once sync.Once
}

func (w *wsStream) Next() (domain.Track, error) {
	for {
		kind, payload, err := w.conn.ReadMessage()
		if err != nil {
			return domain.Track{}, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		if track, ok := decodeTrack(payload, w.cfg); ok {
			return track, nil
		}
	}
}

func (w *wsStream) Close() error {
	var err error
	w.once.Do(func() {
		w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		err = w.conn.Close()
	})
	return err
}
