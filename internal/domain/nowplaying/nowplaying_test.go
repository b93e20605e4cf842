// ABOUTME: Tests for title acceptance, the info store and the metadata resolver
// ABOUTME: Providers are faked so each strategy can be driven deterministically
package nowplaying

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harper/radiod/internal/domain"
	"github.com/harper/radiod/internal/domain/station"
)

func TestAcceptTitle(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"-", "Radio Uno"},
		{"", "Radio Uno"},
		{"   ", "Radio Uno"},
		{"x", "Radio Uno"},
		{"RADIO UNO", "Radio Uno"},
		{"  radio uno ", "Radio Uno"},
		{"Good Vibes", "Good Vibes"},
		{"  Good Vibes  ", "Good Vibes"},
	}

	for _, tt := range tests {
		if got := DisplayTitle(tt.raw, "Radio Uno"); got != tt.want {
			t.Errorf("DisplayTitle(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func testStation(id string) *station.Station {
	return &station.Station{
		ID:        id,
		Name:      "Radio " + id,
		StreamURL: "https://example.com/" + id,
		LogoURL:   "https://example.com/" + id + ".png",
	}
}

func TestStore_ResetAndApply(t *testing.T) {
	s := NewStore()
	a := testStation("a")

	gen := s.Reset(a)
	info := s.Current()
	if info.Title != "Radio a" || info.ArtworkURL != a.LogoURL || info.Resolved {
		t.Fatalf("expected station defaults, got %+v", info)
	}

	if !s.Apply(gen, domain.Track{Title: "Song - Artist"}) {
		t.Fatal("expected apply to succeed")
	}
	info = s.Current()
	if info.Title != "Song - Artist" || !info.Resolved {
		t.Errorf("expected resolved title, got %+v", info)
	}
	if info.ArtworkURL != a.LogoURL {
		t.Errorf("expected logo fallback for artwork, got %q", info.ArtworkURL)
	}

	s.Apply(gen, domain.Track{Title: "-", ArtworkURL: "https://example.com/cover.jpg"})
	info = s.Current()
	if info.Title != "Radio a" || info.ArtworkURL != "https://example.com/cover.jpg" {
		t.Errorf("expected station name with artwork, got %+v", info)
	}
}

func TestStore_StaleGenerationDropped(t *testing.T) {
	s := NewStore()
	old := s.Reset(testStation("a"))
	s.Reset(testStation("b"))

	if s.Apply(old, domain.Track{Title: "Late Song"}) {
		t.Fatal("stale apply should be rejected")
	}
	if got := s.Current(); got.StationID != "b" || got.Title != "Radio b" {
		t.Errorf("expected b defaults, got %+v", got)
	}
}

func TestStore_Clear(t *testing.T) {
	s := NewStore()
	gen := s.Reset(testStation("a"))
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Clear()

	if got := s.Current(); got.StationID != "" || got.Title != "" {
		t.Errorf("expected empty info, got %+v", got)
	}
	if s.Apply(gen, domain.Track{Title: "Song"}) {
		t.Error("apply after clear should be rejected")
	}
	if s.Generation() != 0 {
		t.Error("expected zero generation with nothing loaded")
	}

	select {
	case info := <-ch:
		if info.Title != "" {
			t.Errorf("expected cleared info, got %+v", info)
		}
	case <-time.After(time.Second):
		t.Fatal("expected notification")
	}
}

type fakeProvider struct {
	calls atomic.Int32
	track domain.Track
	err   error
}

func (f *fakeProvider) Fetch(ctx context.Context, st *station.Station) (domain.Track, error) {
	f.calls.Add(1)
	return f.track, f.err
}

type fakePush struct {
	messages []domain.Track
	err      error
	block    bool
}

func (f *fakePush) Match(st *station.Station) (string, bool) {
	return st.ID, true
}

func (f *fakePush) Connect(ctx context.Context, key string) (domain.PushStream, error) {
	if f.err != nil && len(f.messages) == 0 && !f.block {
		return nil, f.err
	}
	return &fakeStream{messages: f.messages, err: f.err, block: f.block, closed: make(chan struct{})}, nil
}

type fakeStream struct {
	messages []domain.Track
	err      error
	block    bool
	closed   chan struct{}
	once     sync.Once
}

func (s *fakeStream) Next() (domain.Track, error) {
	if len(s.messages) > 0 {
		t := s.messages[0]
		s.messages = s.messages[1:]
		return t, nil
	}
	if s.block {
		<-s.closed
		return domain.Track{}, errors.New("closed")
	}
	return domain.Track{}, s.err
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type collector struct {
	mu     sync.Mutex
	tracks []domain.Track
}

func (c *collector) sink(t domain.Track) {
	c.mu.Lock()
	c.tracks = append(c.tracks, t)
	c.mu.Unlock()
}

func (c *collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tracks)
}

func (c *collector) Last() domain.Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracks[len(c.tracks)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestResolver_DirectFirst(t *testing.T) {
	direct := &fakeProvider{track: domain.Track{Title: "Direct Song"}}
	proxy := &fakeProvider{track: domain.Track{Title: "Proxy Song"}}
	r := NewResolver(Config{PollInterval: time.Hour}, nil, direct, proxy)

	st := testStation("a")
	st.MetadataURL = "https://example.com/status.json"

	var c collector
	ch := r.Open(st, c.sink)
	waitFor(t, "first track", func() bool { return c.Len() > 0 })
	ch.Close()

	if got := c.Last().Title; got != "Direct Song" {
		t.Errorf("expected direct title, got %q", got)
	}
	if proxy.calls.Load() != 0 {
		t.Error("proxy should not be called when direct succeeds")
	}
}

func TestResolver_ProxyWhenDirectRejected(t *testing.T) {
	direct := &fakeProvider{track: domain.Track{Title: "-"}}
	proxy := &fakeProvider{track: domain.Track{Title: "Proxy Song"}}
	r := NewResolver(Config{PollInterval: time.Hour}, nil, direct, proxy)

	st := testStation("a")
	st.MetadataURL = "https://example.com/status.json"

	track, err := r.Fetch(context.Background(), st)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if track.Title != "Proxy Song" {
		t.Errorf("expected proxy title, got %q", track.Title)
	}
}

func TestResolver_AllFailFallsBackToName(t *testing.T) {
	direct := &fakeProvider{err: context.DeadlineExceeded}
	proxy := &fakeProvider{err: errors.New("connection refused")}
	r := NewResolver(Config{PollInterval: time.Hour}, nil, direct, proxy)

	st := testStation("a")
	st.MetadataURL = "https://example.com/status.json"

	store := NewStore()
	gen := store.Reset(st)

	ch := r.Open(st, func(t domain.Track) { store.Apply(gen, t) })
	waitFor(t, "both lookups", func() bool { return proxy.calls.Load() > 0 })
	ch.Close()

	if got := store.Current().Title; got != st.Name {
		t.Errorf("expected station name, got %q", got)
	}
}

func TestResolver_NoProvidersNeverPolls(t *testing.T) {
	r := NewResolver(Config{PollInterval: time.Millisecond}, nil, nil, nil)

	var c collector
	ch := r.Open(testStation("a"), c.sink)
	waitFor(t, "channel to finish", func() bool { return r.OpenChannels() == 0 })
	ch.Close()

	if c.Len() != 0 {
		t.Errorf("expected no sink calls, got %d", c.Len())
	}
}

func TestResolver_PushErrorSettlesOnName(t *testing.T) {
	push := &fakePush{messages: []domain.Track{{Title: "Pushed Song"}}, err: errors.New("eof")}
	direct := &fakeProvider{track: domain.Track{Title: "Direct Song"}}
	proxy := &fakeProvider{track: domain.Track{Title: "Proxy Song"}}
	r := NewResolver(Config{PollInterval: time.Millisecond}, push, direct, proxy)

	st := testStation("a")
	st.MetadataURL = "https://example.com/status.json"

	var c collector
	ch := r.Open(st, c.sink)
	waitFor(t, "channel to finish", func() bool { return r.OpenChannels() == 0 })
	ch.Close()

	if c.Len() != 2 {
		t.Fatalf("expected pushed track then fallback, got %d tracks", c.Len())
	}
	if c.Last().Title != "" {
		t.Errorf("expected empty fallback track, got %+v", c.Last())
	}
	if direct.calls.Load() != 0 || proxy.calls.Load() != 0 {
		t.Error("push stations must not poll")
	}
}

func TestResolver_PushFallbackToPolling(t *testing.T) {
	push := &fakePush{err: errors.New("dial failed")}
	proxy := &fakeProvider{track: domain.Track{Title: "Proxy Song"}}
	r := NewResolver(Config{PollInterval: time.Hour, FallbackToPolling: true}, push, nil, proxy)

	var c collector
	ch := r.Open(testStation("a"), c.sink)
	waitFor(t, "polled track", func() bool { return proxy.calls.Load() > 0 && c.Len() >= 2 })
	ch.Close()

	if got := c.Last().Title; got != "Proxy Song" {
		t.Errorf("expected polled title, got %q", got)
	}
}

func TestResolver_CloseStopsSink(t *testing.T) {
	push := &fakePush{messages: []domain.Track{{Title: "Pushed"}}, block: true}
	r := NewResolver(Config{}, push, nil, nil)

	var c collector
	a := r.Open(testStation("a"), c.sink)
	waitFor(t, "pushed track", func() bool { return c.Len() == 1 })

	a.Close()
	b := r.Open(testStation("b"), func(domain.Track) {})

	if n := r.OpenChannels(); n != 1 {
		t.Errorf("expected one open channel, got %d", n)
	}
	if b.Station().ID != "b" {
		t.Errorf("expected channel for b, got %s", b.Station().ID)
	}
	if c.Len() != 1 {
		t.Errorf("sink for a called after close: %d", c.Len())
	}

	b.Close()
	b.Close()
	if n := r.OpenChannels(); n != 0 {
		t.Errorf("expected no open channels, got %d", n)
	}
}
