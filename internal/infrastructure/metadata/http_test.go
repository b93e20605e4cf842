// ABOUTME: Tests for the HTTP metadata providers and shape extraction
// ABOUTME: Verifies every known JSON shape, the proxy template and timeout handling
package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/harper/radiod/internal/domain"
	"github.com/harper/radiod/internal/domain/nowplaying"
	"github.com/harper/radiod/internal/domain/station"
)

func TestExtractTrack(t *testing.T) {
	tests := []struct {
		name string
		body string
		want domain.Track
	}{
		{
			"azuracast",
			`{"now_playing":{"song":{"text":"Artist - Song","art":"https://example.com/art.jpg"}}}`,
			domain.Track{Title: "Artist - Song", ArtworkURL: "https://example.com/art.jpg"},
		},
		{"song", `{"song":"Plain Song"}`, domain.Track{Title: "Plain Song"}},
		{"shoutcast", `{"songtitle":"Shout Song","streamstatus":1}`, domain.Track{Title: "Shout Song"}},
		{"icecast", `{"icestats":{"source":{"title":"Song A - Artist"}}}`, domain.Track{Title: "Song A - Artist"}},
		{
			"icecast mounts",
			`{"icestats":{"source":[{"title":" "},{"listenurl":"x"},{"title":"Second Mount"}]}}`,
			domain.Track{Title: "Second Mount"},
		},
		{
			"zeno",
			`{"title":"Zeno Song","image_url":"https://example.com/z.png"}`,
			domain.Track{Title: "Zeno Song", ArtworkURL: "https://example.com/z.png"},
		},
		{
			"priority",
			`{"songtitle":"Second","song":"First","title":"Last"}`,
			domain.Track{Title: "First"},
		},
		{"blank falls through", `{"song":"  ","songtitle":"Fallback"}`, domain.Track{Title: "Fallback"}},
		{"nothing", `{"listeners":12}`, domain.Track{}},
		{"array", `[1,2,3]`, domain.Track{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var data any
			if err := json.Unmarshal([]byte(tt.body), &data); err != nil {
				t.Fatalf("bad fixture: %v", err)
			}
			if diff := cmp.Diff(tt.want, ExtractTrack(data)); diff != "" {
				t.Errorf("ExtractTrack mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHTTPProvider_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cache-Control") != "no-store" {
			t.Errorf("expected Cache-Control no-store, got %q", r.Header.Get("Cache-Control"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"icestats":{"source":{"title":"Song A - Artist"}}}`))
	}))
	defer server.Close()

	provider := NewHTTP(HTTPConfig{Timeout: 5 * time.Second})
	st := &station.Station{ID: "a", Name: "A", StreamURL: "https://example.com/a", MetadataURL: server.URL}

	track, err := provider.Fetch(context.Background(), st)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if track.Title != "Song A - Artist" {
		t.Errorf("expected %q, got %q", "Song A - Artist", track.Title)
	}
}

func TestHTTPProvider_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{"not json", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html>")) }},
		{"no title", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"listeners":1}`)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			provider := NewHTTP(HTTPConfig{Timeout: time.Second})
			st := &station.Station{ID: "a", Name: "A", StreamURL: "https://example.com/a", MetadataURL: server.URL}
			if _, err := provider.Fetch(context.Background(), st); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestProxyProvider_EscapesStream(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query().Get("url")
		w.Write([]byte(`{"title":"Proxy Song"}`))
	}))
	defer server.Close()

	provider := NewProxy(ProxyConfig{URL: server.URL + "/lookup?url={stream}", Timeout: time.Second})
	st := &station.Station{ID: "a", Name: "A", StreamURL: "https://stream.example.com/live?sid=1&x=2"}

	track, err := provider.Fetch(context.Background(), st)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if track.Title != "Proxy Song" {
		t.Errorf("expected Proxy Song, got %q", track.Title)
	}
	if got != st.StreamURL {
		t.Errorf("proxy saw %q, want %q", got, st.StreamURL)
	}
}

func TestFallbackOnTimeoutAndUnreachableProxy(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL, _ := url.Parse(dead.URL)
	dead.Close()

	direct := NewHTTP(HTTPConfig{Timeout: 50 * time.Millisecond})
	proxy := NewProxy(ProxyConfig{URL: "http://" + deadURL.Host + "/?u={stream}", Timeout: 50 * time.Millisecond})
	resolver := nowplaying.NewResolver(nowplaying.Config{PollInterval: time.Hour}, nil, direct, proxy)

	st := &station.Station{ID: "a", Name: "Radio A", StreamURL: "https://example.com/a", MetadataURL: slow.URL}
	store := nowplaying.NewStore()
	gen := store.Reset(st)

	applied := make(chan struct{}, 1)
	ch := resolver.Open(st, func(t domain.Track) {
		store.Apply(gen, t)
		select {
		case applied <- struct{}{}:
		default:
		}
	})
	defer ch.Close()

	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatal("resolver never settled")
	}

	if got := store.Current().Title; got != "Radio A" {
		t.Errorf("expected station name, got %q", got)
	}
}
