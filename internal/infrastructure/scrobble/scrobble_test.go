// ABOUTME: Tests for the ListenBrainz scrobbler
// ABOUTME: Uses a recording target and a fake clock
package scrobble

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	lb "github.com/kori/go-listenbrainz"

	"github.com/harper/radiod/internal/domain/nowplaying"
)

type recordingTarget struct {
	calls []string
}

func ok() *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Status: "200 OK", Body: io.NopCloser(strings.NewReader(""))}
}

func (r *recordingTarget) SubmitPlayingNow(t lb.Track) (*http.Response, error) {
	r.calls = append(r.calls, "now:"+t.Artist+"|"+t.Title)
	return ok(), nil
}

func (r *recordingTarget) SubmitListen(t lb.Track, listenedAt int64) (*http.Response, error) {
	r.calls = append(r.calls, "listen:"+t.Artist+"|"+t.Title)
	return ok(), nil
}

func TestSplitTitle(t *testing.T) {
	tests := []struct {
		raw  string
		want lb.Track
	}{
		{"Boards of Canada - Roygbiv", lb.Track{Artist: "Boards of Canada", Title: "Roygbiv"}},
		{"A - B - C", lb.Track{Artist: "A", Title: "B - C"}},
		{"Just A Title", lb.Track{Title: "Just A Title"}},
		{" - Missing Artist", lb.Track{Title: "- Missing Artist"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, SplitTitle(tt.raw)); diff != "" {
			t.Errorf("SplitTitle(%q) mismatch (-want +got):\n%s", tt.raw, diff)
		}
	}
}

func TestScrobbler_Run(t *testing.T) {
	target := &recordingTarget{}
	s := New(target)
	clock := time.Unix(1700000000, 0)
	s.now = func() time.Time { return clock }

	s.handle(nowplaying.Info{Title: "Station FM"})
	s.handle(nowplaying.Info{Title: "A - One", Resolved: true})
	s.handle(nowplaying.Info{Title: "A - One", Resolved: true})
	s.handle(nowplaying.Info{Title: "B - Two", Resolved: true})
	clock = clock.Add(time.Minute)
	s.handle(nowplaying.Info{Title: "C - Three", Resolved: true})
	clock = clock.Add(time.Minute)

	updates := make(chan nowplaying.Info)
	close(updates)
	s.Run(context.Background(), updates)

	want := []string{
		"now:A|One",
		"now:B|Two",
		"listen:B|Two",
		"now:C|Three",
		"listen:C|Three",
	}
	if diff := cmp.Diff(want, target.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestScrobbler_FallbackTitleEndsListen(t *testing.T) {
	target := &recordingTarget{}
	s := New(target)
	clock := time.Unix(1700000000, 0)
	s.now = func() time.Time { return clock }

	s.handle(nowplaying.Info{Title: "A - One", Resolved: true})
	clock = clock.Add(10 * time.Second)
	s.handle(nowplaying.Info{Title: "Station FM"})
	clock = clock.Add(time.Hour)
	s.flush()

	if diff := cmp.Diff([]string{"now:A|One"}, target.calls); diff != "" {
		t.Errorf("short titles must not count as listens (-want +got):\n%s", diff)
	}
}
