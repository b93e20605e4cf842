// ABOUTME: Reports resolved now-playing titles to ListenBrainz
// ABOUTME: Sends playing-now on each new title and a listen once a title has played long enough
package scrobble

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	lb "github.com/kori/go-listenbrainz"
	"github.com/rs/zerolog/log"

	"github.com/harper/radiod/internal/domain/nowplaying"
)

// MinListen is how long a title must stay current before it counts as a listen.
const MinListen = 30 * time.Second

// Target receives scrobbles.
type Target interface {
	SubmitPlayingNow(t lb.Track) (*http.Response, error)
	SubmitListen(t lb.Track, listenedAt int64) (*http.Response, error)
}

type listenBrainz struct {
	token string
}

// ListenBrainz submits with a user token.
func ListenBrainz(token string) Target {
	return &listenBrainz{token: token}
}

func (l *listenBrainz) SubmitPlayingNow(t lb.Track) (*http.Response, error) {
	return lb.SubmitPlayingNow(t, l.token)
}

func (l *listenBrainz) SubmitListen(t lb.Track, listenedAt int64) (*http.Response, error) {
	return lb.SubmitSingle(t, l.token, listenedAt)
}

type Scrobbler struct {
	target Target
	now    func() time.Time

	current lb.Track
	since   time.Time
}

func New(target Target) *Scrobbler {
	return &Scrobbler{target: target, now: time.Now}
}

// Run consumes now-playing updates until ctx is done or updates closes.
func (s *Scrobbler) Run(ctx context.Context, updates <-chan nowplaying.Info) {
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return
		case info, ok := <-updates:
			if !ok {
				s.flush()
				return
			}
			s.handle(info)
		}
	}
}

func (s *Scrobbler) handle(info nowplaying.Info) {
	var next lb.Track
	if info.Resolved {
		next = SplitTitle(info.Title)
	}
	if next == s.current {
		return
	}

	s.flush()
	s.current = next
	s.since = s.now()
	if next.Title == "" {
		return
	}
	s.submit("playing now", func() (*http.Response, error) {
		return s.target.SubmitPlayingNow(next)
	})
}

// flush records the outgoing title as a listen if it stayed long enough.
func (s *Scrobbler) flush() {
	t := s.current
	if t.Title == "" || s.now().Sub(s.since) < MinListen {
		return
	}
	started := s.since.Unix()
	s.submit("listen", func() (*http.Response, error) {
		return s.target.SubmitListen(t, started)
	})
	s.current = lb.Track{}
}

func (s *Scrobbler) submit(kind string, call func() (*http.Response, error)) {
	resp, err := call()
	if err == nil && resp != nil && resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("status %s", resp.Status)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		log.Warn().Err(err).Str("kind", kind).Msg("listenbrainz submission failed")
		return
	}
	log.Debug().Str("kind", kind).Msg("listenbrainz submission sent")
}

// SplitTitle reads the common "Artist - Title" stream title form.
func SplitTitle(raw string) lb.Track {
	raw = strings.TrimSpace(raw)
	artist, title, ok := strings.Cut(raw, " - ")
	if !ok {
		return lb.Track{Title: raw}
	}
	artist, title = strings.TrimSpace(artist), strings.TrimSpace(title)
	if artist == "" || title == "" {
		return lb.Track{Title: raw}
	}
	return lb.Track{Artist: artist, Title: title}
}
