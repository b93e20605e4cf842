// ABOUTME: Now-playing info for the current station and the title acceptance rules
// ABOUTME: Store keeps the latest info and drops writes from superseded channels
package nowplaying

import (
	"strings"
	"sync"
	"time"

	"github.com/harper/radiod/internal/domain"
	"github.com/harper/radiod/internal/domain/station"
)

type Info struct {
	StationID  string    `json:"station_id,omitempty"`
	Title      string    `json:"title"`
	ArtworkURL string    `json:"artwork_url,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Resolved is false while Title is the station name fallback.
	Resolved bool `json:"resolved"`
}

// AcceptTitle reports whether a fetched title is worth showing instead of the
// station name.
func AcceptTitle(raw, stationName string) bool {
	title := strings.TrimSpace(raw)
	if title == "" || title == "-" || len([]rune(title)) <= 1 {
		return false
	}
	return !strings.EqualFold(title, strings.TrimSpace(stationName))
}

func DisplayTitle(raw, stationName string) string {
	if AcceptTitle(raw, stationName) {
		return strings.TrimSpace(raw)
	}
	return stationName
}

// Defaults is the info shown before any metadata arrives.
func Defaults(st *station.Station) Info {
	return Info{
		StationID:  st.ID,
		Title:      st.Name,
		ArtworkURL: st.LogoURL,
		UpdatedAt:  time.Now(),
	}
}

type Store struct {
	mu      sync.RWMutex
	info    Info
	station *station.Station
	gen     uint64

	subsMu sync.RWMutex
	subs   map[chan Info]struct{}
}

func NewStore() *Store {
	return &Store{subs: make(map[chan Info]struct{})}
}

// Reset shows the station defaults and returns the generation that writers
// for this station must present to Apply.
func (s *Store) Reset(st *station.Station) uint64 {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.station = st
	s.info = Defaults(st)
	info := s.info
	s.mu.Unlock()

	s.notify(info)
	return gen
}

// Generation returns the current generation, or zero when nothing is loaded.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.station == nil {
		return 0
	}
	return s.gen
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.gen++
	s.station = nil
	s.info = Info{UpdatedAt: time.Now()}
	info := s.info
	s.mu.Unlock()

	s.notify(info)
}

// Apply records a track for the station of generation gen. Unacceptable
// titles fall back to the station name, missing artwork to the logo.
func (s *Store) Apply(gen uint64, t domain.Track) bool {
	s.mu.Lock()
	if gen != s.gen || s.station == nil {
		s.mu.Unlock()
		return false
	}
	st := s.station
	next := Info{
		StationID:  st.ID,
		Title:      DisplayTitle(t.Title, st.Name),
		ArtworkURL: t.ArtworkURL,
		Resolved:   AcceptTitle(t.Title, st.Name),
		UpdatedAt:  time.Now(),
	}
	if next.ArtworkURL == "" {
		next.ArtworkURL = st.LogoURL
	}
	changed := next.Title != s.info.Title || next.ArtworkURL != s.info.ArtworkURL
	s.info = next
	s.mu.Unlock()

	if changed {
		s.notify(next)
	}
	return true
}

func (s *Store) Current() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

func (s *Store) Subscribe() (ch chan Info, cancel func()) {
	ch = make(chan Info, 16)

	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	cancel = func() {
		s.subsMu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.subsMu.Unlock()
	}
	return ch, cancel
}

func (s *Store) notify(info Info) {
	s.subsMu.RLock()
	defer s.subsMu.RUnlock()

	for ch := range s.subs {
		select {
		case ch <- info:
		default:
		}
	}
}
