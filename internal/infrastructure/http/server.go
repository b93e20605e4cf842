// ABOUTME: Control API routing for the radio daemon
// ABOUTME: Declares the collaborator interfaces the handlers depend on
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harper/radiod/internal/domain/nowplaying"
	"github.com/harper/radiod/internal/domain/playback"
	"github.com/harper/radiod/internal/domain/station"
)

type Player interface {
	LoadAndPlay(st *station.Station) error
	TogglePlayPause()
	Stop()
	SetVolume(level float64)
	Seek(sec float64)
	Snapshot() playback.Snapshot
	Subscribe() (chan playback.Snapshot, func())
}

type Catalog interface {
	List(ctx context.Context) ([]station.Station, error)
	Get(ctx context.Context, id string) (*station.Station, error)
}

// Sliders lists promotional banners by order. Subscribe sends the current
// list first.
type Sliders interface {
	ListSliders(ctx context.Context) ([]station.Slider, error)
	SubscribeSliders(ctx context.Context) <-chan []station.Slider
}

type Favorites interface {
	List(ctx context.Context) ([]string, error)
	Contains(ctx context.Context, id string) (bool, error)
	Add(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
}

type NowPlaying interface {
	Current() nowplaying.Info
	Subscribe() (chan nowplaying.Info, func())
}

type Failures interface {
	LastError() *playback.FailedError
	Failures() (chan *playback.FailedError, func())
}

// Listener is an audio device that relays its stream to HTTP clients.
type Listener interface {
	Subscribe() (<-chan []byte, func())
	Name() string
	Bitrate() int
	ClientCount() int
}

type Deps struct {
	Player     Player
	Catalog    Catalog
	Sliders    Sliders
	Favorites  Favorites
	NowPlaying NowPlaying
	Failures   Failures
	// Listener is nil unless the relay device is active.
	Listener Listener
	MetaInt  int
}

type Server struct {
	deps Deps
	mux  *http.ServeMux
}

func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /healthz", s.healthz)

	s.mux.HandleFunc("GET /stations", s.listStations)
	s.mux.HandleFunc("GET /stations/{id}", s.getStation)
	s.mux.HandleFunc("GET /sliders", s.listSliders)

	s.mux.HandleFunc("GET /player", s.player)
	s.mux.HandleFunc("POST /player/play", s.play)
	s.mux.HandleFunc("POST /player/toggle", s.toggle)
	s.mux.HandleFunc("POST /player/stop", s.stop)
	s.mux.HandleFunc("POST /player/volume", s.volume)
	s.mux.HandleFunc("POST /player/seek", s.seek)

	s.mux.HandleFunc("GET /nowplaying", s.nowPlaying)
	s.mux.HandleFunc("GET /cover", s.cover)

	s.mux.HandleFunc("GET /favorites", s.listFavorites)
	s.mux.HandleFunc("PUT /favorites/{id}", s.addFavorite)
	s.mux.HandleFunc("DELETE /favorites/{id}", s.removeFavorite)

	s.mux.HandleFunc("GET /events", s.events)
	s.mux.HandleFunc("GET /listen", s.listen)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	log.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Dur("took", time.Since(start)).
		Msg("request")
}
