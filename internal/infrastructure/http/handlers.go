// ABOUTME: HTTP handlers for stations, sliders, player control, now playing and favorites
// ABOUTME: Responses are JSON; live durations are reported as null
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/harper/radiod/internal/domain/playback"
	"github.com/harper/radiod/internal/domain/station"
	"github.com/harper/radiod/internal/infrastructure/catalog"
)

type stationView struct {
	station.Station
	Location string `json:"location,omitempty"`
	Favorite bool   `json:"favorite"`
}

func viewStation(st station.Station, favorite bool) stationView {
	return stationView{Station: st, Location: st.Location(), Favorite: favorite}
}

type playerView struct {
	Station   *station.Station `json:"station"`
	State     playback.State   `json:"state"`
	Playing   bool             `json:"playing"`
	Loading   bool             `json:"loading"`
	Volume    float64          `json:"volume"`
	Elapsed   float64          `json:"elapsed"`
	Duration  *float64         `json:"duration"`
	Live      bool             `json:"live"`
	LastError string           `json:"last_error,omitempty"`
}

func viewSnapshot(snap playback.Snapshot, failed *playback.FailedError) playerView {
	v := playerView{
		Station: snap.Station,
		State:   snap.State,
		Playing: snap.Playing,
		Loading: snap.Loading,
		Volume:  snap.Volume,
		Elapsed: snap.Elapsed,
		Live:    snap.Live(),
	}
	if !v.Live {
		d := snap.Duration
		v.Duration = &d
	}
	if failed != nil && snap.State == playback.StateFailed {
		v.LastError = failed.Error()
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(v)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) favoriteSet(r *http.Request) map[string]bool {
	set := make(map[string]bool)
	if s.deps.Favorites == nil {
		return set
	}
	ids, err := s.deps.Favorites.List(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("load favorites")
		return set
	}
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func (s *Server) isFavorite(r *http.Request, id string) bool {
	if s.deps.Favorites == nil {
		return false
	}
	fav, err := s.deps.Favorites.Contains(r.Context(), id)
	if err != nil {
		log.Warn().Err(err).Str("station", id).Msg("check favorite")
	}
	return fav
}

// listStations supports ?q= search and ?favorites=1 filtering.
func (s *Server) listStations(w http.ResponseWriter, r *http.Request) {
	all, err := s.deps.Catalog.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	favs := s.favoriteSet(r)
	q := r.URL.Query().Get("q")
	onlyFavs := r.URL.Query().Get("favorites") == "1"

	out := make([]stationView, 0, len(all))
	for i := range all {
		st := all[i]
		if !st.Matches(q) || (onlyFavs && !favs[st.ID]) {
			continue
		}
		out = append(out, viewStation(st, favs[st.ID]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getStation(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewStation(*st, s.isFavorite(r, st.ID)))
}

func (s *Server) listSliders(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sliders == nil {
		writeJSON(w, http.StatusOK, []station.Slider{})
		return
	}
	sliders, err := s.deps.Sliders.ListSliders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sliders)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request, id string) (*station.Station, bool) {
	st, err := s.deps.Catalog.Get(r.Context(), id)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, "station not found")
		return nil, false
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return st, true
}

func (s *Server) lastError() *playback.FailedError {
	if s.deps.Failures == nil {
		return nil
	}
	return s.deps.Failures.LastError()
}

func (s *Server) player(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewSnapshot(s.deps.Player.Snapshot(), s.lastError()))
}

func (s *Server) play(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StationID string `json:"station_id"`
	}
	if err := decodeBody(w, r, &req); err != nil || req.StationID == "" {
		writeError(w, http.StatusBadRequest, "station_id required")
		return
	}
	st, ok := s.lookup(w, r, req.StationID)
	if !ok {
		return
	}
	if err := s.deps.Player.LoadAndPlay(st); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, viewSnapshot(s.deps.Player.Snapshot(), nil))
}

func (s *Server) toggle(w http.ResponseWriter, r *http.Request) {
	s.deps.Player.TogglePlayPause()
	s.player(w, r)
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	s.deps.Player.Stop()
	s.player(w, r)
}

func (s *Server) volume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level *float64 `json:"level"`
	}
	if err := decodeBody(w, r, &req); err != nil || req.Level == nil {
		writeError(w, http.StatusBadRequest, "level required")
		return
	}
	s.deps.Player.SetVolume(*req.Level)
	s.player(w, r)
}

func (s *Server) seek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Time *float64 `json:"time"`
	}
	if err := decodeBody(w, r, &req); err != nil || req.Time == nil {
		writeError(w, http.StatusBadRequest, "time required")
		return
	}
	s.deps.Player.Seek(*req.Time)
	s.player(w, r)
}

func (s *Server) nowPlaying(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.NowPlaying.Current())
}

func (s *Server) cover(w http.ResponseWriter, r *http.Request) {
	art := s.deps.NowPlaying.Current().ArtworkURL
	if art == "" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, art, http.StatusFound)
}

func (s *Server) listFavorites(w http.ResponseWriter, r *http.Request) {
	ids, err := s.deps.Favorites.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	all, err := s.deps.Catalog.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	favs := station.FilterByIDs(all, ids)
	out := make([]stationView, 0, len(favs))
	for _, st := range favs {
		out = append(out, viewStation(st, true))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) addFavorite(w http.ResponseWriter, r *http.Request) {
	st, ok := s.lookup(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	if err := s.deps.Favorites.Add(r.Context(), st.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeFavorite(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Favorites.Remove(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
