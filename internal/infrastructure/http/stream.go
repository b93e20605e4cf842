// ABOUTME: Long-lived HTTP responses: the server-sent event feed and the relayed audio stream
// ABOUTME: The audio stream carries ICY metadata with the current title when the client asks for it
package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harper/radiod/internal/domain/playback"
	"github.com/harper/radiod/internal/domain/station"
	"github.com/harper/radiod/internal/infrastructure/icy"
)

const heartbeatInterval = 25 * time.Second

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s sseWriter) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s sseWriter) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// events streams player, nowplaying, sliders and failure events. The current
// player and now-playing state is sent first.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	snaps, cancelSnaps := s.deps.Player.Subscribe()
	defer cancelSnaps()
	infos, cancelInfos := s.deps.NowPlaying.Subscribe()
	defer cancelInfos()

	var failures chan *playback.FailedError
	if s.deps.Failures != nil {
		var cancel func()
		failures, cancel = s.deps.Failures.Failures()
		defer cancel()
	}

	var sliders <-chan []station.Slider
	if s.deps.Sliders != nil {
		sliders = s.deps.Sliders.SubscribeSliders(r.Context())
	}

	sse := sseWriter{w: w, flusher: flusher}
	if err := sse.send("player", viewSnapshot(s.deps.Player.Snapshot(), s.lastError())); err != nil {
		return
	}
	if err := sse.send("nowplaying", s.deps.NowPlaying.Current()); err != nil {
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			err = sse.comment("ping")
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			err = sse.send("player", viewSnapshot(snap, s.lastError()))
		case info, ok := <-infos:
			if !ok {
				return
			}
			err = sse.send("nowplaying", info)
		case list, ok := <-sliders:
			if !ok {
				sliders = nil
				continue
			}
			err = sse.send("sliders", list)
		case failed, ok := <-failures:
			if !ok {
				return
			}
			err = sse.send("failure", map[string]string{
				"station_id": stationID(failed),
				"error":      failed.Error(),
			})
		}
		if err != nil {
			log.Debug().Err(err).Msg("event stream closed")
			return
		}
	}
}

func stationID(err *playback.FailedError) string {
	if err.Station == nil {
		return ""
	}
	return err.Station.ID
}

// listen relays the device stream. Clients sending Icy-MetaData: 1 receive
// the resolved title every MetaInt bytes.
func (s *Server) listen(w http.ResponseWriter, r *http.Request) {
	relay := s.deps.Listener
	if relay == nil {
		writeError(w, http.StatusNotFound, "audio relay not enabled")
		return
	}
	snap := s.deps.Player.Snapshot()
	if snap.Station == nil {
		writeError(w, http.StatusConflict, playback.ErrNoStation.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	name := relay.Name()
	if name == "" {
		name = snap.Station.Name
	}
	wantsMeta := r.Header.Get("Icy-MetaData") == "1" && s.deps.MetaInt > 0

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("icy-name", name)
	w.Header().Set("icy-br", strconv.Itoa(relay.Bitrate()))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "close")
	metaInt := 0
	if wantsMeta {
		metaInt = s.deps.MetaInt
		w.Header().Set("icy-metaint", strconv.Itoa(metaInt))
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	chunks, cancel := relay.Subscribe()
	defer cancel()
	log.Info().Str("remote", r.RemoteAddr).Int("clients", relay.ClientCount()).Msg("listener connected")
	defer log.Info().Str("remote", r.RemoteAddr).Msg("listener disconnected")

	out := icy.NewWriter(w, metaInt, func() string {
		info := s.deps.NowPlaying.Current()
		return icy.StreamTitle(info.Title, info.ArtworkURL)
	})

	for {
		select {
		case <-r.Context().Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				return
			}
			if _, err := out.Write(chunk); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
