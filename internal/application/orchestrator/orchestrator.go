// ABOUTME: Couples playback transitions to the metadata resolver and the now-playing store
// ABOUTME: Keeps at most one metadata channel open and broadcasts playback failures
package orchestrator

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/harper/radiod/internal/domain"
	"github.com/harper/radiod/internal/domain/nowplaying"
	"github.com/harper/radiod/internal/domain/playback"
	"github.com/harper/radiod/internal/domain/station"
)

type Resolver interface {
	Open(st *station.Station, sink nowplaying.Sink) *nowplaying.Channel
}

type Orchestrator struct {
	resolver Resolver
	store    *nowplaying.Store

	mu      sync.Mutex
	channel *nowplaying.Channel
	lastErr *playback.FailedError

	subsMu sync.RWMutex
	subs   map[chan *playback.FailedError]struct{}
}

func New(resolver Resolver, store *nowplaying.Store) *Orchestrator {
	return &Orchestrator{
		resolver: resolver,
		store:    store,
		subs:     make(map[chan *playback.FailedError]struct{}),
	}
}

var _ playback.Hooks = (*Orchestrator)(nil)

func (o *Orchestrator) StationLoaded(st *station.Station) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closeLocked()
	if st == nil {
		o.store.Clear()
		return
	}
	o.lastErr = nil
	o.store.Reset(st)
}

func (o *Orchestrator) PlaybackStarted(st *station.Station) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closeLocked()

	gen := o.store.Generation()
	if gen == 0 {
		gen = o.store.Reset(st)
	}
	store := o.store
	o.channel = o.resolver.Open(st, func(t domain.Track) {
		store.Apply(gen, t)
	})
	log.Debug().Str("station", st.ID).Msg("metadata channel opened")
}

func (o *Orchestrator) PlaybackStopped() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeLocked()
}

func (o *Orchestrator) PlaybackFailed(err *playback.FailedError) {
	o.mu.Lock()
	o.closeLocked()
	o.store.Clear()
	o.lastErr = err
	o.mu.Unlock()

	o.subsMu.RLock()
	defer o.subsMu.RUnlock()
	for ch := range o.subs {
		select {
		case ch <- err:
		default:
		}
	}
}

// LastError is the most recent playback failure, reset by the next station load.
func (o *Orchestrator) LastError() *playback.FailedError {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

func (o *Orchestrator) Failures() (ch chan *playback.FailedError, cancel func()) {
	ch = make(chan *playback.FailedError, 4)

	o.subsMu.Lock()
	o.subs[ch] = struct{}{}
	o.subsMu.Unlock()

	cancel = func() {
		o.subsMu.Lock()
		if _, ok := o.subs[ch]; ok {
			delete(o.subs, ch)
			close(ch)
		}
		o.subsMu.Unlock()
	}
	return ch, cancel
}

// Close shuts the open channel, if any.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeLocked()
}

func (o *Orchestrator) closeLocked() {
	if o.channel == nil {
		return
	}
	o.channel.Close()
	log.Debug().Str("station", o.channel.Station().ID).Msg("metadata channel closed")
	o.channel = nil
}
