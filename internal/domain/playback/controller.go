// ABOUTME: Playback controller owning the single audio device of a session
// ABOUTME: Applies user commands and device events as state transitions guarded by a generation token
package playback

import (
	"context"
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/harper/radiod/internal/domain"
	"github.com/harper/radiod/internal/domain/station"
)

type Controller struct {
	dev   domain.AudioDevice
	hooks Hooks

	// cmdMu serializes transitions and device calls. The fields below are
	// written holding both locks, so a cmdMu holder reads them without mu.
	// Device calls are never made under mu.
	cmdMu sync.Mutex
	mu    sync.RWMutex

	station  *station.Station
	state    State
	playing  bool
	loading  bool
	volume   float64
	elapsed  float64
	duration float64

	gen        uint64
	playCancel context.CancelFunc

	subsMu sync.RWMutex
	subs   map[chan Snapshot]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewController(dev domain.AudioDevice, hooks Hooks) *Controller {
	if hooks == nil {
		hooks = nopHooks{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		dev:      dev,
		hooks:    hooks,
		state:    StateIdle,
		volume:   dev.Volume(),
		duration: DurationUnknown,
		subs:     make(map[chan Snapshot]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go c.runEvents()
	return c
}

// LoadAndPlay switches to st and requests playback. The outcome arrives later
// through the hooks; the returned error only covers an invalid station.
func (c *Controller) LoadAndPlay(st *station.Station) error {
	if err := st.Validate(); err != nil {
		return err
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.hooks.PlaybackStopped()
	c.hooks.StationLoaded(st)

	c.mu.Lock()
	c.cancelPlayLocked()
	c.gen++
	c.station = st
	c.state = StateLoading
	c.playing = false
	c.loading = true
	c.elapsed = 0
	c.duration = DurationUnknown
	gen, ctx := c.startPlayLocked()
	c.mu.Unlock()

	c.dev.SetSource(st.StreamURL)
	c.dev.Load()

	log.Debug().Str("station", st.ID).Uint64("gen", gen).Msg("loading station")
	c.publish()

	go c.awaitPlay(ctx, gen, st)
	return nil
}

func (c *Controller) TogglePlayPause() {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	st := c.station
	if st == nil {
		return
	}

	c.mu.Lock()
	switch c.state {
	case StatePlaying, StateLoading:
		c.cancelPlayLocked()
		c.gen++
		c.state = StatePaused
		c.playing = false
		c.loading = false
		c.mu.Unlock()

		c.dev.Pause()
		log.Debug().Str("station", st.ID).Msg("paused")
		c.hooks.PlaybackStopped()
		c.publish()

	default:
		c.gen++
		c.state = StateLoading
		c.loading = true
		gen, ctx := c.startPlayLocked()
		c.mu.Unlock()

		log.Debug().Str("station", st.ID).Uint64("gen", gen).Msg("resuming")
		c.publish()
		go c.awaitPlay(ctx, gen, st)
	}
}

// Stop unloads the current station.
func (c *Controller) Stop() {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.station == nil {
		return
	}
	c.mu.Lock()
	c.cancelPlayLocked()
	c.gen++
	c.resetLocked(StateIdle)
	c.mu.Unlock()

	c.dev.Pause()
	c.hooks.PlaybackStopped()
	c.hooks.StationLoaded(nil)
	c.publish()
}

func (c *Controller) SetVolume(level float64) {
	level = clamp(level, 0, 1)

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	c.volume = level
	c.mu.Unlock()

	c.publish()
	c.dev.SetVolume(level)
}

// Seek moves the playhead of a finite stream. Out-of-range requests are clamped.
func (c *Controller) Seek(sec float64) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if c.station == nil || IsLive(c.duration) {
		return
	}
	sec = clamp(sec, 0, c.duration)

	c.mu.Lock()
	c.elapsed = sec
	c.mu.Unlock()

	c.publish()
	c.dev.SetCurrentTime(sec)
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Subscribe returns a channel receiving a snapshot after every transition.
func (c *Controller) Subscribe() (ch chan Snapshot, cancel func()) {
	ch = make(chan Snapshot, 16)

	c.subsMu.Lock()
	c.subs[ch] = struct{}{}
	c.subsMu.Unlock()

	cancel = func() {
		c.subsMu.Lock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
		c.subsMu.Unlock()
	}
	return ch, cancel
}

// Close stops event processing and releases the device.
func (c *Controller) Close() error {
	c.cmdMu.Lock()
	c.mu.Lock()
	c.cancelPlayLocked()
	c.gen++
	c.mu.Unlock()
	c.cmdMu.Unlock()

	c.hooks.PlaybackStopped()
	c.cancel()
	err := c.dev.Close()
	<-c.done
	return err
}

func (c *Controller) awaitPlay(ctx context.Context, gen uint64, st *station.Station) {
	err := c.dev.Play(ctx)

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if gen != c.gen {
		log.Debug().Str("station", st.ID).Uint64("gen", gen).Msg("discarding stale play result")
		return
	}
	var duration float64
	if err == nil {
		duration = c.dev.Duration()
	}

	c.mu.Lock()
	c.playCancel = nil
	if err != nil {
		c.failLocked(st, err)
		return
	}
	c.state = StatePlaying
	c.playing = true
	c.loading = false
	if !math.IsNaN(duration) {
		c.duration = duration
	}
	c.mu.Unlock()

	log.Info().Str("station", st.ID).Msg("playing")
	c.hooks.PlaybackStarted(st)
	c.publish()
}

func (c *Controller) runEvents() {
	defer close(c.done)

	events := c.dev.Events()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ev)
		}
	}
}

// handleEvent applies a device event for the loaded source. While a Play
// call is in flight the Loading to Playing flip belongs to awaitPlay, so
// canplay and playing only clear a buffering flag during playback.
func (c *Controller) handleEvent(ev domain.DeviceEvent) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	st := c.station
	if st == nil || ev.Source != st.StreamURL {
		return
	}

	switch ev.Type {
	case domain.EventLoadedMetadata:
		d := c.dev.Duration()
		c.mu.Lock()
		c.duration = d
	case domain.EventTimeUpdate:
		t := c.dev.CurrentTime()
		c.mu.Lock()
		c.elapsed = t
	case domain.EventCanPlay, domain.EventPlaying:
		if c.state != StatePlaying || !c.loading {
			return
		}
		c.mu.Lock()
		c.loading = false
	case domain.EventWaiting:
		if c.state != StatePlaying || c.loading {
			return
		}
		c.mu.Lock()
		c.loading = true
	case domain.EventPause, domain.EventEnded:
		if c.state != StatePlaying {
			return
		}
		c.mu.Lock()
		c.state = StatePaused
		c.playing = false
		c.loading = false
		c.mu.Unlock()

		log.Debug().Str("station", st.ID).Stringer("event", ev.Type).Msg("device stopped playback")
		c.hooks.PlaybackStopped()
		c.publish()
		return
	case domain.EventError:
		c.mu.Lock()
		c.cancelPlayLocked()
		c.gen++
		c.failLocked(st, ev.Err)
		return
	default:
		return
	}
	c.mu.Unlock()
	c.publish()
}

// failLocked resets to a failed, unloaded state. It releases mu.
func (c *Controller) failLocked(st *station.Station, reason error) {
	if reason == nil {
		reason = context.Canceled
	}
	c.resetLocked(StateFailed)
	c.mu.Unlock()

	ferr := &FailedError{Station: st, Reason: reason}
	log.Warn().Err(reason).Str("station", st.ID).Msg("playback failed")

	c.hooks.PlaybackStopped()
	c.hooks.StationLoaded(nil)
	c.hooks.PlaybackFailed(ferr)
	c.publish()
}

func (c *Controller) resetLocked(state State) {
	c.station = nil
	c.state = state
	c.playing = false
	c.loading = false
	c.elapsed = 0
	c.duration = DurationUnknown
}

func (c *Controller) startPlayLocked() (uint64, context.Context) {
	ctx, cancel := context.WithCancel(c.ctx)
	c.playCancel = cancel
	return c.gen, ctx
}

func (c *Controller) cancelPlayLocked() {
	if c.playCancel != nil {
		c.playCancel()
		c.playCancel = nil
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Station:  c.station,
		State:    c.state,
		Playing:  c.playing,
		Loading:  c.loading,
		Volume:   c.volume,
		Elapsed:  c.elapsed,
		Duration: c.duration,
	}
}

func (c *Controller) publish() {
	snap := c.Snapshot()

	c.subsMu.RLock()
	defer c.subsMu.RUnlock()

	for ch := range c.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
