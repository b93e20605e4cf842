// ABOUTME: Audio device that hands station streams to a Music Player Daemon
// ABOUTME: Translates MPD player idle events into device lifecycle events
package mpd

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	m "github.com/fhs/gompd/mpd"
	"github.com/rs/zerolog/log"

	"github.com/harper/radiod/internal/domain"
)

const defaultStartTimeout = 15 * time.Second

type Config struct {
	Address  string
	Password string
	// StartTimeout bounds the wait for the daemon to report play.
	StartTimeout time.Duration
}

type Device struct {
	cfg     Config
	mu      sync.Mutex
	client  *m.Client
	watcher *m.Watcher
	url     string
	volume  float64
	closed  bool

	// last observed player state and whether that song had a length
	lastState string
	finite    bool

	events chan domain.DeviceEvent
	done   chan struct{}
	wg     sync.WaitGroup
}

var _ domain.AudioDevice = (*Device)(nil)

// Dial connects the command and idle connections to the daemon.
func Dial(cfg Config) (*Device, error) {
	client, err := m.DialAuthenticated("tcp", cfg.Address, cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("dial mpd %s: %w", cfg.Address, err)
	}
	watcher, err := m.NewWatcher("tcp", cfg.Address, cfg.Password, "player", "mixer")
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("watch mpd %s: %w", cfg.Address, err)
	}

	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	d := &Device{
		cfg:     cfg,
		client:  client,
		watcher: watcher,
		volume:  1,
		events:  make(chan domain.DeviceEvent, 64),
		done:    make(chan struct{}),
	}
	d.wg.Add(2)
	go d.watch()
	go d.keepAlive()
	return d, nil
}

func (d *Device) SetSource(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
	d.lastState = ""
	d.finite = false
}

// Load replaces the daemon queue with the current source.
func (d *Device) Load() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.url == "" {
		return
	}
	if err := d.client.Clear(); err != nil {
		log.Warn().Err(err).Msg("mpd clear failed")
		return
	}
	if err := d.client.Add(d.url); err != nil {
		log.Warn().Err(err).Str("url", d.url).Msg("mpd add failed")
	}
}

func (d *Device) Play(ctx context.Context) error {
	if err := d.startPlayback(); err != nil {
		return err
	}
	return awaitStart(ctx, d.status, d.cfg.StartTimeout)
}

// startPlayback resumes a paused song or starts the queue. The daemon
// returns before the stream is opened.
func (d *Device) startPlayback() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("device closed")
	}
	if d.url == "" {
		return errors.New("no source")
	}

	status, err := d.client.Status()
	if err != nil {
		return err
	}
	if status["state"] == "pause" {
		return d.client.Pause(false)
	}
	if status["playlistlength"] == "0" {
		if err := d.client.Add(d.url); err != nil {
			return fmt.Errorf("queue %s: %w", d.url, err)
		}
	}
	return d.client.Play(0)
}

func (d *Device) status() (m.Attrs, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("device closed")
	}
	return d.client.Status()
}

// awaitStart polls status until the daemon reports play or an error. The
// device lock is only held for each status call.
func awaitStart(ctx context.Context, status func() (m.Attrs, error), timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		attrs, err := status()
		if err != nil {
			return err
		}
		if msg := attrs["error"]; msg != "" {
			return errors.New(msg)
		}
		if attrs["state"] == "play" {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("mpd did not start within %s", timeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Device) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.client.Pause(true); err != nil {
		log.Warn().Err(err).Msg("mpd pause failed")
	}
}

func (d *Device) CurrentTime() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, err := d.client.Status()
	if err != nil {
		return 0
	}
	return seconds(status["elapsed"])
}

func (d *Device) SetCurrentTime(sec float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, err := d.client.Status()
	if err != nil || isLive(status) {
		return
	}
	pos, err := strconv.Atoi(status["song"])
	if err != nil {
		return
	}
	if err := d.client.Seek(pos, int(sec)); err != nil {
		log.Warn().Err(err).Msg("mpd seek failed")
	}
}

func (d *Device) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

// SetVolume maps 0..1 onto the daemon mixer percentage.
func (d *Device) SetVolume(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.volume = v
	if err := d.client.SetVolume(int(math.Round(v * 100))); err != nil {
		log.Debug().Err(err).Msg("mpd mixer unavailable")
	}
}

func (d *Device) Duration() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, err := d.client.Status()
	if err != nil || isLive(status) {
		return math.Inf(1)
	}
	return seconds(status["duration"])
}

func (d *Device) Events() <-chan domain.DeviceEvent {
	return d.events
}

func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.done)
	d.mu.Unlock()

	werr := d.watcher.Close()
	d.wg.Wait()
	cerr := d.client.Close()
	close(d.events)
	return errors.Join(werr, cerr)
}

func (d *Device) keepAlive() {
	defer d.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.mu.Lock()
			err := d.client.Ping()
			d.mu.Unlock()
			if err != nil {
				log.Warn().Err(err).Msg("mpd ping failed")
			}
		}
	}
}

func (d *Device) watch() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case err, ok := <-d.watcher.Error:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("mpd watcher error")
		case subsystem, ok := <-d.watcher.Event:
			if !ok {
				return
			}
			if subsystem == "mixer" {
				d.syncVolume()
				continue
			}
			d.mu.Lock()
			status, err := d.client.Status()
			url, prev, finite := d.url, d.lastState, d.finite
			if err == nil {
				d.lastState = status["state"]
				if !isLive(status) {
					d.finite = true
				}
			}
			d.mu.Unlock()
			if err != nil {
				d.emit(domain.EventError, url, err)
				continue
			}
			// the queue is cleared while switching stations
			if status["state"] == "stop" && prev != "play" {
				continue
			}
			typ, evErr := translate(status, finite)
			d.emit(typ, url, evErr)
		}
	}
}

// syncVolume picks up mixer changes made by other MPD clients.
func (d *Device) syncVolume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, err := d.client.Status()
	if err != nil {
		return
	}
	if v, ok := mixerLevel(status); ok {
		d.volume = v
	}
}

func (d *Device) emit(typ domain.DeviceEventType, url string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.events <- domain.DeviceEvent{Type: typ, Source: url, Err: err}:
	default:
	}
}

// translate maps a player status to the matching device event. A stopped
// live stream means the connection dropped.
func translate(status m.Attrs, finite bool) (domain.DeviceEventType, error) {
	if msg := status["error"]; msg != "" {
		return domain.EventError, errors.New(msg)
	}
	switch status["state"] {
	case "play":
		return domain.EventPlaying, nil
	case "pause":
		return domain.EventPause, nil
	}
	if finite {
		return domain.EventEnded, nil
	}
	return domain.EventError, errors.New("stream stopped")
}

// mixerLevel reads the 0..100 volume; -1 means the daemon has no mixer.
func mixerLevel(status m.Attrs) (float64, bool) {
	v, err := strconv.Atoi(status["volume"])
	if err != nil || v < 0 {
		return 0, false
	}
	return float64(v) / 100, true
}

func isLive(status m.Attrs) bool {
	return seconds(status["duration"]) <= 0
}

func seconds(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
