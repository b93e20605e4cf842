// ABOUTME: Audio device decoding MP3 streams to the local sound card with beep
// ABOUTME: Pause and volume are applied through beep controls under the speaker lock
package speaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog/log"

	"github.com/harper/radiod/internal/domain"
	"github.com/harper/radiod/internal/infrastructure/source"
)

const (
	outputRate  = beep.SampleRate(44100)
	minVolumeDB = -10.0
)

type Config struct {
	BufferSize      time.Duration
	BitrateHintKbps int
	// ReadTimeout fails the stream when no bytes arrive for this long. The
	// decoder reads inside the speaker mixer, so a stalled read would hold
	// the speaker lock.
	ReadTimeout time.Duration
}

type Device struct {
	cfg    Config
	source domain.StreamSource

	mu       sync.Mutex
	initDone bool
	url      string
	level    float64
	offset   float64 // seconds skipped by the last range request
	length   int64   // total bytes, -1 when live
	bitrate  int
	streamer beep.StreamSeekCloser
	format   beep.Format
	volume   *effects.Volume
	ctrl     *beep.Ctrl
	gen      uint64
	closed   bool

	events chan domain.DeviceEvent
}

var _ domain.AudioDevice = (*Device)(nil)

func New(cfg Config, source domain.StreamSource) *Device {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 250 * time.Millisecond
	}
	if cfg.BitrateHintKbps <= 0 {
		cfg.BitrateHintKbps = 128
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	return &Device{
		cfg:     cfg,
		source:  source,
		level:   1,
		length:  -1,
		bitrate: cfg.BitrateHintKbps,
		events:  make(chan domain.DeviceEvent, 64),
	}
}

func (d *Device) SetSource(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.teardownLocked()
	d.url = url
	d.offset = 0
	d.length = -1
	d.bitrate = d.cfg.BitrateHintKbps
}

func (d *Device) Load() {}

// Play decodes the first frames before returning, so format errors surface here.
func (d *Device) Play(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("device closed")
	}
	if d.ctrl != nil {
		speaker.Lock()
		d.ctrl.Paused = false
		speaker.Unlock()
		d.emitLocked(domain.EventPlaying, nil)
		d.mu.Unlock()
		return nil
	}
	url, offset := d.url, d.byteOffsetLocked(d.offset)
	d.mu.Unlock()

	if url == "" {
		return errors.New("no source")
	}

	stream, err := d.source.Connect(ctx, url, offset)
	if err != nil {
		return err
	}
	body := source.GuardStalls(stream.Body, d.cfg.ReadTimeout)
	streamer, format, err := mp3.Decode(body)
	if err != nil {
		body.Close()
		return fmt.Errorf("decode mp3: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || d.url != url || d.ctrl != nil {
		streamer.Close()
		return context.Canceled
	}
	if err := d.initLocked(); err != nil {
		streamer.Close()
		return err
	}

	if stream.BitrateKbps > 0 {
		d.bitrate = stream.BitrateKbps
	}
	if stream.ContentLength > 0 {
		d.length = offset + stream.ContentLength
	}
	d.gen++
	gen := d.gen
	d.streamer = streamer
	d.format = format
	d.volume = &effects.Volume{
		Streamer: beep.Resample(4, format.SampleRate, outputRate, streamer),
		Base:     2,
		Volume:   levelToExponent(d.level),
		Silent:   d.level <= 0,
	}
	d.ctrl = &beep.Ctrl{Streamer: d.volume}

	speaker.Play(beep.Seq(d.ctrl, beep.Callback(func() {
		go d.drained(gen)
	})))

	log.Debug().Str("url", url).Int("rate", int(format.SampleRate)).Msg("speaker playing")
	if d.length > 0 {
		d.emitLocked(domain.EventLoadedMetadata, nil)
	}
	d.emitLocked(domain.EventCanPlay, nil)
	d.emitLocked(domain.EventPlaying, nil)
	return nil
}

func (d *Device) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctrl == nil {
		return
	}
	speaker.Lock()
	d.ctrl.Paused = true
	speaker.Unlock()
	d.emitLocked(domain.EventPause, nil)
}

func (d *Device) CurrentTime() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.streamer == nil {
		return d.offset
	}
	speaker.Lock()
	pos := d.format.SampleRate.D(d.streamer.Position())
	speaker.Unlock()
	return d.offset + pos.Seconds()
}

// SetCurrentTime restarts a finite stream at the matching byte offset.
func (d *Device) SetCurrentTime(sec float64) {
	d.mu.Lock()
	if d.length < 0 {
		d.mu.Unlock()
		return
	}
	wasPlaying := d.ctrl != nil && !d.ctrl.Paused
	d.teardownLocked()
	d.offset = sec
	d.mu.Unlock()

	if !wasPlaying {
		return
	}
	d.emit(domain.EventWaiting, nil)
	go func() {
		if err := d.Play(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			d.emit(domain.EventError, err)
		}
	}()
}

func (d *Device) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.level
}

func (d *Device) SetVolume(v float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.level = v
	if d.volume == nil {
		return
	}
	speaker.Lock()
	d.volume.Volume = levelToExponent(v)
	d.volume.Silent = v <= 0
	speaker.Unlock()
}

func (d *Device) Duration() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.length < 0 {
		return math.Inf(1)
	}
	return bytesToSeconds(d.length, d.bitrate)
}

func (d *Device) Events() <-chan domain.DeviceEvent {
	return d.events
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.teardownLocked()
	d.closed = true
	close(d.events)
	return nil
}

func (d *Device) initLocked() error {
	if d.initDone {
		return nil
	}
	if err := speaker.Init(outputRate, outputRate.N(d.cfg.BufferSize)); err != nil {
		return fmt.Errorf("initialize speaker: %w", err)
	}
	d.initDone = true
	return nil
}

func (d *Device) teardownLocked() {
	if d.ctrl == nil {
		return
	}
	d.gen++
	if d.streamer != nil {
		speaker.Lock()
		d.offset += d.format.SampleRate.D(d.streamer.Position()).Seconds()
		speaker.Unlock()
	}
	speaker.Clear()
	if d.streamer != nil {
		d.streamer.Close()
	}
	d.streamer = nil
	d.volume = nil
	d.ctrl = nil
}

// drained runs once the decoder has no more samples.
func (d *Device) drained(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen || d.streamer == nil {
		return
	}

	err := d.streamer.Err()
	finite := d.length > 0
	d.teardownLocked()

	switch {
	case err != nil && !errors.Is(err, io.EOF):
		d.emitLocked(domain.EventError, err)
	case finite:
		d.emitLocked(domain.EventEnded, nil)
	default:
		d.emitLocked(domain.EventError, io.ErrUnexpectedEOF)
	}
}

func (d *Device) emit(typ domain.DeviceEventType, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emitLocked(typ, err)
}

func (d *Device) emitLocked(typ domain.DeviceEventType, err error) {
	if d.closed {
		return
	}
	select {
	case d.events <- domain.DeviceEvent{Type: typ, Source: d.url, Err: err}:
	default:
	}
}

func (d *Device) byteOffsetLocked(sec float64) int64 {
	if d.length < 0 || sec <= 0 {
		return 0
	}
	return min(int64(sec*float64(d.bitrate)*1000/8), d.length)
}

// levelToExponent maps a linear 0..1 level to the base-2 exponent used by
// effects.Volume.
func levelToExponent(level float64) float64 {
	if level <= 0 {
		return minVolumeDB
	}
	if level >= 1 {
		return 0
	}
	return math.Max(math.Log2(level), minVolumeDB)
}

func bytesToSeconds(n int64, kbps int) float64 {
	if kbps <= 0 {
		return 0
	}
	return float64(n) * 8 / (float64(kbps) * 1000)
}
