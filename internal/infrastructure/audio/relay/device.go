// ABOUTME: Headless audio device that pulls the station stream and relays it to HTTP listeners
// ABOUTME: Keeps a burst buffer for new listeners and reports progress as device events
package relay

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harper/radiod/internal/domain"
	"github.com/harper/radiod/internal/infrastructure/ring"
	"github.com/harper/radiod/internal/infrastructure/source"
)

type Config struct {
	BitrateHintKbps int
	RingBytes       int
	// ReadTimeout fails the stream when no bytes arrive for this long.
	ReadTimeout time.Duration
	// ChunkBytes is the upstream read size.
	ChunkBytes int
}

type Device struct {
	cfg    Config
	source domain.StreamSource
	buffer *ring.Buffer

	mu       sync.Mutex
	url      string
	name     string
	volume   float64
	bitrate  int
	length   int64 // total bytes, -1 when live
	position int64 // bytes consumed from the start of the file
	pump     context.CancelFunc
	pumpGen  uint64
	closed   bool

	clientsMu sync.Mutex
	clients   map[chan []byte]struct{}

	events chan domain.DeviceEvent
	wg     sync.WaitGroup
}

var _ domain.AudioDevice = (*Device)(nil)

func New(cfg Config, source domain.StreamSource) *Device {
	if cfg.BitrateHintKbps <= 0 {
		cfg.BitrateHintKbps = 128
	}
	if cfg.RingBytes <= 0 {
		cfg.RingBytes = 256 * 1024
	}
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = 8192
	}
	return &Device{
		cfg:     cfg,
		source:  source,
		buffer:  ring.New(cfg.RingBytes),
		volume:  1,
		bitrate: cfg.BitrateHintKbps,
		length:  -1,
		clients: make(map[chan []byte]struct{}),
		events:  make(chan domain.DeviceEvent, 64),
	}
}

func (d *Device) SetSource(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.url = url
	d.name = ""
	d.bitrate = d.cfg.BitrateHintKbps
	d.length = -1
	d.position = 0
}

func (d *Device) Load() {
	d.buffer.Reset()
}

// Play connects upstream and returns once response headers arrive. A paused
// finite stream resumes at its last position.
func (d *Device) Play(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.New("device closed")
	}
	if d.pump != nil {
		d.mu.Unlock()
		return nil
	}
	url, offset := d.url, d.resumeOffsetLocked()
	d.mu.Unlock()

	if url == "" {
		return errors.New("no source")
	}

	stream, err := d.source.Connect(ctx, url, offset)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.closed || d.url != url || d.pump != nil {
		d.mu.Unlock()
		stream.Body.Close()
		return context.Canceled
	}
	d.startLocked(url, offset, stream)
	d.mu.Unlock()

	d.emit(domain.EventCanPlay, url, nil)
	d.emit(domain.EventPlaying, url, nil)
	return nil
}

func (d *Device) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopLocked() {
		d.emitLocked(domain.EventPause, d.url, nil)
	}
}

func (d *Device) CurrentTime() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.secondsLocked(d.position)
}

// SetCurrentTime seeks a finite stream by reconnecting at the matching byte offset.
func (d *Device) SetCurrentTime(sec float64) {
	d.mu.Lock()
	if d.length < 0 || sec < 0 {
		d.mu.Unlock()
		return
	}
	offset := int64(sec * float64(d.bitrate) * 1000 / 8)
	if offset > d.length {
		offset = d.length
	}
	url := d.url
	playing := d.stopLocked()
	d.position = offset
	if !playing || d.closed {
		d.mu.Unlock()
		return
	}
	d.emitLocked(domain.EventWaiting, url, nil)
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		if err := d.Play(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			d.emit(domain.EventError, url, err)
		}
	}()
}

func (d *Device) Volume() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.volume
}

// SetVolume is recorded only; listeners control their own playback level.
func (d *Device) SetVolume(v float64) {
	d.mu.Lock()
	d.volume = v
	d.mu.Unlock()
}

func (d *Device) Duration() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.length < 0 {
		return math.Inf(1)
	}
	return d.secondsLocked(d.length)
}

func (d *Device) Events() <-chan domain.DeviceEvent {
	return d.events
}

// Name is the icy-name announced by the current upstream, if any.
func (d *Device) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

func (d *Device) Bitrate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bitrate
}

// Streaming reports whether upstream audio is currently flowing.
func (d *Device) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pump != nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.stopLocked()
	d.mu.Unlock()

	d.wg.Wait()

	d.mu.Lock()
	close(d.events)
	d.mu.Unlock()

	d.clientsMu.Lock()
	for ch := range d.clients {
		delete(d.clients, ch)
		close(ch)
	}
	d.clientsMu.Unlock()
	return nil
}

// Subscribe registers a listener. It receives the burst buffer first, then
// live chunks; chunks are dropped while its buffer is full.
func (d *Device) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 64)
	if burst := d.buffer.Snapshot(); len(burst) > 0 {
		ch <- burst
	}

	d.clientsMu.Lock()
	d.clients[ch] = struct{}{}
	d.clientsMu.Unlock()

	return ch, func() {
		d.clientsMu.Lock()
		if _, ok := d.clients[ch]; ok {
			delete(d.clients, ch)
			close(ch)
		}
		d.clientsMu.Unlock()
	}
}

func (d *Device) ClientCount() int {
	d.clientsMu.Lock()
	defer d.clientsMu.Unlock()
	return len(d.clients)
}

func (d *Device) startLocked(url string, offset int64, stream *domain.Stream) {
	ctx, cancel := context.WithCancel(context.Background())
	d.pump = cancel
	d.pumpGen++
	gen := d.pumpGen

	d.name = stream.Name
	if stream.BitrateKbps > 0 {
		d.bitrate = stream.BitrateKbps
	}
	d.position = offset
	finite := stream.ContentLength > 0
	if finite {
		d.length = offset + stream.ContentLength
		d.emitLocked(domain.EventLoadedMetadata, url, nil)
	}

	d.wg.Add(1)
	go d.run(ctx, gen, url, stream.Body, finite)
}

// stopLocked cancels the running pump and reports whether there was one.
func (d *Device) stopLocked() bool {
	if d.pump == nil {
		return false
	}
	d.pump()
	d.pump = nil
	d.pumpGen++
	return true
}

func (d *Device) resumeOffsetLocked() int64 {
	if d.length < 0 || d.position >= d.length {
		return 0
	}
	return d.position
}

func (d *Device) run(ctx context.Context, gen uint64, url string, body io.ReadCloser, finite bool) {
	defer d.wg.Done()
	defer body.Close()

	body = source.GuardStalls(body, d.cfg.ReadTimeout)
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	buf := make([]byte, d.cfg.ChunkBytes)
	lastTick := time.Now()
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			d.buffer.Write(chunk)
			d.fanOut(chunk)

			d.mu.Lock()
			if d.pumpGen != gen {
				d.mu.Unlock()
				return
			}
			d.position += int64(n)
			if time.Since(lastTick) >= time.Second {
				lastTick = time.Now()
				d.emitLocked(domain.EventTimeUpdate, url, nil)
			}
			d.mu.Unlock()
		}

		if err != nil {
			d.finish(gen, url, err, finite)
			return
		}
	}
}

func (d *Device) finish(gen uint64, url string, err error, finite bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pumpGen != gen {
		return
	}
	d.pump = nil
	d.pumpGen++

	if errors.Is(err, io.EOF) && finite {
		log.Debug().Str("url", url).Msg("stream ended")
		d.emitLocked(domain.EventEnded, url, nil)
		return
	}
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	log.Warn().Err(err).Str("url", url).Msg("stream interrupted")
	d.emitLocked(domain.EventError, url, err)
}

func (d *Device) fanOut(chunk []byte) {
	d.clientsMu.Lock()
	defer d.clientsMu.Unlock()

	for ch := range d.clients {
		select {
		case ch <- chunk:
		default:
		}
	}
}

func (d *Device) emit(typ domain.DeviceEventType, url string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emitLocked(typ, url, err)
}

// emitLocked drops the event when the consumer is not keeping up.
func (d *Device) emitLocked(typ domain.DeviceEventType, url string, err error) {
	if d.closed {
		return
	}
	select {
	case d.events <- domain.DeviceEvent{Type: typ, Source: url, Err: err}:
	default:
		log.Debug().Stringer("event", typ).Msg("device event dropped")
	}
}

func (d *Device) secondsLocked(bytes int64) float64 {
	return float64(bytes) * 8 / (float64(d.bitrate) * 1000)
}
