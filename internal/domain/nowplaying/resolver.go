// ABOUTME: Resolves the current track title for a station through push, direct or proxy lookups
// ABOUTME: Each open channel runs on its own goroutine until closed
package nowplaying

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harper/radiod/internal/domain"
	"github.com/harper/radiod/internal/domain/station"
)

type Config struct {
	PollInterval time.Duration
	// FallbackToPolling makes a failed push channel continue with polling
	// instead of settling on the station name.
	FallbackToPolling bool
}

// Sink receives resolved tracks. An empty track means the station name.
type Sink func(domain.Track)

type Resolver struct {
	cfg    Config
	push   domain.PushProvider
	direct domain.MetadataProvider
	proxy  domain.MetadataProvider

	open atomic.Int64
}

// NewResolver builds a resolver. Any provider may be nil to disable that
// strategy.
func NewResolver(cfg Config, push domain.PushProvider, direct, proxy domain.MetadataProvider) *Resolver {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	return &Resolver{
		cfg:    cfg,
		push:   push,
		direct: direct,
		proxy:  proxy,
	}
}

type Channel struct {
	station *station.Station
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func (c *Channel) Station() *station.Station {
	return c.station
}

// Close stops the channel and waits for its goroutine. The sink is not
// called after Close returns.
func (c *Channel) Close() {
	c.once.Do(c.cancel)
	<-c.done
}

// OpenChannels is the number of channels that have not finished closing.
func (r *Resolver) OpenChannels() int {
	return int(r.open.Load())
}

func (r *Resolver) Open(st *station.Station, sink Sink) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	ch := &Channel{
		station: st,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	r.open.Add(1)
	go func() {
		defer close(ch.done)
		defer r.open.Add(-1)
		r.run(ctx, st, sink)
	}()
	return ch
}

func (r *Resolver) run(ctx context.Context, st *station.Station, sink Sink) {
	logger := log.With().Str("station", st.ID).Logger()

	if r.push != nil {
		if key, ok := r.push.Match(st); ok {
			err := r.runPush(ctx, key, sink)
			if ctx.Err() != nil {
				return
			}
			logger.Debug().Err(err).Str("key", key).Msg("push metadata closed")
			sink(domain.Track{})
			if !r.cfg.FallbackToPolling {
				return
			}
		}
	}

	if !r.canPoll(st) {
		return
	}

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		track, err := r.Fetch(ctx, st)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Debug().Err(err).Msg("metadata lookup failed")
		}
		sink(track)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Resolver) runPush(ctx context.Context, key string, sink Sink) error {
	stream, err := r.push.Connect(ctx, key)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer func() {
		if stop() {
			stream.Close()
		}
	}()

	for {
		track, err := stream.Next()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sink(track)
	}
}

func (r *Resolver) canPoll(st *station.Station) bool {
	return (r.direct != nil && st.MetadataURL != "") || r.proxy != nil
}

// Fetch performs one lookup: the station's own metadata endpoint first, then
// the proxy. A lookup whose title is not acceptable counts as a miss.
func (r *Resolver) Fetch(ctx context.Context, st *station.Station) (domain.Track, error) {
	var lastErr error

	if r.direct != nil && st.MetadataURL != "" {
		track, err := r.direct.Fetch(ctx, st)
		if err == nil && AcceptTitle(track.Title, st.Name) {
			return track, nil
		}
		lastErr = err
	}

	if r.proxy != nil {
		track, err := r.proxy.Fetch(ctx, st)
		if err == nil && AcceptTitle(track.Title, st.Name) {
			return track, nil
		}
		if err != nil {
			lastErr = err
		}
	}

	return domain.Track{}, lastErr
}
