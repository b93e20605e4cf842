// ABOUTME: Process-wide session wiring catalog, audio device, metadata resolution and player
// ABOUTME: Start seeds the catalog and starts watchers; Shutdown tears down in reverse order
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harper/radiod/internal/application/config"
	"github.com/harper/radiod/internal/application/orchestrator"
	"github.com/harper/radiod/internal/domain"
	"github.com/harper/radiod/internal/domain/nowplaying"
	"github.com/harper/radiod/internal/domain/playback"
	"github.com/harper/radiod/internal/domain/station"
	"github.com/harper/radiod/internal/infrastructure/audio/mpd"
	"github.com/harper/radiod/internal/infrastructure/audio/relay"
	"github.com/harper/radiod/internal/infrastructure/audio/speaker"
	"github.com/harper/radiod/internal/infrastructure/catalog"
	"github.com/harper/radiod/internal/infrastructure/favorites"
	httpapi "github.com/harper/radiod/internal/infrastructure/http"
	"github.com/harper/radiod/internal/infrastructure/metadata"
	"github.com/harper/radiod/internal/infrastructure/push"
	"github.com/harper/radiod/internal/infrastructure/scrobble"
	"github.com/harper/radiod/internal/infrastructure/source"
)

type Session struct {
	cfg *config.Config

	Catalog      *catalog.Store
	Favorites    *favorites.Store
	NowPlaying   *nowplaying.Store
	Orchestrator *orchestrator.Orchestrator
	Player       *playback.Controller

	// relay is set when the relay device is the output.
	relay     *relay.Device
	scrobbler *scrobble.Scrobbler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// New builds every component from cfg. Nothing runs until Start.
func New(cfg *config.Config) (*Session, error) {
	cat, err := catalog.Open(catalog.Config{
		Driver: cfg.Catalog.Driver,
		DSN:    cfg.Catalog.DSN,
		Watch:  cfg.Catalog.Watch,
	})
	if err != nil {
		return nil, err
	}

	resolver, err := newResolver(cfg.Metadata)
	if err != nil {
		cat.Close()
		return nil, err
	}

	device, relayDev, err := newDevice(cfg.Audio)
	if err != nil {
		cat.Close()
		return nil, err
	}

	store := nowplaying.NewStore()
	orch := orchestrator.New(resolver, store)
	player := playback.NewController(device, orch)
	player.SetVolume(cfg.Audio.Volume)

	s := &Session{
		cfg:          cfg,
		Catalog:      cat,
		Favorites:    favorites.New(cat.DB()),
		NowPlaying:   store,
		Orchestrator: orch,
		Player:       player,
		relay:        relayDev,
	}
	if token := cfg.Scrobble.ListenBrainzToken; token != "" {
		s.scrobbler = scrobble.New(scrobble.ListenBrainz(token))
	}
	return s, nil
}

func newResolver(cfg config.MetadataConfig) (*nowplaying.Resolver, error) {
	providers := make([]push.ProviderConfig, 0, len(cfg.Push.Providers))
	for _, p := range cfg.Push.Providers {
		providers = append(providers, push.ProviderConfig{
			Pattern:      p.Pattern,
			URL:          p.URL,
			TitleField:   p.TitleField,
			ArtworkField: p.ArtworkField,
		})
	}

	var pushProvider domain.PushProvider
	if len(providers) > 0 {
		set, err := push.New(providers)
		if err != nil {
			return nil, err
		}
		pushProvider = set
	}

	var proxy domain.MetadataProvider
	if cfg.ProxyURL != "" {
		proxy = metadata.NewProxy(metadata.ProxyConfig{URL: cfg.ProxyURL, Timeout: ms(cfg.TimeoutMs)})
	}

	return nowplaying.NewResolver(
		nowplaying.Config{PollInterval: ms(cfg.PollMs), FallbackToPolling: cfg.Push.FallbackToPolling},
		pushProvider,
		metadata.NewHTTP(metadata.HTTPConfig{Timeout: ms(cfg.TimeoutMs)}),
		proxy,
	), nil
}

func newDevice(cfg config.AudioConfig) (domain.AudioDevice, *relay.Device, error) {
	src := source.NewHTTP(source.HTTPConfig{
		ConnectTimeout: ms(cfg.Relay.ConnectTimeoutMs),
		Headers:        cfg.Relay.RequestHeaders,
	})

	switch cfg.Device {
	case "speaker":
		return speaker.New(speaker.Config{
			BufferSize:      ms(cfg.Speaker.BufferMs),
			BitrateHintKbps: cfg.Relay.BitrateHintKbps,
			ReadTimeout:     ms(cfg.Relay.ReadTimeoutMs),
		}, src), nil, nil
	case "mpd":
		dev, err := mpd.Dial(mpd.Config{
			Address:      cfg.MPD.Address,
			Password:     cfg.MPD.Password,
			StartTimeout: ms(cfg.MPD.StartTimeoutMs),
		})
		if err != nil {
			return nil, nil, err
		}
		return dev, nil, nil
	case "relay", "":
		dev := relay.New(relay.Config{
			BitrateHintKbps: cfg.Relay.BitrateHintKbps,
			RingBytes:       cfg.Relay.RingBytes,
			ReadTimeout:     ms(cfg.Relay.ReadTimeoutMs),
		}, src)
		return dev, dev, nil
	default:
		return nil, nil, fmt.Errorf("unknown audio device %q", cfg.Device)
	}
}

// Start seeds the catalog from the configured stations and sliders and starts the
// background watchers.
func (s *Session) Start(ctx context.Context) error {
	if len(s.cfg.Stations) > 0 {
		if err := s.Catalog.Seed(ctx, s.cfg.Stations, s.cfg.Catalog.ReplaceOnSeed); err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
	}
	if len(s.cfg.Sliders) > 0 {
		if err := s.Catalog.SeedSliders(ctx, s.cfg.Sliders, s.cfg.Catalog.ReplaceOnSeed); err != nil {
			return fmt.Errorf("seed sliders: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	updates := s.Catalog.Subscribe(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.followCatalog(updates)
	}()

	if s.scrobbler != nil {
		infos, unsubscribe := s.NowPlaying.Subscribe()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer unsubscribe()
			s.scrobbler.Run(ctx, infos)
		}()
	}
	return nil
}

// followCatalog stops playback when the loaded station disappears from the catalog.
func (s *Session) followCatalog(updates <-chan []station.Station) {
	for list := range updates {
		current := s.Player.Snapshot().Station
		if current == nil {
			continue
		}
		if station.FindByID(list, current.ID) == nil {
			log.Info().Str("station", current.ID).Msg("loaded station removed from catalog")
			s.Player.Stop()
		}
	}
}

// Handler exposes the control API for this session.
func (s *Session) Handler() http.Handler {
	deps := httpapi.Deps{
		Player:     s.Player,
		Catalog:    s.Catalog,
		Sliders:    s.Catalog,
		Favorites:  s.Favorites,
		NowPlaying: s.NowPlaying,
		Failures:   s.Orchestrator,
		MetaInt:    s.cfg.Audio.Relay.MetaInt,
	}
	if s.relay != nil {
		deps.Listener = s.relay
	}
	return httpapi.NewServer(deps)
}

func (s *Session) Shutdown() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	perr := s.Player.Close()
	s.Orchestrator.Close()
	cerr := s.Catalog.Close()
	return errors.Join(perr, cerr)
}
