// ABOUTME: YAML or TOML configuration parsing and validation
// ABOUTME: Defines listener, catalog, audio output, metadata, scrobble and seed settings
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/harper/radiod/internal/domain/station"
)

type Config struct {
	Listen   ListenConfig      `yaml:"listen" toml:"listen"`
	Logging  LoggingConfig     `yaml:"logging" toml:"logging"`
	Catalog  CatalogConfig     `yaml:"catalog" toml:"catalog"`
	Audio    AudioConfig       `yaml:"audio" toml:"audio"`
	Metadata MetadataConfig    `yaml:"metadata" toml:"metadata"`
	Scrobble ScrobbleConfig    `yaml:"scrobble" toml:"scrobble"`
	Stations []station.Station `yaml:"stations" toml:"stations"`
	Sliders  []station.Slider  `yaml:"sliders" toml:"sliders"`
}

type ListenConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
	JSON  bool   `yaml:"json" toml:"json"`
}

type CatalogConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
	// Watch reloads subscribers when the sqlite file changes on disk.
	Watch bool `yaml:"watch" toml:"watch"`
	// ReplaceOnSeed deletes every stored station before writing the seed list.
	ReplaceOnSeed bool `yaml:"replace_on_seed" toml:"replace_on_seed"`
}

type AudioConfig struct {
	// Device is "relay", "speaker" or "mpd".
	Device  string        `yaml:"device" toml:"device"`
	Volume  float64       `yaml:"volume" toml:"volume"`
	Relay   RelayConfig   `yaml:"relay" toml:"relay"`
	Speaker SpeakerConfig `yaml:"speaker" toml:"speaker"`
	MPD     MPDConfig     `yaml:"mpd" toml:"mpd"`
}

type RelayConfig struct {
	MetaInt          int               `yaml:"metaint" toml:"metaint"`
	BitrateHintKbps  int               `yaml:"bitrate_hint_kbps" toml:"bitrate_hint_kbps"`
	RingBytes        int               `yaml:"ring_bytes" toml:"ring_bytes"`
	ConnectTimeoutMs int               `yaml:"connect_timeout_ms" toml:"connect_timeout_ms"`
	ReadTimeoutMs    int               `yaml:"read_timeout_ms" toml:"read_timeout_ms"`
	RequestHeaders   map[string]string `yaml:"request_headers" toml:"request_headers"`
}

type SpeakerConfig struct {
	BufferMs int `yaml:"buffer_ms" toml:"buffer_ms"`
}

type MPDConfig struct {
	Address        string `yaml:"address" toml:"address"`
	Password       string `yaml:"password" toml:"password"`
	StartTimeoutMs int    `yaml:"start_timeout_ms" toml:"start_timeout_ms"`
}

type MetadataConfig struct {
	PollMs    int        `yaml:"poll_ms" toml:"poll_ms"`
	TimeoutMs int        `yaml:"timeout_ms" toml:"timeout_ms"`
	ProxyURL  string     `yaml:"proxy_url" toml:"proxy_url"`
	Push      PushConfig `yaml:"push" toml:"push"`
}

type PushConfig struct {
	FallbackToPolling bool                 `yaml:"fallback_to_polling" toml:"fallback_to_polling"`
	Providers         []PushProviderConfig `yaml:"providers" toml:"providers"`
}

type PushProviderConfig struct {
	Pattern      string `yaml:"pattern" toml:"pattern"`
	URL          string `yaml:"url" toml:"url"`
	TitleField   string `yaml:"title_field" toml:"title_field"`
	ArtworkField string `yaml:"artwork_field" toml:"artwork_field"`
}

type ScrobbleConfig struct {
	ListenBrainzToken string `yaml:"listenbrainz_token" toml:"listenbrainz_token"`
}

func Default() *Config {
	return &Config{
		Listen:  ListenConfig{Host: "127.0.0.1", Port: 8000},
		Logging: LoggingConfig{Level: "info"},
		Catalog: CatalogConfig{Driver: "sqlite", DSN: "radiod.db"},
		Audio: AudioConfig{
			Device: "relay",
			Volume: 1,
			Relay: RelayConfig{
				MetaInt:          16000,
				BitrateHintKbps:  128,
				RingBytes:        256 * 1024,
				ConnectTimeoutMs: 5000,
				ReadTimeoutMs:    15000,
			},
			Speaker: SpeakerConfig{BufferMs: 100},
			MPD:     MPDConfig{Address: "localhost:6600", StartTimeoutMs: 15000},
		},
		Metadata: MetadataConfig{
			PollMs:    15000,
			TimeoutMs: 8000,
			Push: PushConfig{
				Providers: []PushProviderConfig{{
					Pattern:    `zeno\.fm/([a-zA-Z0-9\-_]+)`,
					URL:        "https://api.zeno.fm/mounts/metadata/subscribe/{id}",
					TitleField: "streamTitle",
				}},
			},
		},
	}
}

// Load reads path over the defaults. Files ending in .toml are parsed as TOML,
// everything else as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	switch c.Catalog.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("catalog.driver %q must be sqlite or postgres", c.Catalog.Driver))
	}
	if c.Catalog.DSN == "" {
		errs = append(errs, errors.New("catalog.dsn is required"))
	}

	switch c.Audio.Device {
	case "relay", "speaker", "mpd":
	default:
		errs = append(errs, fmt.Errorf("audio.device %q must be relay, speaker or mpd", c.Audio.Device))
	}
	if c.Audio.Volume < 0 || c.Audio.Volume > 1 {
		errs = append(errs, fmt.Errorf("audio.volume %v must be within [0,1]", c.Audio.Volume))
	}
	if c.Audio.Relay.MetaInt <= 0 {
		errs = append(errs, errors.New("audio.relay.metaint must be positive"))
	}
	if c.Audio.Relay.RingBytes <= 0 {
		errs = append(errs, errors.New("audio.relay.ring_bytes must be positive"))
	}

	if c.Metadata.PollMs < 1000 {
		errs = append(errs, fmt.Errorf("metadata.poll_ms %d must be at least 1000", c.Metadata.PollMs))
	}
	if c.Metadata.TimeoutMs <= 0 {
		errs = append(errs, errors.New("metadata.timeout_ms must be positive"))
	}
	if c.Metadata.ProxyURL != "" && !strings.Contains(c.Metadata.ProxyURL, "{stream}") {
		errs = append(errs, errors.New("metadata.proxy_url must contain {stream}"))
	}
	for i, p := range c.Metadata.Push.Providers {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("metadata.push.providers[%d].pattern: %w", i, err))
		} else if re.NumSubexp() < 1 {
			errs = append(errs, fmt.Errorf("metadata.push.providers[%d].pattern needs a capture group", i))
		}
		if !strings.Contains(p.URL, "{id}") {
			errs = append(errs, fmt.Errorf("metadata.push.providers[%d].url must contain {id}", i))
		}
		if p.TitleField == "" {
			errs = append(errs, fmt.Errorf("metadata.push.providers[%d].title_field is required", i))
		}
	}

	seen := make(map[string]struct{}, len(c.Stations))
	for i := range c.Stations {
		st := &c.Stations[i]
		if err := st.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("stations[%d]: %w", i, err))
			continue
		}
		if _, dup := seen[st.ID]; dup {
			errs = append(errs, fmt.Errorf("stations[%d]: duplicate id %q", i, st.ID))
		}
		seen[st.ID] = struct{}{}
	}

	seenSliders := make(map[string]struct{}, len(c.Sliders))
	for i := range c.Sliders {
		sl := &c.Sliders[i]
		if sl.ID == "" {
			errs = append(errs, fmt.Errorf("sliders[%d]: missing id", i))
			continue
		}
		if err := sl.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("sliders[%d]: %w", i, err))
			continue
		}
		if _, dup := seenSliders[sl.ID]; dup {
			errs = append(errs, fmt.Errorf("sliders[%d]: duplicate id %q", i, sl.ID))
		}
		seenSliders[sl.ID] = struct{}{}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
