// ABOUTME: Domain interfaces for dependency inversion
// ABOUTME: Lets playback and metadata resolution depend on abstractions, not concrete devices or endpoints
package domain

import (
	"context"
	"io"

	"github.com/harper/radiod/internal/domain/station"
)

// StreamSource provides raw audio stream bytes. Offset > 0 requests a byte range.
type StreamSource interface {
	Connect(ctx context.Context, url string, offset int64) (*Stream, error)
}

// Stream is an open upstream audio connection.
type Stream struct {
	Body io.ReadCloser

	// ContentLength is -1 for live streams.
	ContentLength int64
	BitrateKbps   int
	MetaInt       int
	Name          string
}

// Track is the outcome of a single metadata lookup.
type Track struct {
	Title      string
	ArtworkURL string
}

// MetadataProvider fetches current track metadata for a station with a one-shot request.
type MetadataProvider interface {
	Fetch(ctx context.Context, st *station.Station) (Track, error)
}

// PushProvider opens server-push metadata connections for stations it recognizes.
type PushProvider interface {
	// Match returns the stream key used to connect, if the station is served by this provider.
	Match(st *station.Station) (key string, ok bool)
	Connect(ctx context.Context, key string) (PushStream, error)
}

// PushStream delivers pushed track updates until it fails or is closed.
type PushStream interface {
	Next() (Track, error)
	Close() error
}

// DeviceEventType mirrors the media element lifecycle events.
type DeviceEventType int

const (
	EventLoadedMetadata DeviceEventType = iota
	EventTimeUpdate
	EventCanPlay
	EventWaiting
	EventPlaying
	EventPause
	EventEnded
	EventError
)

func (t DeviceEventType) String() string {
	switch t {
	case EventLoadedMetadata:
		return "loadedmetadata"
	case EventTimeUpdate:
		return "timeupdate"
	case EventCanPlay:
		return "canplay"
	case EventWaiting:
		return "waiting"
	case EventPlaying:
		return "playing"
	case EventPause:
		return "pause"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// DeviceEvent is emitted by an AudioDevice. Source is the URL the event belongs to.
type DeviceEvent struct {
	Type   DeviceEventType
	Source string
	Err    error
}

// AudioDevice is the single audio output of a session.
type AudioDevice interface {
	SetSource(url string)
	Load()
	// Play blocks until playback has started or failed.
	Play(ctx context.Context) error
	Pause()
	CurrentTime() float64
	SetCurrentTime(sec float64)
	Volume() float64
	SetVolume(v float64)
	// Duration returns +Inf while unknown or for live streams.
	Duration() float64
	Events() <-chan DeviceEvent
	Close() error
}

// Catalog is the station store consumed by the player.
type Catalog interface {
	List(ctx context.Context) ([]station.Station, error)
	Get(ctx context.Context, id string) (*station.Station, error)
	Subscribe(ctx context.Context) <-chan []station.Station
}
