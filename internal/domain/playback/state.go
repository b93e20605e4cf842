// ABOUTME: Playback state machine states, snapshots and failure type
// ABOUTME: Defines the live-stream sentinel and the hooks fired on transitions
package playback

import (
	"errors"
	"fmt"
	"math"

	"github.com/harper/radiod/internal/domain/station"
)

type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StatePaused
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DurationUnknown marks a stream whose length is unknown or unbounded.
var DurationUnknown = math.Inf(1)

// IsLive reports whether a reported duration describes a live stream.
func IsLive(d float64) bool {
	return math.IsInf(d, 0) || math.IsNaN(d) || d == 0
}

// Snapshot is an immutable copy of the playback state.
type Snapshot struct {
	Station  *station.Station
	State    State
	Playing  bool
	Loading  bool
	Volume   float64
	Elapsed  float64
	Duration float64
}

func (s Snapshot) Live() bool {
	return IsLive(s.Duration)
}

var ErrNoStation = errors.New("no station loaded")

// FailedError reports a playback attempt the device rejected. It is never retried.
type FailedError struct {
	Station *station.Station
	Reason  error
}

func (e *FailedError) Error() string {
	name := "<none>"
	if e.Station != nil {
		name = e.Station.Name
	}
	return fmt.Sprintf("playback failed for %s: %v", name, e.Reason)
}

func (e *FailedError) Unwrap() error {
	return e.Reason
}

// Hooks receives transition notifications. Calls are serialized by the controller.
type Hooks interface {
	// StationLoaded is called before a new source is assigned. nil clears the station.
	StationLoaded(st *station.Station)
	PlaybackStarted(st *station.Station)
	PlaybackStopped()
	PlaybackFailed(err *FailedError)
}

type nopHooks struct{}

func (nopHooks) StationLoaded(*station.Station)   {}
func (nopHooks) PlaybackStarted(*station.Station) {}
func (nopHooks) PlaybackStopped()                 {}
func (nopHooks) PlaybackFailed(*FailedError)      {}
