// ABOUTME: Tests for MPD status translation and start polling
// ABOUTME: Runs without a daemon by feeding status attributes directly
package mpd

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	m "github.com/fhs/gompd/mpd"

	"github.com/harper/radiod/internal/domain"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name    string
		status  m.Attrs
		finite  bool
		want    domain.DeviceEventType
		wantErr bool
	}{
		{"playing", m.Attrs{"state": "play"}, false, domain.EventPlaying, false},
		{"paused", m.Attrs{"state": "pause", "duration": "120.5"}, true, domain.EventPause, false},
		{"finished file", m.Attrs{"state": "stop"}, true, domain.EventEnded, false},
		{"dropped stream", m.Attrs{"state": "stop"}, false, domain.EventError, true},
		{"daemon error", m.Attrs{"state": "play", "error": "problems opening file"}, false, domain.EventError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := translate(tt.status, tt.finite)
			if got != tt.want {
				t.Errorf("translate = %s, want %s", got, tt.want)
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsLive(t *testing.T) {
	if !isLive(m.Attrs{"state": "play"}) {
		t.Error("a status without duration is live")
	}
	if !isLive(m.Attrs{"duration": "0.000"}) {
		t.Error("zero duration is live")
	}
	if isLive(m.Attrs{"duration": "241.3"}) {
		t.Error("a file with a duration is not live")
	}
	if got := seconds("12.75"); got != 12.75 {
		t.Errorf("seconds = %v", got)
	}
	if got := seconds("bogus"); got != 0 {
		t.Errorf("seconds(bogus) = %v", got)
	}
}

func TestMixerLevel(t *testing.T) {
	if v, ok := mixerLevel(m.Attrs{"volume": "35"}); !ok || v != 0.35 {
		t.Errorf("mixerLevel = %v, %v", v, ok)
	}
	if _, ok := mixerLevel(m.Attrs{"volume": "-1"}); ok {
		t.Error("expected no level without a mixer")
	}
	if _, ok := mixerLevel(m.Attrs{}); ok {
		t.Error("expected no level when absent")
	}
}

// statusSequence returns the given states in order, repeating the last one.
func statusSequence(states ...m.Attrs) func() (m.Attrs, error) {
	var mu sync.Mutex
	i := 0
	return func() (m.Attrs, error) {
		mu.Lock()
		defer mu.Unlock()
		attrs := states[min(i, len(states)-1)]
		i++
		return attrs, nil
	}
}

func TestAwaitStart(t *testing.T) {
	stopped := m.Attrs{"state": "stop"}

	tests := []struct {
		name    string
		status  func() (m.Attrs, error)
		wantErr string
	}{
		{"starts after polling", statusSequence(stopped, stopped, m.Attrs{"state": "play"}), ""},
		{"daemon error", statusSequence(stopped, m.Attrs{"state": "stop", "error": "problems opening file"}), "problems opening file"},
		{"status failure", func() (m.Attrs, error) { return nil, errors.New("connection reset") }, "connection reset"},
		{"never starts", statusSequence(stopped), "did not start"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := awaitStart(context.Background(), tt.status, 400*time.Millisecond)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAwaitStart_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err := awaitStart(ctx, statusSequence(m.Attrs{"state": "stop"}), time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestAwaitStart_ReleasesDeviceLock(t *testing.T) {
	d := &Device{volume: 0.5}
	status := func() (m.Attrs, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		return m.Attrs{"state": "stop"}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- awaitStart(ctx, status, time.Minute) }()

	got := make(chan float64, 1)
	go func() { got <- d.Volume() }()
	select {
	case v := <-got:
		if v != 0.5 {
			t.Errorf("Volume = %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("device lock held while waiting for playback")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
