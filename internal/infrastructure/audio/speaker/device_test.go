// ABOUTME: Tests for the speaker device helpers that do not touch the sound card
// ABOUTME: Covers the volume curve, byte offsets, duration estimates and stalled upstreams
package speaker

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harper/radiod/internal/infrastructure/source"
)

func TestLevelToExponent(t *testing.T) {
	tests := []struct {
		level float64
		want  float64
	}{
		{1, 0},
		{2, 0},
		{0.5, -1},
		{0.25, -2},
		{0, minVolumeDB},
		{-1, minVolumeDB},
		{0.0001, minVolumeDB},
	}
	for _, tt := range tests {
		if got := levelToExponent(tt.level); got != tt.want {
			t.Errorf("levelToExponent(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestBytesToSeconds(t *testing.T) {
	if got := bytesToSeconds(160000, 128); got != 10 {
		t.Errorf("expected 10s, got %v", got)
	}
	if got := bytesToSeconds(1000, 0); got != 0 {
		t.Errorf("expected 0 for unknown bitrate, got %v", got)
	}
}

func TestDevice_OffsetsAndDuration(t *testing.T) {
	d := New(Config{}, nil)

	if !math.IsInf(d.Duration(), 1) {
		t.Errorf("expected live duration before any stream, got %v", d.Duration())
	}
	if got := d.byteOffsetLocked(10); got != 0 {
		t.Errorf("live streams always start at 0, got %d", got)
	}

	d.length = 320000
	if got := d.Duration(); got != 20 {
		t.Errorf("expected 20s, got %v", got)
	}
	if got := d.byteOffsetLocked(10); got != 160000 {
		t.Errorf("expected byte 160000, got %d", got)
	}
	if got := d.byteOffsetLocked(100); got != 320000 {
		t.Errorf("offset must clamp to length, got %d", got)
	}

	d.SetCurrentTime(5)
	if got := d.CurrentTime(); got != 5 {
		t.Errorf("expected stopped position 5s, got %v", got)
	}

	d.SetVolume(0.3)
	if d.Volume() != 0.3 {
		t.Errorf("expected stored volume, got %v", d.Volume())
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-d.Events(); ok {
		t.Error("expected closed event channel")
	}
}

func TestPlay_StalledUpstreamFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	d := New(Config{ReadTimeout: 50 * time.Millisecond}, source.NewHTTP(source.HTTPConfig{}))
	defer d.Close()
	d.SetSource(server.URL)

	done := make(chan error, 1)
	go func() { done <- d.Play(context.Background()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected decode to fail on a stalled stream")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Play blocked on a stalled stream")
	}
}
