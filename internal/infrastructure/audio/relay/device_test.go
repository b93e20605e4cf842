// ABOUTME: Tests for the relay audio device
// ABOUTME: Streams finite files and live feeds from httptest servers through the real HTTP source
package relay

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/harper/radiod/internal/domain"
	"github.com/harper/radiod/internal/infrastructure/source"
)

func waitEvent(t *testing.T, d *Device, want domain.DeviceEventType) domain.DeviceEvent {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-d.Events():
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
			return domain.DeviceEvent{}
		}
	}
}

type rangeLog struct {
	mu     sync.Mutex
	ranges []string
}

func (l *rangeLog) add(r string) {
	l.mu.Lock()
	l.ranges = append(l.ranges, r)
	l.mu.Unlock()
}

func (l *rangeLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ranges...)
}

func fileServer(t *testing.T, content []byte, log *rangeLog) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if log != nil {
			log.add(r.Header.Get("Range"))
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		http.ServeContent(w, r, "episode.mp3", time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDevice_FiniteStream(t *testing.T) {
	content := bytes.Repeat([]byte{0xAB}, 32000)
	server := fileServer(t, content, nil)

	d := New(Config{BitrateHintKbps: 128}, source.NewHTTP(source.HTTPConfig{}))
	defer d.Close()

	d.SetSource(server.URL)
	d.Load()
	if err := d.Play(context.Background()); err != nil {
		t.Fatalf("Play: %v", err)
	}

	ev := waitEvent(t, d, domain.EventLoadedMetadata)
	if ev.Source != server.URL {
		t.Errorf("event source %q, want %q", ev.Source, server.URL)
	}
	if got := d.Duration(); got != 2 {
		t.Errorf("expected 2s duration at 128kbps, got %v", got)
	}

	waitEvent(t, d, domain.EventEnded)
	if d.Streaming() {
		t.Error("expected pump to stop at end of file")
	}
	if got := d.CurrentTime(); got != 2 {
		t.Errorf("expected position at end, got %v", got)
	}
}

func TestDevice_PauseResumesWithRange(t *testing.T) {
	var log rangeLog
	content := bytes.Repeat([]byte{0x01}, 1<<20)
	server := fileServer(t, content, &log)

	d := New(Config{BitrateHintKbps: 128, ChunkBytes: 1024}, source.NewHTTP(source.HTTPConfig{}))
	defer d.Close()

	d.SetSource(server.URL)
	if err := d.Play(context.Background()); err != nil {
		t.Fatalf("Play: %v", err)
	}
	d.Pause()
	waitEvent(t, d, domain.EventPause)
	if d.Streaming() {
		t.Fatal("expected pause to stop the pump")
	}

	d.SetCurrentTime(10)
	if got := d.CurrentTime(); got != 10 {
		t.Errorf("expected position 10s, got %v", got)
	}

	if err := d.Play(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	d.Pause()

	if ranges := log.get(); len(ranges) != 2 || ranges[1] != "bytes=160000-" {
		t.Errorf("expected resume at byte 160000, got %v", ranges)
	}
}

func TestDevice_LiveStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Header().Set("icy-name", "Live FM")
		w.Header().Set("icy-br", "64")
		flusher := w.(http.Flusher)
		for {
			if _, err := w.Write([]byte("frame")); err != nil {
				return
			}
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}))
	defer server.Close()

	d := New(Config{}, source.NewHTTP(source.HTTPConfig{}))
	defer d.Close()

	chunks, cancel := d.Subscribe()
	defer cancel()

	d.SetSource(server.URL)
	if err := d.Play(context.Background()); err != nil {
		t.Fatalf("Play: %v", err)
	}

	if !math.IsInf(d.Duration(), 1) {
		t.Errorf("expected unknown duration, got %v", d.Duration())
	}
	if d.Name() != "Live FM" || d.Bitrate() != 64 {
		t.Errorf("unexpected stream info %q %d", d.Name(), d.Bitrate())
	}

	select {
	case chunk := <-chunks:
		if !bytes.Contains(chunk, []byte("frame")) {
			t.Errorf("unexpected chunk %q", chunk)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("listener received no audio")
	}

	d.SetCurrentTime(30)
	if !d.Streaming() {
		t.Error("seeking a live stream must not interrupt it")
	}
}

func TestDevice_PlayErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d := New(Config{}, source.NewHTTP(source.HTTPConfig{}))
	defer d.Close()

	if err := d.Play(context.Background()); err == nil {
		t.Error("expected error without a source")
	}

	d.SetSource(server.URL)
	if err := d.Play(context.Background()); err == nil {
		t.Error("expected error for 503")
	}
}

func TestDevice_ReadTimeout(t *testing.T) {
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
	if err := d.Play(context.Background()); err != nil {
		t.Fatalf("Play: %v", err)
	}

	ev := waitEvent(t, d, domain.EventError)
	if !errors.Is(ev.Err, source.ErrStalled) {
		t.Errorf("expected stalled error, got %v", ev.Err)
	}
}

func TestDevice_SeekRacingClose(t *testing.T) {
	content := bytes.Repeat([]byte{0x02}, 1<<20)
	server := fileServer(t, content, nil)

	for i := 0; i < 20; i++ {
		d := New(Config{BitrateHintKbps: 128, ChunkBytes: 1024}, source.NewHTTP(source.HTTPConfig{}))
		d.SetSource(server.URL)
		if err := d.Play(context.Background()); err != nil {
			t.Fatalf("Play: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			d.SetCurrentTime(5)
		}()
		go func() {
			defer wg.Done()
			d.Close()
		}()
		wg.Wait()

		d.SetCurrentTime(10)
		if d.Streaming() {
			t.Fatal("closed device restarted its stream")
		}
	}
}
