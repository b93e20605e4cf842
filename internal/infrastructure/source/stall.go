// ABOUTME: Read watchdog for stream bodies that stop delivering bytes
// ABOUTME: Closes the body when no read completes within the timeout so blocked readers return
package source

import (
	"errors"
	"io"
	"sync/atomic"
	"time"
)

var ErrStalled = errors.New("stream stalled")

type stallGuard struct {
	body    io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	stalled atomic.Bool
}

// GuardStalls wraps body so that a read blocked for longer than timeout
// fails with ErrStalled. A zero timeout returns body unchanged.
func GuardStalls(body io.ReadCloser, timeout time.Duration) io.ReadCloser {
	if timeout <= 0 {
		return body
	}
	g := &stallGuard{body: body, timeout: timeout}
	g.timer = time.AfterFunc(timeout, func() {
		g.stalled.Store(true)
		body.Close()
	})
	return g
}

func (g *stallGuard) Read(p []byte) (int, error) {
	n, err := g.body.Read(p)
	if g.stalled.Load() {
		return n, ErrStalled
	}
	g.timer.Reset(g.timeout)
	return n, err
}

func (g *stallGuard) Close() error {
	g.timer.Stop()
	return g.body.Close()
}
