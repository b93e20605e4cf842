// ABOUTME: Fixed-size byte ring holding the most recent stream audio
// ABOUTME: New listeners start from its contents; overflow evicts the oldest quarter
package ring

import "sync"

type Buffer struct {
	mu    sync.Mutex
	data  []byte
	start int
	size  int
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{data: make([]byte, capacity)}
}

func (b *Buffer) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.data)
	for len(p) > 0 {
		if b.size == capacity {
			b.evict(max(capacity/4, 1))
		}

		n := min(len(p), capacity-b.size)
		tail := (b.start + b.size) % capacity
		first := copy(b.data[tail:min(tail+n, capacity)], p[:n])
		copy(b.data, p[first:n])

		b.size += n
		p = p[n:]
	}
}

func (b *Buffer) evict(n int) {
	n = min(n, b.size)
	b.start = (b.start + n) % len(b.data)
	b.size -= n
}

// Snapshot copies the buffered bytes, oldest first.
func (b *Buffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]byte, b.size)
	first := copy(out, b.data[b.start:min(b.start+b.size, len(b.data))])
	copy(out[first:], b.data)
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Reset drops everything, used when the relay switches source.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.start = 0
	b.size = 0
	b.mu.Unlock()
}
