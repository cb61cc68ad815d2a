package proc

import "sync"

// DefaultTailSize is how much trailing output is kept per process.
const DefaultTailSize = 8 * 1024

// Tail is an io.Writer that keeps only the last max bytes written to it.
type Tail struct {
	mu  sync.Mutex
	buf []byte
	max int
}

// NewTail creates a Tail holding at most max bytes.
func NewTail(max int) *Tail {
	if max <= 0 {
		max = DefaultTailSize
	}
	return &Tail{max: max}
}

func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(p) >= t.max {
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		return len(p), nil
	}

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *Tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
