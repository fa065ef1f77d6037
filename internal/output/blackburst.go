package output

import (
	"sync"
	"time"

	"github.com/veles-productions/playout-core/internal/model"
)

// BlackBurst is not an OutputDriver; it is a frame source that drives
// the Manager when the engine is idle (spec.md §4.4). It owns a single
// pre-allocated all-zero BGRA buffer and invokes a callback at the
// target frame rate with that buffer.
type BlackBurst struct {
	size model.Size
	fps  int
	buf  []byte

	mu      sync.Mutex
	running bool
	stop    chan struct{}
}

// NewBlackBurst creates a generator for the given resolution and rate.
func NewBlackBurst(size model.Size, fps int) *BlackBurst {
	return &BlackBurst{size: size, fps: fps, buf: make([]byte, size.Bytes())}
}

// Start begins invoking cb at the target frame rate. Idempotent: a
// second Start while already running is a no-op.
func (b *BlackBurst) Start(cb func(frame model.FrameData)) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.stop = make(chan struct{})
	stop := b.stop
	b.mu.Unlock()

	fps := b.fps
	if fps <= 0 {
		fps = 30
	}

	go func() {
		t := time.NewTicker(time.Second / time.Duration(fps))
		defer t.Stop()
		for {
			select {
			case <-t.C:
				cb(model.FrameData{Buffer: b.buf, Width: b.size.Width, Height: b.size.Height, Timestamp: time.Now()})
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts the generator. Idempotent.
func (b *BlackBurst) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	b.running = false
	close(b.stop)
}

// Running reports whether the generator is currently active.
func (b *BlackBurst) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}
