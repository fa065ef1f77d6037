package output

import (
	"testing"
	"time"

	"github.com/veles-productions/playout-core/internal/model"
)

func TestBlackBurstStartIsIdempotent(t *testing.T) {
	bb := NewBlackBurst(model.Size{Width: 2, Height: 2}, 1000)

	var calls int
	frames := make(chan model.FrameData, 8)
	bb.Start(func(f model.FrameData) { frames <- f })
	bb.Start(func(f model.FrameData) { calls++ }) // second Start must be a no-op
	defer bb.Stop()

	select {
	case <-frames:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a black-burst frame")
	}
	if calls != 0 {
		t.Errorf("second Start's callback was invoked %d times, want 0 (no-op)", calls)
	}
	if !bb.Running() {
		t.Error("Running() false while generator active")
	}
}

func TestBlackBurstStopIsIdempotent(t *testing.T) {
	bb := NewBlackBurst(model.Size{Width: 1, Height: 1}, 200)
	bb.Start(func(model.FrameData) {})

	bb.Stop()
	bb.Stop() // must not panic on double-stop

	if bb.Running() {
		t.Error("Running() true after Stop")
	}
}

func TestBlackBurstFrameIsAllZero(t *testing.T) {
	bb := NewBlackBurst(model.Size{Width: 2, Height: 2}, 1000)
	frames := make(chan model.FrameData, 1)
	bb.Start(func(f model.FrameData) { frames <- f })
	defer bb.Stop()

	f := <-frames
	for i, b := range f.Buffer {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0 (black-burst fill)", i, b)
		}
	}
}
