package capture

import (
	"context"
	"testing"
	"time"

	"github.com/veles-productions/playout-core/internal/model"
	"github.com/veles-productions/playout-core/internal/surface"
)

func TestAttachEmitsPaintedFrame(t *testing.T) {
	s := surface.New("a", model.Size{Width: 4, Height: 4}, 30)
	c := New(1000)

	frames := make(chan model.FrameData, 4)
	c.OnFrame(func(f model.FrameData) { frames <- f })
	c.Attach(s)
	defer c.Destroy()

	s.RequestRepaint()

	select {
	case f := <-frames:
		if f.Width != 4 || f.Height != 4 {
			t.Fatalf("frame size = %dx%d, want 4x4", f.Width, f.Height)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a ticked frame after repaint")
	}
}

func TestFreezeStopsPaintUpdatesButKeepsEmitting(t *testing.T) {
	s := surface.New("a", model.Size{Width: 2, Height: 2}, 30)
	c := New(1000)

	frames := make(chan model.FrameData, 8)
	c.OnFrame(func(f model.FrameData) { frames <- f })
	c.Attach(s)
	defer c.Destroy()

	s.LoadDocument(context.Background(), &model.TemplatePayload{Variables: map[string]string{"h": string([]byte{9})}})
	s.RequestRepaint()
	first := waitForFrame(t, frames)

	c.SetFreeze(true)
	if !c.Frozen() {
		t.Fatal("Frozen() false after SetFreeze(true)")
	}

	s.LoadDocument(context.Background(), &model.TemplatePayload{Variables: map[string]string{"h": string([]byte{200})}})
	s.RequestRepaint()
	second := waitForFrame(t, frames)

	if second.Buffer[0] != first.Buffer[0] {
		t.Fatalf("frozen capture updated its held frame: %v -> %v", first.Buffer[0], second.Buffer[0])
	}
}

func TestDestroyAllowsReattach(t *testing.T) {
	s := surface.New("a", model.Size{Width: 1, Height: 1}, 30)
	c := New(200)
	c.Attach(s)
	c.Destroy()

	// Attach after Destroy must not be a no-op.
	frames := make(chan model.FrameData, 1)
	c.OnFrame(func(f model.FrameData) { frames <- f })
	c.Attach(s)
	defer c.Destroy()

	s.RequestRepaint()
	waitForFrame(t, frames)
}

func waitForFrame(t *testing.T, ch chan model.FrameData) model.FrameData {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return model.FrameData{}
	}
}
