package mix

import (
	"sync"
	"time"

	"github.com/veles-productions/playout-core/internal/capture"
	"github.com/veles-productions/playout-core/internal/logging"
	"github.com/veles-productions/playout-core/internal/model"
	"github.com/veles-productions/playout-core/internal/output"
)

var log = logging.L("mix")

// Orchestrator drives the dual-capture crossfade during a MIX
// transition (spec.md §4.6 orchestration steps). It is created fresh
// for each transition and torn down when the transition ends or is
// cancelled.
type Orchestrator struct {
	manager *output.Manager

	mu        sync.Mutex
	outgoing  []byte
	blend     []byte
	size      model.Size
	start     time.Time
	duration  time.Duration
	incoming  *capture.Capture
	torn      bool
}

// Start begins a MIX: it redirects outgoingCapture's output into a
// private handler that copies each frame into an outgoing buffer, binds
// a second Capture to incomingSurface, and on each incoming frame
// computes f = clamp(elapsed/duration, 0, 1) and pushes the blended
// frame to mgr.
//
// Once Stop returns, the caller must re-bind outgoingCapture's consumer
// back to normal single-capture routing; this package does not restore
// it (the Engine/Capture wiring owns that).
func Start(mgr *output.Manager, outgoingCapture *capture.Capture, incomingSurface model.Surface, targetFPS int, duration time.Duration) *Orchestrator {
	o := &Orchestrator{
		manager:  mgr,
		duration: duration,
		start:    time.Now(),
	}

	outgoingCapture.OnFrame(func(frame model.FrameData) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.torn {
			return
		}
		if cap(o.outgoing) < len(frame.Buffer) {
			o.outgoing = make([]byte, len(frame.Buffer))
		} else {
			o.outgoing = o.outgoing[:len(frame.Buffer)]
		}
		copy(o.outgoing, frame.Buffer)
		o.size = model.Size{Width: frame.Width, Height: frame.Height}
	})

	incoming := capture.New(targetFPS)
	incoming.OnFrame(o.onIncomingFrame)
	incoming.Attach(incomingSurface)

	o.mu.Lock()
	o.incoming = incoming
	o.mu.Unlock()

	return o
}

func (o *Orchestrator) onIncomingFrame(frame model.FrameData) {
	o.mu.Lock()
	if o.torn || o.outgoing == nil || len(o.outgoing) != len(frame.Buffer) {
		o.mu.Unlock()
		return
	}
	if cap(o.blend) < len(frame.Buffer) {
		o.blend = make([]byte, len(frame.Buffer))
	} else {
		o.blend = o.blend[:len(frame.Buffer)]
	}
	elapsed := time.Since(o.start)
	f := Clamp(float64(elapsed) / float64(o.duration))
	outgoing := o.outgoing
	blend := o.blend
	manager := o.manager
	o.mu.Unlock()

	if err := Blend(blend, outgoing, frame.Buffer, f); err != nil {
		log.Warn("blend failed", "error", err)
		return
	}

	manager.PushFrame(model.FrameData{Buffer: blend, Width: frame.Width, Height: frame.Height, Timestamp: frame.Timestamp})
}

// Stop tears down the second Capture and releases the outgoing and
// blend buffers. Safe to call once; a second call is a no-op.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.torn {
		o.mu.Unlock()
		return
	}
	o.torn = true
	incoming := o.incoming
	o.outgoing = nil
	o.blend = nil
	o.mu.Unlock()

	if incoming != nil {
		incoming.Destroy()
	}
}
