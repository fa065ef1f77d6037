// Package capture implements the frame capture pipeline (spec.md §4.2):
// a producer (the surface's paint callback) decoupled from a
// fixed-rate consumer tick, plus a force-invalidate tick and a 1 Hz
// stats tick.
package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/veles-productions/playout-core/internal/logging"
	"github.com/veles-productions/playout-core/internal/model"
)

var log = logging.L("capture")

// Consumer receives the fixed-rate FrameData stream.
type Consumer func(frame model.FrameData)

// StatsConsumer receives the once-per-second CaptureStats report.
type StatsConsumer func(stats model.CaptureStats)

// Capture binds to one model.Surface and decouples its paint events
// from a fixed-rate output clock.
type Capture struct {
	surface   model.Surface
	targetFPS int

	mu        sync.Mutex
	lastFrame []byte // pre-allocated, lazily grown; nil until first paint
	lastSize  model.Size
	frozen    atomic.Bool

	consumer      Consumer
	statsConsumer StatsConsumer

	tickedFrames atomic.Uint64
	dropped      atomic.Uint64
	totalFrames  atomic.Uint64

	stopOutput     chan struct{}
	stopInvalidate chan struct{}
	stopStats      chan struct{}
	wg             sync.WaitGroup
	attached       bool
}

// New creates an un-attached Capture targeting the given output rate.
func New(targetFPS int) *Capture {
	if targetFPS <= 0 {
		targetFPS = 30
	}
	return &Capture{targetFPS: targetFPS}
}

// OnFrame registers the consumer that receives the fixed-rate stream.
func (c *Capture) OnFrame(fn Consumer) { c.mu.Lock(); c.consumer = fn; c.mu.Unlock() }

// OnStats registers the consumer that receives 1 Hz stats reports.
func (c *Capture) OnStats(fn StatsConsumer) { c.mu.Lock(); c.statsConsumer = fn; c.mu.Unlock() }

// Attach begins production: registers the paint callback and starts the
// consumer, force-invalidate, and stats timers. Re-attaching after
// Destroy is permitted; attaching twice without an intervening Destroy
// is a no-op.
func (c *Capture) Attach(s model.Surface) {
	c.mu.Lock()
	if c.attached {
		c.mu.Unlock()
		return
	}
	c.surface = s
	c.attached = true
	c.lastFrame = nil
	c.stopOutput = make(chan struct{})
	c.stopInvalidate = make(chan struct{})
	c.stopStats = make(chan struct{})
	c.mu.Unlock()

	s.OnPaint(c.onPaint)

	period := time.Second / time.Duration(c.targetFPS)
	c.wg.Add(3)
	go c.runTicker(period, c.stopOutput, c.emitTick)
	go c.runTicker(period/2, c.stopInvalidate, c.invalidateTick)
	go c.runTicker(time.Second, c.stopStats, c.statsTick)
}

func (c *Capture) runTicker(period time.Duration, stop chan struct{}, fn func()) {
	defer c.wg.Done()
	if period <= 0 {
		period = time.Millisecond
	}
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			fn()
		case <-stop:
			return
		}
	}
}

// onPaint is the producer: copy the bitmap into the pre-allocated
// buffer and update lastFrame. Never blocks on emission.
func (c *Capture) onPaint(bitmap []byte, size model.Size) {
	if len(bitmap) == 0 {
		c.dropped.Add(1)
		return
	}
	if c.frozen.Load() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cap(c.lastFrame) < len(bitmap) {
		c.lastFrame = make([]byte, len(bitmap))
	} else {
		c.lastFrame = c.lastFrame[:len(bitmap)]
	}
	copy(c.lastFrame, bitmap)
	c.lastSize = size
}

// emitTick is the consumer: reads lastFrame and emits one FrameData.
func (c *Capture) emitTick() {
	c.mu.Lock()
	if c.lastFrame == nil {
		c.mu.Unlock()
		return
	}
	buf := make([]byte, len(c.lastFrame))
	copy(buf, c.lastFrame)
	size := c.lastSize
	consumer := c.consumer
	c.mu.Unlock()

	c.tickedFrames.Add(1)
	c.totalFrames.Add(1)

	if consumer != nil {
		consumer(model.FrameData{Buffer: buf, Width: size.Width, Height: size.Height, Timestamp: time.Now()})
	}
}

func (c *Capture) invalidateTick() {
	c.mu.Lock()
	s := c.surface
	c.mu.Unlock()
	if s != nil {
		s.RequestRepaint()
	}
}

func (c *Capture) statsTick() {
	ticked := c.tickedFrames.Swap(0)
	c.mu.Lock()
	sc := c.statsConsumer
	c.mu.Unlock()
	if sc != nil {
		sc(model.CaptureStats{
			FPS:         float64(ticked),
			Dropped:     c.dropped.Load(),
			TotalFrames: c.totalFrames.Load(),
		})
	}
}

// SetFreeze toggles freeze: while true, onPaint stops updating
// lastFrame, but emitTick keeps emitting the held buffer.
func (c *Capture) SetFreeze(frozen bool) {
	c.frozen.Store(frozen)
	c.mu.Lock()
	s := c.surface
	c.mu.Unlock()
	if s != nil {
		s.SetFreezeOutput(frozen)
	}
}

// Frozen reports the current freeze state.
func (c *Capture) Frozen() bool { return c.frozen.Load() }

// Destroy deregisters the paint callback, cancels all timers, and
// releases the buffer. Re-attach is permitted afterward.
func (c *Capture) Destroy() {
	c.mu.Lock()
	if !c.attached {
		c.mu.Unlock()
		return
	}
	c.attached = false
	s := c.surface
	c.surface = nil
	c.lastFrame = nil
	close(c.stopOutput)
	close(c.stopInvalidate)
	close(c.stopStats)
	c.mu.Unlock()

	if s != nil {
		s.OnPaint(nil)
	}
	c.wg.Wait()
}
