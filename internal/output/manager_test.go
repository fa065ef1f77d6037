package output

import (
	"errors"
	"sync"
	"testing"

	"github.com/veles-productions/playout-core/internal/model"
)

// spyDriver is a model.OutputDriver test double that records every
// frame it receives and can be told to fail PushFrame/PushKeyFrame.
type spyDriver struct {
	mu sync.Mutex

	name       string
	needsKey   bool
	failFrames int // PushFrame returns an error this many times, then succeeds
	pushed     []model.FrameData
	keyPushed  []model.FrameData
	destroyed  bool
}

func (d *spyDriver) Name() string          { return d.name }
func (d *spyDriver) NeedsKeyFrame() bool   { return d.needsKey }
func (d *spyDriver) HasKeyChannel() bool   { return true }
func (d *spyDriver) Destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = true
	return nil
}

func (d *spyDriver) PushFrame(frame model.FrameData) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failFrames > 0 {
		d.failFrames--
		return errors.New("simulated push failure")
	}
	d.pushed = append(d.pushed, frame)
	return nil
}

func (d *spyDriver) PushKeyFrame(frame model.FrameData) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keyPushed = append(d.keyPushed, frame)
	return nil
}

func (d *spyDriver) frameCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pushed)
}

func (d *spyDriver) isDestroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

func solidFrame(w, h int, fill byte) model.FrameData {
	buf := make([]byte, w*h*4)
	for i := range buf {
		buf[i] = fill
	}
	return model.FrameData{Buffer: buf, Width: w, Height: h}
}

func TestSinkRemovedAfterTenConsecutiveFailures(t *testing.T) {
	m := New()
	d := &spyDriver{name: "flaky", failFrames: 1 << 20}
	m.AddSink(d)

	for i := 0; i < maxConsecutiveErrors-1; i++ {
		m.PushFrame(solidFrame(2, 2, 1))
	}
	if names := m.ActiveOutputs(); len(names) != 1 {
		t.Fatalf("sink removed early: active = %v", names)
	}

	m.PushFrame(solidFrame(2, 2, 1))

	if names := m.ActiveOutputs(); len(names) != 0 {
		t.Fatalf("sink not removed after %d consecutive failures: active = %v", maxConsecutiveErrors, names)
	}
	if !d.isDestroyed() {
		t.Error("removed sink was not destroyed")
	}
}

func TestFailureStreakResetsOnSuccess(t *testing.T) {
	m := New()
	d := &spyDriver{name: "intermittent"}
	m.AddSink(d)

	for i := 0; i < maxConsecutiveErrors*3; i++ {
		if i%3 == 0 {
			d.mu.Lock()
			d.failFrames = 1
			d.mu.Unlock()
		}
		m.PushFrame(solidFrame(2, 2, 1))
	}

	if names := m.ActiveOutputs(); len(names) != 1 {
		t.Fatalf("sink removed despite failures never reaching %d in a row: active = %v", maxConsecutiveErrors, names)
	}
}

func TestAlphaKeyExtractionOnlyForSinksThatNeedIt(t *testing.T) {
	m := New()
	keyed := &spyDriver{name: "keyed", needsKey: true}
	plain := &spyDriver{name: "plain", needsKey: false}
	m.AddSink(keyed)
	m.AddSink(plain)

	// B=G=R=0x80, A=0xAA
	frame := model.FrameData{Buffer: []byte{0x80, 0x80, 0x80, 0xAA}, Width: 1, Height: 1}
	m.PushFrame(frame)

	if len(keyed.keyPushed) != 1 {
		t.Fatalf("keyed sink key-frame pushes = %d, want 1", len(keyed.keyPushed))
	}
	key := keyed.keyPushed[0].Buffer
	want := []byte{0xAA, 0xAA, 0xAA, 0xFF}
	for i := range want {
		if key[i] != want[i] {
			t.Fatalf("key buffer = % x, want % x", key, want)
		}
	}

	if len(plain.keyPushed) != 0 {
		t.Errorf("plain sink received a key frame it never asked for")
	}
}

func TestAddSinkReplacesSameName(t *testing.T) {
	m := New()
	first := &spyDriver{name: "dup"}
	second := &spyDriver{name: "dup"}
	m.AddSink(first)
	m.AddSink(second)

	if names := m.ActiveOutputs(); len(names) != 1 {
		t.Fatalf("active outputs after replace = %v, want exactly one \"dup\"", names)
	}
	if !first.isDestroyed() {
		t.Error("replaced sink instance was not destroyed")
	}

	m.PushFrame(solidFrame(1, 1, 5))
	if second.frameCount() != 1 {
		t.Error("new sink instance did not receive the frame")
	}
}

func TestClockModeHoldsFrameInsteadOfPushingImmediately(t *testing.T) {
	m := New()
	d := &spyDriver{name: "held"}
	m.AddSink(d)

	m.StartClock(1000)
	defer m.StopClock()

	m.PushFrame(solidFrame(1, 1, 7))
	if d.frameCount() != 0 {
		t.Fatalf("frame distributed immediately in clock mode: count = %d", d.frameCount())
	}
}
