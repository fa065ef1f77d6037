// Package output implements the Output Manager (spec.md §4.3): it holds
// a named set of OutputDrivers, computes the alpha-key companion frame
// only when a sink requests it, distributes each frame to every sink
// with per-sink error isolation, and supports a frame-hold clock mode
// for genlocked sinks.
package output

import (
	"sync"
	"time"

	"github.com/veles-productions/playout-core/internal/logging"
	"github.com/veles-productions/playout-core/internal/model"
)

var log = logging.L("output")

// maxConsecutiveErrors is the failure threshold at which a sink is
// queued for removal (spec.md §4.3 step 3, §4.9).
const maxConsecutiveErrors = 10

// sinkState tracks one driver's consecutive-error count.
type sinkState struct {
	driver model.OutputDriver
	errs   int
}

// Manager is the named set of active output sinks.
type Manager struct {
	mu    sync.Mutex
	sinks []*sinkState

	keyBuf []byte

	// Clock (frame-hold) mode.
	clockRunning bool
	clockStop    chan struct{}
	held         *model.FrameData
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{}
}

// AddSink registers a driver. A driver already registered under the
// same name is replaced (its old instance is destroyed).
func (m *Manager) AddSink(d model.OutputDriver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.sinks {
		if s.driver.Name() == d.Name() {
			s.driver.Destroy()
			m.sinks[i] = &sinkState{driver: d}
			return
		}
	}
	m.sinks = append(m.sinks, &sinkState{driver: d})
}

// RemoveSink destroys and unregisters the named driver, if present.
func (m *Manager) RemoveSink(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.sinks {
		if s.driver.Name() == name {
			s.driver.Destroy()
			m.sinks = append(m.sinks[:i], m.sinks[i+1:]...)
			return
		}
	}
}

// ActiveOutputs returns the names of all currently registered sinks.
func (m *Manager) ActiveOutputs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.sinks))
	for i, s := range m.sinks {
		names[i] = s.driver.Name()
	}
	return names
}

// PushFrame distributes one frame per the algorithm in spec.md §4.3. In
// clock mode it copies into the held buffer instead of distributing
// immediately.
func (m *Manager) PushFrame(frame model.FrameData) {
	m.mu.Lock()
	if m.clockRunning {
		held := model.FrameData{
			Buffer:    append([]byte(nil), frame.Buffer...),
			Width:     frame.Width,
			Height:    frame.Height,
			Timestamp: frame.Timestamp,
		}
		m.held = &held
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.distribute(frame)
}

// distribute runs the alpha-key + per-sink fan-out algorithm.
func (m *Manager) distribute(frame model.FrameData) {
	m.mu.Lock()
	needsKey := false
	for _, s := range m.sinks {
		if hasKeyChannel(s.driver) && s.driver.NeedsKeyFrame() {
			needsKey = true
			break
		}
	}

	var keyFrame model.FrameData
	if needsKey {
		size := frame.Width * frame.Height * 4
		if cap(m.keyBuf) < size {
			m.keyBuf = make([]byte, size)
		} else {
			m.keyBuf = m.keyBuf[:size]
		}
		extractAlphaAsLuma(frame.Buffer, m.keyBuf)
		keyFrame = model.FrameData{Buffer: m.keyBuf, Width: frame.Width, Height: frame.Height, Timestamp: frame.Timestamp}
	}

	sinks := append([]*sinkState(nil), m.sinks...)
	m.mu.Unlock()

	var toRemove []string
	for _, s := range sinks {
		if err := s.driver.PushFrame(frame); err != nil {
			if removeSink(s, err, "pushFrame") {
				toRemove = append(toRemove, s.driver.Name())
				continue
			}
		} else {
			s.errs = 0
		}

		if needsKey && hasKeyChannel(s.driver) && s.driver.NeedsKeyFrame() {
			if err := s.driver.PushKeyFrame(keyFrame); err != nil {
				if removeSink(s, err, "pushKeyFrame") {
					toRemove = append(toRemove, s.driver.Name())
				}
			} else {
				s.errs = 0
			}
		}
	}

	if len(toRemove) > 0 {
		m.mu.Lock()
		for _, name := range toRemove {
			for i, s := range m.sinks {
				if s.driver.Name() == name {
					s.driver.Destroy()
					m.sinks = append(m.sinks[:i], m.sinks[i+1:]...)
					break
				}
			}
		}
		m.mu.Unlock()
	}
}

// removeSink logs the first 3 occurrences of an error and reports
// whether the sink has now crossed the removal threshold.
func removeSink(s *sinkState, err error, op string) bool {
	s.errs++
	if s.errs <= 3 {
		log.Error("sink error", "sink", s.driver.Name(), "op", op, "error", err, "count", s.errs)
	}
	return s.errs >= maxConsecutiveErrors
}

func hasKeyChannel(d model.OutputDriver) bool {
	if hk, ok := d.(model.HasPushKeyFrame); ok {
		return hk.HasKeyChannel()
	}
	return true
}

// extractAlphaAsLuma writes (alpha, alpha, alpha, 255) per pixel.
func extractAlphaAsLuma(src, dst []byte) {
	n := len(src) / 4
	for k := 0; k < n; k++ {
		a := src[4*k+3]
		dst[4*k+0] = a
		dst[4*k+1] = a
		dst[4*k+2] = a
		dst[4*k+3] = 255
	}
}

// StartClock switches to buffered (frame-hold) mode at fps.
func (m *Manager) StartClock(fps int) {
	m.mu.Lock()
	if m.clockRunning {
		m.mu.Unlock()
		return
	}
	m.clockRunning = true
	m.clockStop = make(chan struct{})
	stop := m.clockStop
	m.mu.Unlock()

	if fps <= 0 {
		fps = 30
	}
	go func() {
		t := time.NewTicker(time.Second / time.Duration(fps))
		defer t.Stop()
		for {
			select {
			case <-t.C:
				m.mu.Lock()
				held := m.held
				m.mu.Unlock()
				if held != nil {
					m.distribute(*held)
				}
			case <-stop:
				return
			}
		}
	}()
}

// StopClock reverts to immediate distribution and clears the held buffer.
func (m *Manager) StopClock() {
	m.mu.Lock()
	if !m.clockRunning {
		m.mu.Unlock()
		return
	}
	m.clockRunning = false
	close(m.clockStop)
	m.held = nil
	m.mu.Unlock()
}
