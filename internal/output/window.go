package output

import (
	"fmt"
	"sync"

	"github.com/veles-productions/playout-core/internal/model"
)

// DisplaySurface is the binding a platform windowing layer must supply
// to render a BGRA buffer full-screen on a chosen display (spec.md §1:
// the control window dashboard and the rendering surface binding are
// external collaborators).
type DisplaySurface interface {
	Open(displayIndex int) error
	Present(bgra []byte, size model.Size) error
	Close() error
}

// Window renders fill (and optionally alpha) on-screen, independent of
// the frame-rate-bound capture pipeline (spec.md §4.4). The alpha
// window's presence is what drives NeedsKeyFrame.
type Window struct {
	mu         sync.Mutex
	fill       DisplaySurface
	alpha      DisplaySurface
	alphaOpen  bool
	onError    func(op string, err error)
}

// NewWindow opens a fill window on rgbMonitor (required, -1 disables
// the whole driver — callers should not register it in that case) and
// optionally an alpha window on alphaMonitor (-1 disables only the
// alpha window).
func NewWindow(fill DisplaySurface, alpha DisplaySurface, rgbMonitor, alphaMonitor int, onError func(op string, err error)) (*Window, error) {
	w := &Window{fill: fill, alpha: alpha, onError: onError}

	if err := fill.Open(rgbMonitor); err != nil {
		return nil, fmt.Errorf("output: window fill open: %w", err)
	}

	if alpha != nil && alphaMonitor >= 0 {
		if err := alpha.Open(alphaMonitor); err != nil {
			w.alpha = nil
		} else {
			w.alphaOpen = true
		}
	}
	return w, nil
}

func (w *Window) Name() string { return "window" }

func (w *Window) NeedsKeyFrame() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alphaOpen
}

func (w *Window) HasKeyChannel() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alpha != nil
}

func (w *Window) PushFrame(frame model.FrameData) error {
	err := w.fill.Present(frame.Buffer, model.Size{Width: frame.Width, Height: frame.Height})
	if err != nil && w.onError != nil {
		w.onError("pushFrame", err)
	}
	return err
}

func (w *Window) PushKeyFrame(frame model.FrameData) error {
	w.mu.Lock()
	alpha := w.alpha
	open := w.alphaOpen
	w.mu.Unlock()
	if alpha == nil || !open {
		return nil
	}
	err := alpha.Present(frame.Buffer, model.Size{Width: frame.Width, Height: frame.Height})
	if err != nil && w.onError != nil {
		w.onError("pushKeyFrame", err)
	}
	return err
}

func (w *Window) Destroy() error {
	err := w.fill.Close()
	w.mu.Lock()
	alpha := w.alpha
	w.mu.Unlock()
	if alpha != nil {
		if aerr := alpha.Close(); aerr != nil && err == nil {
			err = aerr
		}
	}
	return err
}
