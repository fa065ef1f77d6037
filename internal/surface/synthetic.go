// Package surface provides the Surface contract's test double: an
// in-memory implementation that satisfies model.Surface without binding
// to any real rendering engine. Production deployments bind to
// internal/surfacehost instead; Synthetic exists so the Engine, Capture,
// and Output Manager can be tested without a renderer (spec.md §4.1
// treats the renderer as an external collaborator).
package surface

import (
	"context"
	"sync"

	"github.com/veles-productions/playout-core/internal/model"
)

// Synthetic is a Surface that paints one solid-color frame each time
// RequestRepaint is called, and records every hook invocation for
// assertions.
type Synthetic struct {
	mu sync.Mutex

	name      string
	size      model.Size
	frameRate int

	document *model.TemplatePayload
	frozen   bool

	onPaint        func(bitmap []byte, size model.Size)
	onRendererGone func(reason string)
	onUnresponsive func()

	hookCalls []HookCall
}

// HookCall records one CallTemplateHook invocation for test assertions.
type HookCall struct {
	Hook HookKind
	Arg  any
}

// HookKind re-exports model.HookKind so callers of this package don't
// need to import internal/model just to name a hook in assertions.
type HookKind = model.HookKind

// New creates a Synthetic surface with the given name and fixed geometry.
func New(name string, size model.Size, frameRate int) *Synthetic {
	return &Synthetic{name: name, size: size, frameRate: frameRate}
}

func (s *Synthetic) Name() string       { return s.name }
func (s *Synthetic) Size() model.Size   { return s.size }
func (s *Synthetic) FrameRate() int     { return s.frameRate }

func (s *Synthetic) LoadDocument(ctx context.Context, payload *model.TemplatePayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.document = payload.Clone()
	return nil
}

func (s *Synthetic) CallTemplateHook(ctx context.Context, hook model.HookKind, arg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hookCalls = append(s.hookCalls, HookCall{Hook: hook, Arg: arg})
	return nil
}

func (s *Synthetic) OnPaint(cb func(bitmap []byte, size model.Size)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPaint = cb
}

func (s *Synthetic) SetFreezeOutput(frozen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = frozen
}

func (s *Synthetic) OnRendererGone(cb func(reason string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRendererGone = cb
}

func (s *Synthetic) OnUnresponsive(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUnresponsive = cb
}

func (s *Synthetic) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.document = nil
	s.frozen = false
	return nil
}

// RequestRepaint synthesizes one paint of a solid fill keyed off the
// document's "h" variable's first byte, so tests can distinguish frames
// without a real renderer. Panics are never raised here: a nil onPaint
// callback (not yet attached by Capture) is simply a no-op.
func (s *Synthetic) RequestRepaint() {
	s.mu.Lock()
	cb := s.onPaint
	size := s.size
	fill := s.fillByte()
	s.mu.Unlock()

	if cb == nil {
		return
	}
	buf := make([]byte, size.Bytes())
	for i := range buf {
		buf[i] = fill
	}
	cb(buf, size)
}

func (s *Synthetic) fillByte() byte {
	if s.document == nil {
		return 0
	}
	if h, ok := s.document.Variables["h"]; ok && len(h) > 0 {
		return h[0]
	}
	return 1
}

// SimulateRendererGone fires the onRendererGone callback for crash
// recovery tests.
func (s *Synthetic) SimulateRendererGone(reason string) {
	s.mu.Lock()
	cb := s.onRendererGone
	s.mu.Unlock()
	if cb != nil {
		cb(reason)
	}
}

// HookCalls returns a snapshot of every hook invocation recorded so far.
func (s *Synthetic) HookCalls() []HookCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HookCall(nil), s.hookCalls...)
}

// Document returns the currently loaded payload, or nil.
func (s *Synthetic) Document() *model.TemplatePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document
}
