package model

import "context"

// Surface is the rendering engine's contract (spec.md §4.1, §6.5). The
// Engine holds exactly two instances (PVW, PGM) for its entire lifetime;
// TAKE relabels which handle is PVW vs PGM but never destroys one.
//
// All operations are asynchronous with respect to the calling goroutine:
// they marshal into the rendering context and may not complete
// synchronously. Callers must not assume the document is ready the
// instant these calls return.
type Surface interface {
	// Name identifies the surface for logging. It is fixed when the
	// surface is created and does not follow the PVW/PGM role across
	// swaps.
	Name() string

	// Size reports the fixed resolution this surface was created with.
	Size() Size

	// FrameRate reports the fixed frame rate this surface was created with.
	FrameRate() int

	// LoadDocument replaces the surface's contents with the rendered
	// document derived from payload.
	LoadDocument(ctx context.Context, payload *TemplatePayload) error

	// CallTemplateHook invokes one of the closed set of template-level
	// hooks the loaded document exposes. Hook absence is non-fatal.
	CallTemplateHook(ctx context.Context, hook HookKind, arg any) error

	// OnPaint registers the callback invoked for every rendered frame.
	// Only one callback is active at a time; a later registration
	// replaces an earlier one.
	OnPaint(cb func(bitmap []byte, size Size))

	// SetFreezeOutput is advisory only; actual freeze semantics live in
	// Capture, not the surface.
	SetFreezeOutput(frozen bool)

	// OnRendererGone registers the crash-recovery failure signal.
	OnRendererGone(cb func(reason string))

	// OnUnresponsive registers the hang-detection failure signal.
	OnUnresponsive(cb func())

	// Reload re-initializes the surface to its blank host state.
	Reload(ctx context.Context) error

	// RequestRepaint asks the surface to repaint even if nothing changed
	// (the force-invalidate path Capture drives at 2x frame rate).
	RequestRepaint()
}

// OutputDriver is a named sink that accepts BGRA frames at a declared
// size and frame rate (spec.md §3, §4.4).
type OutputDriver interface {
	// Name identifies the driver in logs and the active-outputs set.
	Name() string

	// NeedsKeyFrame reports whether this driver wants an alpha-key
	// companion frame for the one just pushed. Evaluated per frame.
	NeedsKeyFrame() bool

	// PushFrame delivers one fill (or only) frame. Must not block the
	// caller; hardware-bound drivers surface async errors separately.
	PushFrame(frame FrameData) error

	// PushKeyFrame delivers the alpha-key companion frame. Only called
	// when NeedsKeyFrame() returned true for this frame.
	PushKeyFrame(frame FrameData) error

	// Destroy releases any hardware resources. Called at most once.
	Destroy() error
}

// HasPushKeyFrame is implemented by drivers that support a key channel;
// used by the Output Manager to decide whether NeedsKeyFrame is even
// meaningful (spec.md: "needsKeyFrame may be absent").
type HasPushKeyFrame interface {
	HasKeyChannel() bool
}
