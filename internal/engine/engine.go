// Package engine implements the playout state machine (spec.md §4.5):
// PVW/PGM lifecycle, TAKE, MIX, CLEAR, FREEZE. The Engine owns the two
// Surface handles for its entire lifetime; TAKE relabels which handle
// is PVW vs PGM but never destroys one (the "window-swap" design note,
// spec.md §4.5, §9).
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/veles-productions/playout-core/internal/events"
	"github.com/veles-productions/playout-core/internal/logging"
	"github.com/veles-productions/playout-core/internal/model"
)

var log = logging.L("engine")

// Engine is the single logical owner of PVW/PGM state (spec.md §5: all
// mutation happens under one mutex, matching the spec's single-writer
// concurrency model even though this implementation uses real
// goroutines rather than a literal single-threaded loop).
type Engine struct {
	mu sync.Mutex

	bus *events.Bus

	pvw, pgm                 model.Surface
	pvwTemplate, pgmTemplate *model.TemplatePayload
	pvwReady, pgmReady       bool
	state                    model.EngineState
	mixing                   bool

	mixTimer    *time.Timer
	mixGen      uint64 // invalidates a pending mix timer fired after a newer op started
}

// New creates an idle Engine wired to bus for lifecycle event emission.
func New(bus *events.Bus) *Engine {
	return &Engine{bus: bus, state: model.StateIdle}
}

// AttachSurfaces binds the two Surface handles the Engine will manage
// for its entire lifetime. Must be called once before any other
// operation; calling it again replaces the bindings. Crash recovery
// reloads the existing Surface instance and does not call it.
func (e *Engine) AttachSurfaces(pvw, pgm model.Surface) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pvw = pvw
	e.pgm = pgm
}

// Snapshot returns an atomically-produced, immutable view of engine
// state (spec.md §3).
func (e *Engine) Snapshot() model.EngineSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() model.EngineSnapshot {
	return model.EngineSnapshot{
		State:       e.state,
		PVWTemplate: e.pvwTemplate.Clone(),
		PGMTemplate: e.pgmTemplate.Clone(),
		PVWReady:    e.pvwReady,
		PGMReady:    e.pgmReady,
		Mixing:      e.mixing,
	}
}

func (e *Engine) emitState() {
	e.bus.Publish(events.Event{Kind: events.KindState, Payload: e.snapshotLocked()})
}

// Load writes payload into PVW (spec.md §4.5 `load`). Permitted in any
// state; transitions idle -> pvw-loaded, otherwise state is unchanged.
func (e *Engine) Load(ctx context.Context, payload *model.TemplatePayload) error {
	e.mu.Lock()
	if e.pvw == nil {
		e.mu.Unlock()
		return model.ErrNotAttached
	}
	pvw := e.pvw
	e.mu.Unlock()

	if err := pvw.LoadDocument(ctx, payload); err != nil {
		return err
	}
	if err := pvw.CallTemplateHook(ctx, model.HookPlay, nil); err != nil {
		log.Warn("autoplay hook failed", "error", err)
	}

	e.mu.Lock()
	e.pvwTemplate = payload.Clone()
	e.pvwReady = true
	if e.state == model.StateIdle {
		e.state = model.StatePVWLoaded
	}
	e.emitState()
	e.bus.Publish(events.Event{Kind: events.KindLoad, Payload: e.pvwTemplate.Clone()})
	e.mu.Unlock()
	return nil
}

// Update replaces PVW payload variables once pvwReady (spec.md §4.5
// `update`). Non-fatal if no surface.
func (e *Engine) Update(ctx context.Context, vars map[string]string) error {
	e.mu.Lock()
	if !e.pvwReady || e.pvw == nil {
		e.mu.Unlock()
		return nil
	}
	pvw := e.pvw
	if e.pvwTemplate != nil {
		if e.pvwTemplate.Variables == nil {
			e.pvwTemplate.Variables = map[string]string{}
		}
		for k, v := range vars {
			e.pvwTemplate.Variables[k] = v
		}
	}
	e.emitState()
	e.mu.Unlock()

	if err := pvw.CallTemplateHook(ctx, model.HookUpdate, vars); err != nil {
		log.Warn("update hook failed", "error", err)
	}
	return nil
}

// UpdatePgm replaces PGM payload variables; no-op unless on-air or
// frozen (spec.md §4.5 `updatePgm`).
func (e *Engine) UpdatePgm(ctx context.Context, vars map[string]string) error {
	e.mu.Lock()
	if e.state != model.StateOnAir && e.state != model.StateFrozen {
		e.mu.Unlock()
		return nil
	}
	pgm := e.pgm
	if e.pgmTemplate != nil {
		if e.pgmTemplate.Variables == nil {
			e.pgmTemplate.Variables = map[string]string{}
		}
		for k, v := range vars {
			e.pgmTemplate.Variables[k] = v
		}
	}
	e.emitState()
	e.bus.Publish(events.Event{Kind: events.KindUpdatePgm, Payload: vars})
	e.mu.Unlock()

	if pgm != nil {
		if err := pgm.CallTemplateHook(ctx, model.HookUpdate, vars); err != nil {
			log.Warn("updatePgm hook failed", "error", err)
		}
	}
	return nil
}

// Play forwards to the PVW surface's play hook. No state change.
func (e *Engine) Play(ctx context.Context) error {
	e.mu.Lock()
	pvw := e.pvw
	e.mu.Unlock()
	if pvw == nil {
		return model.ErrNotAttached
	}
	return pvw.CallTemplateHook(ctx, model.HookPlay, nil)
}

// Stop forwards to the PVW surface's stop hook. No state change.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	pvw := e.pvw
	e.mu.Unlock()
	if pvw == nil {
		return model.ErrNotAttached
	}
	if err := pvw.CallTemplateHook(ctx, model.HookStop, nil); err != nil {
		log.Warn("stop hook failed", "error", err)
	}
	return nil
}

// Take requires pvwReady and both surfaces attached; cancels any
// in-progress MIX, swaps PVW/PGM, and transitions to on-air (spec.md
// §4.5 `take`).
func (e *Engine) Take(ctx context.Context) error {
	e.mu.Lock()
	if !e.pvwReady || e.pvw == nil || e.pgm == nil {
		e.mu.Unlock()
		return model.ErrNoPreview
	}
	e.cancelMixLocked(false)

	oldPVW, oldPGM := e.pvw, e.pgm
	e.pvw, e.pgm = oldPGM, oldPVW
	e.pvwTemplate, e.pgmTemplate = e.pgmTemplate, e.pvwTemplate
	e.pgmReady, e.pvwReady = true, false
	e.state = model.StateOnAir

	newPGM, newPVW := e.pgm, e.pvw
	e.emitState()
	e.bus.Publish(events.Event{Kind: events.KindTake})
	e.bus.Publish(events.Event{Kind: events.KindPgmChanged, Payload: newPGM})
	e.mu.Unlock()

	if err := newPGM.CallTemplateHook(ctx, model.HookPlay, nil); err != nil {
		return err
	}
	if err := newPVW.CallTemplateHook(ctx, model.HookStop, nil); err != nil {
		log.Warn("stop hook on outgoing surface failed", "error", err)
	}
	return nil
}

// TakeMix starts a timed crossfade (spec.md §4.5 `takeMix`). Same
// preconditions as Take. The caller (outer wiring, via internal/mix)
// observes KindMixStart and drives the actual dual-capture blend; this
// method only owns the state machine and the single-shot timer that
// completes the swap.
func (e *Engine) TakeMix(ctx context.Context, duration time.Duration) error {
	e.mu.Lock()
	if !e.pvwReady || e.pvw == nil || e.pgm == nil {
		e.mu.Unlock()
		return model.ErrNoPreview
	}
	e.cancelMixLocked(false)

	e.mixing = true
	e.mixGen++
	gen := e.mixGen
	outgoing, incoming := e.pgm, e.pvw

	e.emitState()
	e.bus.Publish(events.Event{Kind: events.KindMixStart, Payload: model.MixStartPayload{
		DurationMs: duration.Milliseconds(),
		Outgoing:   outgoing.Name(),
		Incoming:   incoming.Name(),
	}})
	e.mu.Unlock()

	if err := incoming.CallTemplateHook(ctx, model.HookPlay, nil); err != nil {
		return err
	}

	e.mu.Lock()
	if e.mixGen == gen {
		e.mixTimer = time.AfterFunc(duration, func() {
			e.completeMix(gen)
		})
	}
	e.mu.Unlock()
	return nil
}

// completeMix runs the timer-fired swap, identical to Take's swap
// logic, guarded by generation so a stale timer from a cancelled mix
// never fires.
func (e *Engine) completeMix(gen uint64) {
	e.mu.Lock()
	if e.mixGen != gen || !e.mixing {
		e.mu.Unlock()
		return
	}
	e.mixing = false
	e.mixTimer = nil

	oldPVW, oldPGM := e.pvw, e.pgm
	e.pvw, e.pgm = oldPGM, oldPVW
	e.pvwTemplate, e.pgmTemplate = e.pgmTemplate, e.pvwTemplate
	e.pgmReady, e.pvwReady = true, false
	e.state = model.StateOnAir

	oldPVWHandle := e.pvw // new PVW is old PGM, needs stop
	e.emitState()
	e.bus.Publish(events.Event{Kind: events.KindTake})
	e.bus.Publish(events.Event{Kind: events.KindPgmChanged, Payload: e.pgm})
	e.mu.Unlock()

	if err := oldPVWHandle.CallTemplateHook(context.Background(), model.HookStop, nil); err != nil {
		log.Warn("stop hook on outgoing surface failed", "error", err)
	}
}

// cancelMixLocked stops a pending mix timer and clears mixing. Caller
// must hold e.mu. If emitCancel is true and a mix was in progress, a
// mixCancel event is published.
func (e *Engine) cancelMixLocked(emitCancel bool) {
	if !e.mixing {
		return
	}
	if e.mixTimer != nil {
		e.mixTimer.Stop()
		e.mixTimer = nil
	}
	e.mixing = false
	e.mixGen++
	if emitCancel {
		e.bus.Publish(events.Event{Kind: events.KindMixCancel})
	}
}

// Clear cancels any MIX, clears PGM, and transitions to idle (spec.md
// §4.5 `clear`).
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	e.cancelMixLocked(true)

	pgm := e.pgm
	e.pgmTemplate = nil
	e.pgmReady = false
	e.state = model.StateIdle
	e.emitState()
	e.bus.Publish(events.Event{Kind: events.KindClear})
	e.mu.Unlock()

	if pgm != nil {
		if err := pgm.CallTemplateHook(ctx, model.HookClear, nil); err != nil {
			log.Warn("clear hook failed", "error", err)
		}
	}
	return nil
}

// Next forwards to the PGM template hook `next` if on-air or frozen
// (spec.md §4.5 `next`). No state change.
func (e *Engine) Next(ctx context.Context) error {
	e.mu.Lock()
	if e.state != model.StateOnAir && e.state != model.StateFrozen {
		e.mu.Unlock()
		return nil
	}
	pgm := e.pgm
	e.mu.Unlock()

	if pgm == nil {
		return model.ErrNotAttached
	}
	if err := pgm.CallTemplateHook(ctx, model.HookNext, nil); err != nil {
		log.Warn("next hook failed", "error", err)
		return err
	}
	e.bus.Publish(events.Event{Kind: events.KindNext})
	return nil
}

// Freeze toggles on-air <-> frozen; no-op in other states (spec.md
// §4.5 `freeze`).
func (e *Engine) Freeze() {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case model.StateOnAir:
		e.state = model.StateFrozen
	case model.StateFrozen:
		e.state = model.StateOnAir
	default:
		return
	}
	e.emitState()
	e.bus.Publish(events.Event{Kind: events.KindFreeze, Payload: e.state == model.StateFrozen})
}

// EmitSnapshot re-publishes the current snapshot without mutating any
// state. Used by crash-recovery after a reload that doesn't itself
// change PVW/PGM readiness, so control clients still see a fresh
// snapshot reflecting the surface's reset document.
func (e *Engine) EmitSnapshot() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emitState()
}

// CurrentPGM returns whichever Surface is currently labeled PGM. Needed
// by consumers (Capture, crash-recovery) per the "dynamic current PGM
// pointer" design note (spec.md §9): callers must re-fetch this after
// every take/takeMix rather than caching the handle.
func (e *Engine) CurrentPGM() model.Surface {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pgm
}

// CurrentPVW returns whichever Surface is currently labeled PVW.
func (e *Engine) CurrentPVW() model.Surface {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pvw
}
