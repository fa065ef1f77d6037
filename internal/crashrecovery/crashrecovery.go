// Package crashrecovery reacts to a Surface's renderer-gone signal
// (spec.md §4.8): log a crash-recovery as-run entry, reload the failed
// surface to a blank host state, and clear the program output if the
// failure took down the currently on-air surface. A renderer crash on
// PVW only never touches PGM; playout output must not visibly react to
// a failure in preview.
package crashrecovery

import (
	"context"
	"fmt"

	"github.com/veles-productions/playout-core/internal/asrun"
	"github.com/veles-productions/playout-core/internal/engine"
	"github.com/veles-productions/playout-core/internal/logging"
	"github.com/veles-productions/playout-core/internal/model"
)

var log = logging.L("crashrecovery")

// Watcher binds to the Engine's Surface handles and records/reacts to
// their renderer-gone and unresponsive signals.
type Watcher struct {
	eng *engine.Engine
	log *asrun.Log
}

// New creates a Watcher. Call Attach for every physical Surface the
// Engine manages (typically two: the PVW and PGM handles at startup).
func New(eng *engine.Engine, asrunLog *asrun.Log) *Watcher {
	return &Watcher{eng: eng, log: asrunLog}
}

// Attach registers the watcher's handlers on s. Safe to call once per
// physical surface; a surface's identity as "pvw" or "pgm" may change
// across TAKE, but Attach is wired to the handle itself, not the role.
func (w *Watcher) Attach(s model.Surface) {
	s.OnRendererGone(func(reason string) {
		w.handleRendererGone(s, reason)
	})
	s.OnUnresponsive(func() {
		w.handleUnresponsive(s)
	})
}

func (w *Watcher) handleRendererGone(s model.Surface, reason string) {
	ctx := context.Background()
	log.Error("renderer gone", "surface", s.Name(), "reason", reason)

	if err := w.log.Write(model.AsRunEntry{
		Event:   model.AsRunCrashRecovery,
		Details: fmt.Sprintf("%s renderer gone: %s", s.Name(), reason),
	}); err != nil {
		log.Error("failed to write crash-recovery as-run entry", "error", err)
	}

	if err := s.Reload(ctx); err != nil {
		log.Error("surface reload after crash failed", "surface", s.Name(), "error", err)
	}

	if w.eng.CurrentPGM() == s {
		snap := w.eng.Snapshot()
		if snap.State == model.StateOnAir || snap.State == model.StateFrozen {
			if err := w.eng.Clear(ctx); err != nil {
				log.Error("clear after pgm crash failed", "error", err)
			}
			return
		}
	}

	w.eng.EmitSnapshot()
}

func (w *Watcher) handleUnresponsive(s model.Surface) {
	log.Warn("surface unresponsive", "surface", s.Name())
	if err := w.log.Write(model.AsRunEntry{
		Event:   model.AsRunError,
		Details: fmt.Sprintf("%s unresponsive", s.Name()),
	}); err != nil {
		log.Error("failed to write unresponsive as-run entry", "error", err)
	}
}
