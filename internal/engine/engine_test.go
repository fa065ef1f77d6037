package engine

import (
	"context"
	"testing"
	"time"

	"github.com/veles-productions/playout-core/internal/events"
	"github.com/veles-productions/playout-core/internal/model"
	"github.com/veles-productions/playout-core/internal/surface"
)

func newTestEngine() (*Engine, *surface.Synthetic, *surface.Synthetic) {
	bus := events.New(16)
	eng := New(bus)
	pvw := surface.New("a", model.Size{Width: 1920, Height: 1080}, 30)
	pgm := surface.New("b", model.Size{Width: 1920, Height: 1080}, 30)
	eng.AttachSurfaces(pvw, pgm)
	return eng, pvw, pgm
}

func TestLoadTakeRoundTrip(t *testing.T) {
	eng, _, _ := newTestEngine()
	ctx := context.Background()

	if err := eng.Load(ctx, &model.TemplatePayload{HTML: "<div/>"}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap := eng.Snapshot(); snap.State != model.StatePVWLoaded || !snap.PVWReady {
		t.Fatalf("after load: state=%v pvwReady=%v", snap.State, snap.PVWReady)
	}

	if err := eng.Take(ctx); err != nil {
		t.Fatalf("Take: %v", err)
	}
	snap := eng.Snapshot()
	if snap.State != model.StateOnAir {
		t.Fatalf("after take: state = %v, want on-air", snap.State)
	}
	if !snap.PGMReady || snap.PVWReady {
		t.Fatalf("after take: pgmReady=%v pvwReady=%v, want true/false", snap.PGMReady, snap.PVWReady)
	}
	if snap.PGMTemplate == nil || snap.PGMTemplate.HTML != "<div/>" {
		t.Fatalf("pgm template after take = %+v, want the loaded document", snap.PGMTemplate)
	}
}

func TestLoadTakeClearRoundTrip(t *testing.T) {
	eng, _, _ := newTestEngine()
	ctx := context.Background()

	eng.Load(ctx, &model.TemplatePayload{HTML: "<div/>"})
	eng.Take(ctx)

	if err := eng.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	snap := eng.Snapshot()
	if snap.State != model.StateIdle {
		t.Fatalf("after clear: state = %v, want idle", snap.State)
	}
	if snap.PGMReady || snap.PGMTemplate != nil {
		t.Fatalf("after clear: pgmReady=%v pgmTemplate=%+v, want false/nil", snap.PGMReady, snap.PGMTemplate)
	}
}

func TestTakeWithoutPreviewIsRejected(t *testing.T) {
	eng, _, _ := newTestEngine()
	ctx := context.Background()

	before := eng.Snapshot()
	if err := eng.Take(ctx); err != model.ErrNoPreview {
		t.Fatalf("Take with no preview loaded: err = %v, want ErrNoPreview", err)
	}
	after := eng.Snapshot()
	assertSameReadiness(t, before, after)
}

func TestFreezeIsIdempotentOffAir(t *testing.T) {
	eng, _, _ := newTestEngine()

	before := eng.Snapshot()
	eng.Freeze()
	after := eng.Snapshot()
	assertSameReadiness(t, before, after)
}

// assertSameReadiness compares the fields a disallowed transition must
// leave untouched. Snapshot clones templates fresh on every call, so
// comparing the whole struct would spuriously fail on pointer identity.
func assertSameReadiness(t *testing.T, before, after model.EngineSnapshot) {
	t.Helper()
	if after.State != before.State || after.PVWReady != before.PVWReady ||
		after.PGMReady != before.PGMReady || after.Mixing != before.Mixing {
		t.Fatalf("disallowed transition mutated state: before=%+v after=%+v", before, after)
	}
}

func TestFreezeTogglesOnAirAndFrozen(t *testing.T) {
	eng, _, _ := newTestEngine()
	ctx := context.Background()
	eng.Load(ctx, &model.TemplatePayload{HTML: "<div/>"})
	eng.Take(ctx)

	eng.Freeze()
	if snap := eng.Snapshot(); snap.State != model.StateFrozen {
		t.Fatalf("state after first freeze = %v, want frozen", snap.State)
	}
	eng.Freeze()
	if snap := eng.Snapshot(); snap.State != model.StateOnAir {
		t.Fatalf("state after second freeze = %v, want on-air", snap.State)
	}
}

func TestClearCancelsInFlightMix(t *testing.T) {
	ctx := context.Background()
	bus := events.New(8)
	eng2 := New(bus)
	pvw := surface.New("a", model.Size{Width: 100, Height: 100}, 30)
	pgm := surface.New("b", model.Size{Width: 100, Height: 100}, 30)
	eng2.AttachSurfaces(pvw, pgm)
	eng2.Load(ctx, &model.TemplatePayload{HTML: "<div/>"})
	eng2.Take(ctx)
	eng2.Load(ctx, &model.TemplatePayload{HTML: "<span/>"})

	cancelSub := bus.Subscribe(events.KindMixCancel, events.KindTake)

	if err := eng2.TakeMix(ctx, 5*time.Second); err != nil {
		t.Fatalf("TakeMix: %v", err)
	}
	if snap := eng2.Snapshot(); !snap.Mixing {
		t.Fatalf("mixing flag not set after TakeMix")
	}

	if err := eng2.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	var cancels, takes int
	draining := true
	for draining {
		select {
		case ev := <-cancelSub:
			switch ev.Kind {
			case events.KindMixCancel:
				cancels++
			case events.KindTake:
				takes++
			}
		default:
			draining = false
		}
	}
	if cancels != 1 {
		t.Errorf("mixCancel events = %d, want exactly 1", cancels)
	}
	if takes != 0 {
		t.Errorf("take events after a cancelled mix = %d, want 0", takes)
	}
	if snap := eng2.Snapshot(); snap.Mixing {
		t.Errorf("mixing flag still set after clear")
	}
}

func TestPgmChangedPayloadFollowsTake(t *testing.T) {
	eng, pvw, pgm := newTestEngine()
	ctx := context.Background()

	sub := eng.bus.Subscribe(events.KindPgmChanged)
	eng.Load(ctx, &model.TemplatePayload{HTML: "<div/>"})
	if err := eng.Take(ctx); err != nil {
		t.Fatalf("Take: %v", err)
	}

	ev := <-sub
	got, ok := ev.Payload.(model.Surface)
	if !ok {
		t.Fatalf("pgmChanged payload type = %T, want model.Surface", ev.Payload)
	}
	if got != eng.CurrentPGM() {
		t.Fatalf("pgmChanged payload surface does not match CurrentPGM()")
	}
	if got == pgm {
		t.Fatalf("pgmChanged payload points at the old pgm handle")
	}
	if got != pvw {
		t.Fatalf("pgmChanged payload should be the originally-attached pvw handle after the swap")
	}
}
