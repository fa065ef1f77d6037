package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/veles-productions/playout-core/internal/asrun"
	"github.com/veles-productions/playout-core/internal/capture"
	"github.com/veles-productions/playout-core/internal/config"
	"github.com/veles-productions/playout-core/internal/control"
	"github.com/veles-productions/playout-core/internal/crashrecovery"
	"github.com/veles-productions/playout-core/internal/engine"
	"github.com/veles-productions/playout-core/internal/events"
	"github.com/veles-productions/playout-core/internal/health"
	"github.com/veles-productions/playout-core/internal/logging"
	"github.com/veles-productions/playout-core/internal/mix"
	"github.com/veles-productions/playout-core/internal/model"
	"github.com/veles-productions/playout-core/internal/output"
	"github.com/veles-productions/playout-core/internal/surfacehost"
)

// initLogging sets up structured logging from config. Call after config.Load().
func initLogging(cfg *config.Config) {
	var w io.Writer = os.Stdout
	fallback := false

	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
			fallback = true
		} else {
			w = logging.TeeWriter(os.Stdout, rw)
		}
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, w)
	log = logging.L("main")

	if fallback {
		log.Warn("log file fallback active, logging to stdout only", "requestedFile", cfg.LogFile)
	}
}

// components holds everything runEngine starts, so shutdown can tear it
// all down in reverse order.
type components struct {
	pvwHost, pgmHost *surfacehost.Host
	pgmCapture       *capture.Capture
	manager          *output.Manager
	blackBurst       *output.BlackBurst
	asrunLog         *asrun.Log
	controlSrv       *control.Server
	healthSrv        *health.Server
}

// statsTracker remembers the last reported capture stats for the health
// snapshot source (spec.md §4.8).
type statsTracker struct {
	fps         float64
	dropped     uint64
	totalFrames uint64
}

func runEngine() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	initLogging(cfg)
	log.Info("starting playout engine", "version", version)

	bus := events.New(64)
	eng := engine.New(bus)

	size := model.Size{Width: cfg.ResolutionWidth, Height: cfg.ResolutionHeight}

	pvwHost, err := surfacehost.New(surfacehost.Config{
		Name: "pvw", Size: size, FrameRate: cfg.FrameRate,
		SocketPath: socketPathFor(cfg.IPCSocketPath, "pvw"),
	})
	if err != nil {
		log.Error("failed to start pvw surface host", "error", err)
		os.Exit(1)
	}
	pgmHost, err := surfacehost.New(surfacehost.Config{
		Name: "pgm", Size: size, FrameRate: cfg.FrameRate,
		SocketPath: socketPathFor(cfg.IPCSocketPath, "pgm"),
	})
	if err != nil {
		log.Error("failed to start pgm surface host", "error", err)
		os.Exit(1)
	}
	eng.AttachSurfaces(pvwHost, pgmHost)

	asrunLog, err := asrun.New(filepath.Join(config.DataDir(), "as-run"))
	if err != nil {
		log.Error("failed to open as-run log", "error", err)
		os.Exit(1)
	}

	watcher := crashrecovery.New(eng, asrunLog)
	watcher.Attach(pvwHost)
	watcher.Attach(pgmHost)

	mgr := output.New()
	wireOutputs(cfg, mgr)

	blackBurst := output.NewBlackBurst(size, cfg.FrameRate)
	blackBurst.Start(mgr.PushFrame)

	// pgmCapture always tracks whichever physical surface is currently
	// labeled PGM (spec.md §9 "dynamic current PGM pointer" design note).
	// Its consumer pushes straight to the Output Manager except while a
	// MIX is in flight, when the mix orchestrator takes over as the
	// consumer and feeds blended frames to mgr itself.
	stats := &statsTracker{}
	pgmCapture := capture.New(cfg.FrameRate)
	pgmCapture.OnStats(func(s model.CaptureStats) {
		stats.fps, stats.dropped, stats.totalFrames = s.FPS, s.Dropped, s.TotalFrames
	})
	resetPgmConsumer := func() { pgmCapture.OnFrame(func(frame model.FrameData) { mgr.PushFrame(frame) }) }
	resetPgmConsumer()
	pgmCapture.Attach(eng.CurrentPGM())

	var mixMu sync.Mutex
	var activeMix *mix.Orchestrator

	lifecycleSub := bus.Subscribe(
		events.KindLoad, events.KindTake, events.KindClear, events.KindFreeze,
		events.KindUpdatePgm, events.KindMixStart, events.KindMixCancel, events.KindPgmChanged,
	)
	go runLifecycleLoop(lifecycleSub, asrunLog, eng, mgr, pgmCapture, resetPgmConsumer, cfg.FrameRate, &mixMu, &activeMix)

	srv := control.New(eng, bus, control.Options{
		AuthToken: cfg.ControlAuthToken,
		Info: control.Info{
			Version: version, Width: cfg.ResolutionWidth, Height: cfg.ResolutionHeight,
			FrameRate: cfg.FrameRate, Hardware: activeHardwareSummary(cfg),
		},
		MaxConcurrentCommands: cfg.MaxConcurrentCommands,
		CommandQueueSize:      cfg.CommandQueueSize,
	})
	pgmCapture.OnStats(func(s model.CaptureStats) {
		stats.fps, stats.dropped, stats.totalFrames = s.FPS, s.Dropped, s.TotalFrames
		srv.BroadcastStats(s)
	})

	healthSrv := health.NewServer(fmt.Sprintf(":%d", cfg.HealthPort), func() health.Snapshot {
		snap := eng.Snapshot()
		return health.Snapshot{
			Engine: snap.State, FPS: stats.fps, Dropped: stats.dropped,
			TotalFrames: stats.totalFrames, Clients: srv.SessionCount(), Version: version,
		}
	})
	healthSrv.Start()

	go func() {
		if err := srv.ListenAndServe(fmt.Sprintf(":%d", cfg.ControlPort)); err != nil {
			log.Error("control server stopped", "error", err)
		}
	}()

	log.Info("playout engine is running",
		"controlPort", cfg.ControlPort, "healthPort", cfg.HealthPort,
		"resolution", fmt.Sprintf("%dx%d", cfg.ResolutionWidth, cfg.ResolutionHeight),
		"frameRate", cfg.FrameRate,
	)

	comps := &components{
		pvwHost: pvwHost, pgmHost: pgmHost, pgmCapture: pgmCapture,
		manager: mgr, blackBurst: blackBurst,
		asrunLog: asrunLog, controlSrv: srv, healthSrv: healthSrv,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down playout engine")
	shutdown(comps)
	log.Info("playout engine stopped")
}

func shutdown(c *components) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.controlSrv.Shutdown(ctx); err != nil {
		log.Warn("control server shutdown error", "error", err)
	}
	if err := c.healthSrv.Shutdown(ctx); err != nil {
		log.Warn("health server shutdown error", "error", err)
	}
	c.blackBurst.Stop()
	c.pgmCapture.Destroy()
	for _, name := range c.manager.ActiveOutputs() {
		c.manager.RemoveSink(name)
	}
	c.pvwHost.Close()
	c.pgmHost.Close()
	c.asrunLog.Close()
}

// wireOutputs registers whichever output sinks the config enables. SDI,
// NDI, and on-screen rendering all depend on a concrete hardware/SDK
// binding of model.OutputDriver's supporting interfaces
// (output.HardwareChannel, output.NDISender, output.DisplaySurface);
// this engine ships the driver logic but not the bindings themselves
// (spec.md §1), so an enabled-but-unbound sink only logs a warning.
func wireOutputs(cfg *config.Config, mgr *output.Manager) {
	if cfg.SDIEnabled {
		log.Warn("sdi_enabled is set but no SDI hardware binding is compiled into this build; skipping sdi sink")
	}
	if cfg.NDIEnabled {
		log.Warn("ndi_enabled is set but no NDI SDK binding is compiled into this build; skipping ndi sink")
	}
	if cfg.RGBMonitor >= 0 {
		log.Warn("rgb_monitor is set but no display surface binding is compiled into this build; skipping window sink")
	}
}

func activeHardwareSummary(cfg *config.Config) string {
	active := []string{"black-burst"}
	if cfg.SDIEnabled {
		active = append(active, "sdi(unbound)")
	}
	if cfg.NDIEnabled {
		active = append(active, "ndi(unbound)")
	}
	summary := active[0]
	for _, a := range active[1:] {
		summary += "," + a
	}
	return summary
}

// runLifecycleLoop is the single consumer of the Engine's lifecycle
// events. It folds together two jobs that both need to react to the
// same event stream in order:
//
//   - as-run logging for load/take/clear/freeze/updatePgm (spec.md §4.8)
//   - keeping pgmCapture bound to whichever physical surface currently
//     holds the PGM role, and handing its consumer over to a mix
//     orchestrator for the duration of a MIX (spec.md §9 "dynamic
//     current PGM pointer" design note)
//
// Running both out of one goroutine over one subscription keeps the
// PGM hand-off and the as-run entry for the same TAKE ordered the way
// they happened, rather than racing two independent subscribers.
func runLifecycleLoop(
	sub events.Subscriber,
	asrunLog *asrun.Log,
	eng *engine.Engine,
	mgr *output.Manager,
	pgmCapture *capture.Capture,
	resetPgmConsumer func(),
	targetFPS int,
	mixMu *sync.Mutex,
	activeMix **mix.Orchestrator,
) {
	stopActiveMix := func() {
		mixMu.Lock()
		defer mixMu.Unlock()
		if *activeMix != nil {
			(*activeMix).Stop()
			*activeMix = nil
			resetPgmConsumer()
		}
	}

	for ev := range sub {
		entry := model.AsRunEntry{}
		logEntry := true

		switch ev.Kind {
		case events.KindLoad:
			entry.Event = model.AsRunLoad
			if tp, ok := ev.Payload.(*model.TemplatePayload); ok && tp != nil {
				entry.TemplateID = tp.ID
			}

		case events.KindTake:
			entry.Event = model.AsRunTake
			stopActiveMix()

		case events.KindClear:
			entry.Event = model.AsRunClear
			stopActiveMix()

		case events.KindFreeze:
			if frozen, _ := ev.Payload.(bool); frozen {
				entry.Event = model.AsRunFreeze
			} else {
				entry.Event = model.AsRunUnfreeze
			}

		case events.KindUpdatePgm:
			entry.Event = model.AsRunUpdatePGM
			if vars, ok := ev.Payload.(map[string]string); ok {
				entry.Variables = vars
			}

		case events.KindMixStart:
			logEntry = false
			payload, ok := ev.Payload.(model.MixStartPayload)
			if !ok {
				continue
			}
			duration := time.Duration(payload.DurationMs) * time.Millisecond
			orch := mix.Start(mgr, pgmCapture, eng.CurrentPVW(), targetFPS, duration)
			mixMu.Lock()
			if *activeMix != nil {
				(*activeMix).Stop()
			}
			*activeMix = orch
			mixMu.Unlock()

		case events.KindMixCancel:
			logEntry = false
			stopActiveMix()

		case events.KindPgmChanged:
			logEntry = false
			newPGM, ok := ev.Payload.(model.Surface)
			if !ok || newPGM == nil {
				continue
			}
			pgmCapture.Destroy()
			resetPgmConsumer()
			pgmCapture.Attach(newPGM)

		default:
			logEntry = false
		}

		if !logEntry {
			continue
		}
		if err := asrunLog.Write(entry); err != nil {
			log.Error("as-run log write failed", "event", entry.Event, "error", err)
		}
	}
}

func socketPathFor(base, suffix string) string {
	ext := filepath.Ext(base)
	trimmed := base[:len(base)-len(ext)]
	return fmt.Sprintf("%s-%s%s", trimmed, suffix, ext)
}
