// Package model holds the data types and interfaces shared across the
// playout pipeline (spec.md §3): the template payload, engine state
// machine values, the frame/stat structs Capture emits, and the Surface
// and OutputDriver contracts every other package programs against.
package model

import "time"

// TemplatePayload is an opaque rendering job handed to a Surface.
// Immutable from the Engine's view except Variables, which may be
// replaced while the payload stays loaded.
type TemplatePayload struct {
	ID         string            `json:"id,omitempty"`
	HTML       string            `json:"html"`
	CSS        string            `json:"css,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
	IsOGraf    bool              `json:"isOGraf,omitempty"`
	OGrafManifest string         `json:"ografManifest,omitempty"`
}

// Clone returns a deep copy so callers can hand out a payload without
// letting the receiver mutate the Engine's copy.
func (p *TemplatePayload) Clone() *TemplatePayload {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Variables != nil {
		cp.Variables = make(map[string]string, len(p.Variables))
		for k, v := range p.Variables {
			cp.Variables[k] = v
		}
	}
	return &cp
}

// EngineState is the playout state machine's tagged variant (spec.md §3, §4.5).
type EngineState string

const (
	StateIdle      EngineState = "idle"
	StatePVWLoaded EngineState = "pvw-loaded"
	StateOnAir     EngineState = "on-air"
	StateFrozen    EngineState = "frozen"
)

// EngineSnapshot is an atomically-produced view of engine state; no
// consumer ever observes a partially-updated snapshot (spec.md §3).
type EngineSnapshot struct {
	State       EngineState      `json:"state"`
	PVWTemplate *TemplatePayload `json:"pvwTemplate,omitempty"`
	PGMTemplate *TemplatePayload `json:"pgmTemplate,omitempty"`
	PVWReady    bool             `json:"pvwReady"`
	PGMReady    bool             `json:"pgmReady"`
	Mixing      bool             `json:"mixing"`
}

// Size is a frame/surface resolution.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Bytes returns the byte length of a BGRA buffer at this size.
func (s Size) Bytes() int {
	return s.Width * s.Height * 4
}

// FrameData is one captured frame: a raw BGRA buffer owned by Capture.
// Downstream consumers must finish using Buffer synchronously or copy it
// (spec.md §3, §5 "shared-resource policy").
type FrameData struct {
	Buffer    []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// CaptureStats is a once-per-second measurement Capture emits.
type CaptureStats struct {
	FPS         float64 `json:"fps"`
	Dropped     uint64  `json:"dropped"`
	TotalFrames uint64  `json:"totalFrames"`
}

// HookKind is the closed set of template-level hooks the Engine may
// invoke on a Surface (spec.md §9 redesign note: replaces ad-hoc
// string-named hooks like "__play").
type HookKind int

const (
	HookLoad HookKind = iota
	HookPlay
	HookStop
	HookNext
	HookUpdate
	HookClear
)

func (h HookKind) String() string {
	switch h {
	case HookLoad:
		return "load"
	case HookPlay:
		return "play"
	case HookStop:
		return "stop"
	case HookNext:
		return "next"
	case HookUpdate:
		return "update"
	case HookClear:
		return "clear"
	default:
		return "unknown"
	}
}

// AsRunEventKind is the closed set of as-run log event types (spec.md §3).
type AsRunEventKind string

const (
	AsRunLoad          AsRunEventKind = "load"
	AsRunTake          AsRunEventKind = "take"
	AsRunClear         AsRunEventKind = "clear"
	AsRunFreeze        AsRunEventKind = "freeze"
	AsRunUnfreeze      AsRunEventKind = "unfreeze"
	AsRunUpdate        AsRunEventKind = "update"
	AsRunUpdatePGM     AsRunEventKind = "updatePgm"
	AsRunError         AsRunEventKind = "error"
	AsRunCrashRecovery AsRunEventKind = "crash-recovery"
)

// AsRunEntry is one append-only record in the as-run log (spec.md §3, §6.3).
type AsRunEntry struct {
	Timestamp    time.Time         `json:"timestamp"`
	Event        AsRunEventKind    `json:"event"`
	TemplateID   string            `json:"templateId,omitempty"`
	TemplateName string            `json:"templateName,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
	DurationMs   int64             `json:"duration,omitempty"`
	Details      string            `json:"details,omitempty"`
}
