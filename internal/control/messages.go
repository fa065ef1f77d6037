// Package control implements the Control Server (spec.md §4.7, §6.1): a
// persistent bidirectional message channel, one server, many concurrent
// client sessions, commands dispatched into the Engine, state and
// frame-stat events broadcast back out.
package control

import "encoding/json"

// Command type values (spec.md §4.7 table).
const (
	CmdAuth       = "auth"
	CmdLoad       = "load"
	CmdUpdate     = "update"
	CmdUpdatePgm  = "updatePgm"
	CmdPlay       = "play"
	CmdStop       = "stop"
	CmdTake       = "take"
	CmdClear      = "clear"
	CmdFreeze     = "freeze"
	CmdNext       = "next"
	CmdTestSignal = "testSignal"
	CmdStatus     = "status"
	CmdGetInfo    = "getInfo"
	CmdSetOutput  = "setOutput"
)

// Event type values (spec.md §4.7 table).
const (
	EvtState        = "state"
	EvtFrameUpdate  = "frameUpdate"
	EvtInfo         = "info"
	EvtAck          = "ack"
	EvtError        = "error"
	EvtClientChange = "clientChange"
)

// Message is the wire shape for both commands and events (spec.md
// §6.1): `{id?, type, payload?}`.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// LoadPayload is the `load` command's payload.
type LoadPayload struct {
	TemplateHTML  string            `json:"templateHtml"`
	TemplateCSS   string            `json:"templateCss,omitempty"`
	Variables     map[string]string `json:"variables,omitempty"`
	IsOGraf       bool              `json:"isOGraf,omitempty"`
	OGrafManifest string            `json:"ografManifest,omitempty"`
	TemplateID    string            `json:"templateId,omitempty"`
}

// VariablesPayload is the `update` / `updatePgm` commands' payload.
type VariablesPayload struct {
	Variables map[string]string `json:"variables"`
}

// TakePayload is the `take` command's payload.
type TakePayload struct {
	Transition string `json:"transition,omitempty"` // "cut" | "mix"
	DurationMs int64  `json:"duration,omitempty"`
}

// TestSignalPayload is the `testSignal` command's payload.
type TestSignalPayload struct {
	Pattern string `json:"pattern"`
	Alpha   *bool  `json:"alpha,omitempty"`
}

// AckPayload accompanies an `ack` event.
type AckPayload struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

// ErrorPayload accompanies an `error` event.
type ErrorPayload struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

// InfoPayload accompanies an `info` event.
type InfoPayload struct {
	Version     string `json:"version"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	FrameRate   int    `json:"frameRate"`
	Hardware    string `json:"hardware"`
}

// FrameUpdatePayload accompanies a `frameUpdate` event.
type FrameUpdatePayload struct {
	FPS     float64 `json:"fps"`
	Dropped uint64  `json:"dropped"`
}

// ClientChangePayload accompanies a `clientChange` event.
type ClientChangePayload struct {
	Event        string `json:"event"` // "connected" | "disconnected"
	TotalClients int    `json:"totalClients"`
}
