package control

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/veles-productions/playout-core/internal/engine"
	"github.com/veles-productions/playout-core/internal/events"
	"github.com/veles-productions/playout-core/internal/logging"
	"github.com/veles-productions/playout-core/internal/model"
	"github.com/veles-productions/playout-core/internal/secmem"
	"github.com/veles-productions/playout-core/internal/workerpool"
)

var log = logging.L("control")

// unauthorizedCloseCode is the policy-reserved close code used to
// reject an unauthenticated connection (spec.md §6.1: "any code >= 4000
// is acceptable so long as the control UI recognizes it").
const unauthorizedCloseCode = 4001

// Info is returned verbatim in the `info` event (spec.md §4.7 `getInfo`).
type Info struct {
	Version   string
	Width     int
	Height    int
	FrameRate int
	Hardware  string
}

// Server is the persistent control channel: one listener, many
// concurrent sessions, commands dispatched into the Engine.
type Server struct {
	engine    *engine.Engine
	bus       *events.Bus
	authToken *secmem.SecureString
	info      Info
	upgrader  websocket.Upgrader
	pool      *workerpool.Pool

	onTestSignal func(pattern string, alpha *bool) (*model.TemplatePayload, error)
	onSetOutput  func(payload json.RawMessage)

	mu       sync.RWMutex
	sessions map[string]*session
	limiters map[string]*rate.Limiter

	httpSrv *http.Server
}

// Options configures a new Server.
type Options struct {
	AuthToken            string
	Info                 Info
	MaxConcurrentCommands int
	CommandQueueSize      int
	// OnTestSignal builds a rendered document for a named test pattern
	// (spec.md §4.7 `testSignal`); generating test-pattern HTML is
	// external glue the control server does not implement itself.
	OnTestSignal func(pattern string, alpha *bool) (*model.TemplatePayload, error)
	// OnSetOutput receives the opaque `setOutput` payload. Advisory only
	// per the Open Question resolution in this implementation: the
	// server acknowledges the command but does not apply it to any
	// configuration store.
	OnSetOutput func(payload json.RawMessage)
}

// New creates a Server wired to eng and bus. It does not start listening
// until ListenAndServe or Handler is used.
func New(eng *engine.Engine, bus *events.Bus, opts Options) *Server {
	s := &Server{
		engine:       eng,
		bus:          bus,
		info:         opts.Info,
		pool:         workerpool.New(orDefault(opts.MaxConcurrentCommands, 10), orDefault(opts.CommandQueueSize, 100)),
		onTestSignal: opts.OnTestSignal,
		onSetOutput:  opts.OnSetOutput,
		sessions:     make(map[string]*session),
		limiters:     make(map[string]*rate.Limiter),
		upgrader:     websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }},
	}
	if opts.AuthToken != "" {
		s.authToken = secmem.NewSecureString(opts.AuthToken)
	}

	go s.watchEngineState()
	return s
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// watchEngineState subscribes to the Engine's state events and
// broadcasts them to every session (spec.md §4.7 events table).
func (s *Server) watchEngineState() {
	sub := s.bus.Subscribe(events.KindState)
	for ev := range sub {
		snap, ok := ev.Payload.(model.EngineSnapshot)
		if !ok {
			continue
		}
		s.broadcastState(snap)
	}
}

// Handler returns the HTTP handler that upgrades connections to the
// control protocol. Mount it at whatever path the deployment chooses.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

// ListenAndServe starts an HTTP server on addr serving the control
// protocol at "/".
func (s *Server) ListenAndServe(addr string) error {
	s.httpSrv = &http.Server{Addr: addr, Handler: s.Handler()}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server and drains the command pool.
func (s *Server) Shutdown(ctx context.Context) error {
	s.pool.StopAccepting()
	s.pool.Drain(ctx)
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}

	if s.authToken != nil {
		token := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken.String())) != 1 {
			deadline := time.Now().Add(time.Second)
			conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(unauthorizedCloseCode, "Unauthorized"), deadline)
			conn.Close()
			return
		}
	}

	sess := newSession(conn)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.limiters[sess.id] = rate.NewLimiter(rate.Limit(50), 100)
	total := len(s.sessions)
	s.mu.Unlock()

	sess.startWritePump()
	go s.commandLoop(sess)

	log.Info("control client connected", "session", sess.id, "peer", sess.peerAddress)
	s.broadcastClientChange("connected", total)

	sess.sendMessage(Message{Type: EvtState, Payload: marshalOrNil(s.engine.Snapshot())})

	s.readLoop(sess)
}

// commandLoop runs for the lifetime of one session, submitting its
// commands to the shared pool one at a time and waiting for each to
// finish before submitting the next. This keeps commands from the same
// client in order even though the pool itself runs many sessions'
// commands concurrently (spec.md §4.7 command/ack ordering).
func (s *Server) commandLoop(sess *session) {
	for msg := range sess.cmdQueue {
		msg := msg
		done := make(chan struct{})
		if !s.pool.Submit(func() {
			defer close(done)
			s.handleCommand(sess, msg)
		}) {
			sess.sendMessage(Message{Type: EvtError, Payload: marshalOrNil(ErrorPayload{ID: msg.ID, Message: "server busy"})})
			continue
		}
		<-done
	}
}

func (s *Server) readLoop(sess *session) {
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		delete(s.limiters, sess.id)
		total := len(s.sessions)
		s.mu.Unlock()
		sess.close(websocket.CloseNormalClosure, "")
		log.Info("control client disconnected", "session", sess.id)
		s.broadcastClientChange("disconnected", total)
	}()

	for {
		_, raw, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			sess.sendMessage(Message{Type: EvtError, Payload: marshalOrNil(ErrorPayload{Message: "invalid message"})})
			continue
		}

		s.mu.RLock()
		limiter := s.limiters[sess.id]
		s.mu.RUnlock()
		if limiter != nil && !limiter.Allow() {
			sess.sendMessage(Message{Type: EvtError, Payload: marshalOrNil(ErrorPayload{ID: msg.ID, Message: "rate limited"})})
			continue
		}

		if !sess.enqueueCommand(msg) {
			sess.sendMessage(Message{Type: EvtError, Payload: marshalOrNil(ErrorPayload{ID: msg.ID, Message: "server busy"})})
		}
	}
}

// handleCommand dispatches one decoded command. Panics inside a
// handler are caught by the worker pool; this method additionally
// recovers so a single malformed payload cannot take down the whole
// session (spec.md §4.7 step 4).
func (s *Server) handleCommand(sess *session, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			sess.sendMessage(Message{Type: EvtError, Payload: marshalOrNil(ErrorPayload{ID: msg.ID, Message: fmt.Sprintf("internal error: %v", r)})})
		}
	}()

	ctx := context.Background()

	switch msg.Type {
	case CmdAuth:
		s.ack(sess, msg.ID, true)

	case CmdStatus:
		sess.sendMessage(Message{Type: EvtState, Payload: marshalOrNil(s.engine.Snapshot())})

	case CmdGetInfo:
		sess.sendMessage(Message{Type: EvtInfo, Payload: marshalOrNil(InfoPayload{
			Version: s.info.Version, Width: s.info.Width, Height: s.info.Height,
			FrameRate: s.info.FrameRate, Hardware: s.info.Hardware,
		})})

	case CmdLoad:
		var p LoadPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			s.fail(sess, msg.ID, "invalid load payload")
			return
		}
		payload := &model.TemplatePayload{
			ID: p.TemplateID, HTML: p.TemplateHTML, CSS: p.TemplateCSS,
			Variables: p.Variables, IsOGraf: p.IsOGraf, OGrafManifest: p.OGrafManifest,
		}
		if err := s.engine.Load(ctx, payload); err != nil {
			s.fail(sess, msg.ID, err.Error())
			return
		}
		s.ack(sess, msg.ID, true)

	case CmdUpdate:
		var p VariablesPayload
		json.Unmarshal(msg.Payload, &p)
		if err := s.engine.Update(ctx, p.Variables); err != nil {
			s.fail(sess, msg.ID, err.Error())
			return
		}
		s.ack(sess, msg.ID, true)

	case CmdUpdatePgm:
		var p VariablesPayload
		json.Unmarshal(msg.Payload, &p)
		if err := s.engine.UpdatePgm(ctx, p.Variables); err != nil {
			s.fail(sess, msg.ID, err.Error())
			return
		}
		s.ack(sess, msg.ID, true)

	case CmdPlay:
		if err := s.engine.Play(ctx); err != nil {
			s.fail(sess, msg.ID, err.Error())
			return
		}
		s.ack(sess, msg.ID, true)

	case CmdStop:
		if err := s.engine.Stop(ctx); err != nil {
			s.fail(sess, msg.ID, err.Error())
			return
		}
		s.ack(sess, msg.ID, true)

	case CmdTake:
		var p TakePayload
		json.Unmarshal(msg.Payload, &p)
		var err error
		if p.Transition == "mix" && p.DurationMs > 0 {
			err = s.engine.TakeMix(ctx, time.Duration(p.DurationMs)*time.Millisecond)
		} else {
			err = s.engine.Take(ctx)
		}
		if err != nil {
			s.fail(sess, msg.ID, err.Error())
			return
		}
		s.ack(sess, msg.ID, true)

	case CmdClear:
		if err := s.engine.Clear(ctx); err != nil {
			s.fail(sess, msg.ID, err.Error())
			return
		}
		s.ack(sess, msg.ID, true)

	case CmdFreeze:
		s.engine.Freeze()
		s.ack(sess, msg.ID, true)

	case CmdNext:
		if err := s.engine.Next(ctx); err != nil {
			s.fail(sess, msg.ID, err.Error())
			return
		}
		s.ack(sess, msg.ID, true)

	case CmdTestSignal:
		var p TestSignalPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || s.onTestSignal == nil {
			s.fail(sess, msg.ID, "test signal unsupported")
			return
		}
		payload, err := s.onTestSignal(p.Pattern, p.Alpha)
		if err != nil {
			s.fail(sess, msg.ID, err.Error())
			return
		}
		if err := s.engine.Load(ctx, payload); err != nil {
			s.fail(sess, msg.ID, err.Error())
			return
		}
		s.ack(sess, msg.ID, true)

	case CmdSetOutput:
		if s.onSetOutput != nil {
			s.onSetOutput(msg.Payload)
		}
		s.ack(sess, msg.ID, true)

	default:
		s.fail(sess, msg.ID, fmt.Sprintf("unknown command type %q", msg.Type))
	}
}

func (s *Server) ack(sess *session, id string, success bool) {
	if id == "" {
		return
	}
	sess.sendMessage(Message{Type: EvtAck, Payload: marshalOrNil(AckPayload{ID: id, Success: success})})
}

func (s *Server) fail(sess *session, id, message string) {
	sess.sendMessage(Message{Type: EvtError, Payload: marshalOrNil(ErrorPayload{ID: id, Message: message})})
}

// broadcastState serializes snap once and sends the same bytes to
// every writable session (spec.md §4.7 broadcast discipline).
func (s *Server) broadcastState(snap model.EngineSnapshot) {
	raw, err := json.Marshal(Message{Type: EvtState, Payload: marshalOrNil(snap)})
	if err != nil {
		return
	}
	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()
	for _, sess := range sessions {
		sess.send(raw)
	}
}

// BroadcastStats serializes stats once and sends it to every session
// (spec.md §4.7 `frameUpdate` event, broadcast discipline).
func (s *Server) BroadcastStats(stats model.CaptureStats) {
	raw, err := json.Marshal(Message{Type: EvtFrameUpdate, Payload: marshalOrNil(FrameUpdatePayload{FPS: stats.FPS, Dropped: stats.Dropped})})
	if err != nil {
		return
	}
	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()
	for _, sess := range sessions {
		sess.send(raw)
	}
}

func (s *Server) broadcastClientChange(event string, total int) {
	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()
	msg := Message{Type: EvtClientChange, Payload: marshalOrNil(ClientChangePayload{Event: event, TotalClients: total})}
	for _, sess := range sessions {
		sess.sendMessage(msg)
	}
}

// SessionCount returns the current number of connected sessions.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func marshalOrNil(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
