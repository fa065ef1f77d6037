// Package surfacehost binds model.Surface to an out-of-process
// rendering host over a local Unix domain socket (spec.md §4.1, §6.5:
// "binding to a concrete rendering engine is the integrator's
// responsibility"). The engine process listens; the rendering host
// process — an embedded browser, a headless Chromium, or any other
// implementation of the wire protocol in internal/ipc — dials in.
package surfacehost

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/veles-productions/playout-core/internal/ipc"
	"github.com/veles-productions/playout-core/internal/logging"
	"github.com/veles-productions/playout-core/internal/model"
)

var log = logging.L("surfacehost")

// Host is a Surface bound to a rendering process over a Unix socket.
// One Host per surface (PVW, PGM); each listens on its own socket path.
type Host struct {
	name      string
	size      model.Size
	frameRate int

	socketPath string
	listener   net.Listener
	rateLimit  *ipc.RateLimiter

	mu             sync.Mutex
	conn           *ipc.Conn
	onPaint        func(bitmap []byte, size model.Size)
	onRendererGone func(reason string)
	onUnresponsive func()

	pending   map[string]chan *ipc.Envelope
	pendingMu sync.Mutex

	closed chan struct{}
}

// Config configures a Host at construction time.
type Config struct {
	Name       string
	Size       model.Size
	FrameRate  int
	SocketPath string
}

// New creates a Host and starts listening. The rendering process must
// dial SocketPath and complete the auth handshake before any Surface
// operation can make progress; request-response operations issued while
// no peer is connected return model.ErrNotAttached at once, and
// fire-and-forget ones are skipped.
func New(cfg Config) (*Host, error) {
	if cfg.SocketPath == "" {
		return nil, fmt.Errorf("surfacehost: socket path required")
	}
	os.Remove(cfg.SocketPath)

	ln, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("surfacehost: listen %s: %w", cfg.SocketPath, err)
	}

	h := &Host{
		name:       cfg.Name,
		size:       cfg.Size,
		frameRate:  cfg.FrameRate,
		socketPath: cfg.SocketPath,
		listener:   ln,
		rateLimit:  ipc.NewRateLimiter(5, time.Minute),
		pending:    make(map[string]chan *ipc.Envelope),
		closed:     make(chan struct{}),
	}

	go h.acceptLoop()
	return h, nil
}

func (h *Host) Name() string     { return h.name }
func (h *Host) Size() model.Size { return h.size }
func (h *Host) FrameRate() int   { return h.frameRate }

func (h *Host) acceptLoop() {
	for {
		conn, err := h.listener.Accept()
		if err != nil {
			select {
			case <-h.closed:
				return
			default:
				log.Error("accept failed", "surface", h.name, "error", err)
				return
			}
		}
		go h.handleConn(conn)
	}
}

func (h *Host) handleConn(conn net.Conn) {
	peer, err := ipc.GetPeerCredentials(conn)
	if err == nil && !h.rateLimit.Allow(peer.IdentityKey()) {
		log.Warn("surface host connect rate limited", "surface", h.name, "identity", peer.IdentityKey())
		conn.Close()
		return
	}

	c := ipc.NewConn(conn)

	env, err := c.Recv()
	if err != nil || env.Type != ipc.TypeAuthRequest {
		log.Warn("surface host auth handshake failed", "surface", h.name, "error", err)
		conn.Close()
		return
	}

	key, err := ipc.GenerateSessionKey()
	if err != nil {
		conn.Close()
		return
	}
	c.SetSessionKey(key)
	if err := c.SendTyped(env.ID, ipc.TypeAuthResponse, ipc.AuthResponse{Accepted: true, SessionKey: fmt.Sprintf("%x", key)}); err != nil {
		conn.Close()
		return
	}

	h.mu.Lock()
	if h.conn != nil {
		h.conn.Close()
	}
	h.conn = c
	h.mu.Unlock()

	log.Info("rendering host connected", "surface", h.name)
	h.readLoop(c)
}

func (h *Host) readLoop(c *ipc.Conn) {
	for {
		env, err := c.Recv()
		if err != nil {
			h.mu.Lock()
			if h.conn == c {
				h.conn = nil
			}
			h.mu.Unlock()
			h.fireRendererGone(fmt.Sprintf("connection lost: %v", err))
			return
		}
		h.dispatch(env)
	}
}

func (h *Host) dispatch(env *ipc.Envelope) {
	switch env.Type {
	case ipc.TypePaint:
		var p ipc.PaintNotification
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			log.Warn("malformed paint notification", "surface", h.name, "error", err)
			return
		}
		h.mu.Lock()
		cb := h.onPaint
		h.mu.Unlock()
		if cb != nil {
			cb(p.BGRA, model.Size{Width: p.Width, Height: p.Height})
		}
		return
	case ipc.TypeRendererGone:
		var n ipc.RendererGoneNotification
		json.Unmarshal(env.Payload, &n)
		h.fireRendererGone(n.Reason)
		return
	case ipc.TypeUnresponsive:
		h.mu.Lock()
		cb := h.onUnresponsive
		h.mu.Unlock()
		if cb != nil {
			cb()
		}
		return
	}

	// Replies to a pending request-response call are keyed by ID.
	h.pendingMu.Lock()
	ch, ok := h.pending[env.ID]
	if ok {
		delete(h.pending, env.ID)
	}
	h.pendingMu.Unlock()
	if ok {
		ch <- env
	}
}

func (h *Host) fireRendererGone(reason string) {
	h.mu.Lock()
	cb := h.onRendererGone
	h.mu.Unlock()
	if cb != nil {
		cb(reason)
	}
}

// call sends a request and waits for its reply, honoring ctx cancellation.
func (h *Host) call(ctx context.Context, id, msgType string, payload any) (*ipc.Envelope, error) {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return nil, model.ErrNotAttached
	}

	ch := make(chan *ipc.Envelope, 1)
	h.pendingMu.Lock()
	h.pending[id] = ch
	h.pendingMu.Unlock()

	if err := conn.SendTyped(id, msgType, payload); err != nil {
		h.pendingMu.Lock()
		delete(h.pending, id)
		h.pendingMu.Unlock()
		return nil, err
	}

	select {
	case env := <-ch:
		if env.Error != "" {
			return env, fmt.Errorf("surfacehost: %s", env.Error)
		}
		return env, nil
	case <-ctx.Done():
		h.pendingMu.Lock()
		delete(h.pending, id)
		h.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

func (h *Host) LoadDocument(ctx context.Context, payload *model.TemplatePayload) error {
	_, err := h.call(ctx, newCallID(), ipc.TypeLoad, ipc.LoadRequest{
		HTML:          payload.HTML,
		CSS:           payload.CSS,
		Variables:     payload.Variables,
		IsOGraf:       payload.IsOGraf,
		OGrafManifest: payload.OGrafManifest,
	})
	return err
}

func (h *Host) CallTemplateHook(ctx context.Context, hook model.HookKind, arg any) error {
	vars, _ := arg.(map[string]string)
	_, err := h.call(ctx, newCallID(), ipc.TypeHook, ipc.HookRequest{Hook: hook.String(), Variables: vars})
	return err
}

func (h *Host) OnPaint(cb func(bitmap []byte, size model.Size)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPaint = cb
}

func (h *Host) SetFreezeOutput(frozen bool) {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.SendTyped(newCallID(), ipc.TypeSetFreeze, ipc.SetFreezeRequest{Frozen: frozen}); err != nil {
		log.Warn("set freeze failed", "surface", h.name, "error", err)
	}
}

func (h *Host) OnRendererGone(cb func(reason string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRendererGone = cb
}

func (h *Host) OnUnresponsive(cb func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onUnresponsive = cb
}

func (h *Host) Reload(ctx context.Context) error {
	_, err := h.call(ctx, newCallID(), ipc.TypeReload, struct{}{})
	return err
}

func (h *Host) RequestRepaint() {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.SendTyped(newCallID(), ipc.TypeRepaint, struct{}{}); err != nil {
		log.Warn("repaint request failed", "surface", h.name, "error", err)
	}
}

// Close stops accepting new connections and closes any active one.
func (h *Host) Close() error {
	close(h.closed)
	h.mu.Lock()
	if h.conn != nil {
		h.conn.Close()
	}
	h.mu.Unlock()
	err := h.listener.Close()
	os.Remove(h.socketPath)
	return err
}

var callSeq int64
var callSeqMu sync.Mutex

func newCallID() string {
	callSeqMu.Lock()
	defer callSeqMu.Unlock()
	callSeq++
	return fmt.Sprintf("c%d", callSeq)
}
