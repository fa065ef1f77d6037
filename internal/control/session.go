package control

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/veles-productions/playout-core/internal/model"
)

// Write-pump timing, ported from the teacher's internal/websocket
// client constants: a ping keeps an idle control connection from being
// reaped by an intermediate proxy, and the matching pong resets the
// read deadline so a genuinely dead peer is detected within pongWait.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBufferSize = 256
	cmdQueueSize   = 64
)

// session is one connected control-channel client. All writes to the
// underlying connection happen on a single dedicated goroutine
// (writePump) fed by sendCh, so a slow reader blocks at most its own
// buffered channel rather than the broadcaster or any other session
// (spec.md §4.7 broadcast discipline, §5 "control reads are
// event-driven"). cmdQueue feeds a second dedicated goroutine
// (commandLoop, started by the Server) that submits commands to the
// shared worker pool one at a time, preserving this session's command
// order even though the pool itself runs many sessions concurrently.
type session struct {
	id          string
	peerAddress string
	connectedAt time.Time

	conn *websocket.Conn

	sendCh   chan []byte
	cmdQueue chan Message
	done     chan struct{}

	mu      sync.Mutex
	closing bool
}

func newSession(conn *websocket.Conn) *session {
	conn.SetReadLimit(maxMessageSize)
	return &session{
		id:          uuid.NewString(),
		peerAddress: conn.RemoteAddr().String(),
		connectedAt: time.Now(),
		conn:        conn,
		sendCh:      make(chan []byte, sendBufferSize),
		cmdQueue:    make(chan Message, cmdQueueSize),
		done:        make(chan struct{}),
	}
}

func (s *session) info() model.ClientSession {
	return model.ClientSession{ID: s.id, PeerAddress: s.peerAddress, ConnectedAt: s.connectedAt}
}

// startWritePump launches the session's single writer goroutine. Must
// be called once per session, before any send.
func (s *session) startWritePump() {
	go s.writePump()
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case raw, ok := <-s.sendCh:
			if !ok {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// send enqueues raw bytes onto the write pump's channel. Non-blocking:
// a session whose buffer is full is skipped rather than blocked on, so
// one slow client can never stall delivery to the rest (spec.md §4.7
// broadcast discipline).
func (s *session) send(raw []byte) bool {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return false
	}
	select {
	case s.sendCh <- raw:
		return true
	default:
		return false
	}
}

func (s *session) sendMessage(msg Message) bool {
	raw, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return s.send(raw)
}

// enqueueCommand hands a decoded command to this session's in-order
// command loop. Returns false if the queue is full, meaning the client
// is submitting commands faster than they can be processed in order.
func (s *session) enqueueCommand(msg Message) bool {
	select {
	case s.cmdQueue <- msg:
		return true
	default:
		return false
	}
}

func (s *session) close(code int, reason string) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.mu.Unlock()

	close(s.done)
	close(s.cmdQueue)

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	s.conn.Close()
}
