package control

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veles-productions/playout-core/internal/engine"
	"github.com/veles-productions/playout-core/internal/events"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	bus := events.New(8)
	eng := engine.New(bus)
	srv := New(eng, bus, opts)
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return srv, httpSrv
}

func dial(t *testing.T, httpSrv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return msg
}

func TestStatusYieldsStateEventNoAck(t *testing.T) {
	_, httpSrv := newTestServer(t, Options{})
	conn := dial(t, httpSrv, "")
	defer conn.Close()

	// initial state pushed on connect
	if msg := readMessage(t, conn); msg.Type != EvtState {
		t.Fatalf("initial message type = %q, want state", msg.Type)
	}

	req := Message{ID: "req-1", Type: CmdStatus}
	raw, _ := json.Marshal(req)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != EvtState {
		t.Fatalf("type = %q, want state", msg.Type)
	}
	if msg.ID != "" {
		t.Errorf("status should not carry a request id, got %q", msg.ID)
	}
}

func TestMalformedMessageDoesNotCloseConnection(t *testing.T) {
	_, httpSrv := newTestServer(t, Options{})
	conn := dial(t, httpSrv, "")
	defer conn.Close()

	readMessage(t, conn) // initial state

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != EvtError {
		t.Fatalf("type = %q, want error", msg.Type)
	}

	// connection must still be usable afterwards
	req := Message{ID: "req-2", Type: CmdStatus}
	raw, _ := json.Marshal(req)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write after malformed message: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != EvtState {
		t.Fatalf("type after recovery = %q, want state", msg.Type)
	}
}

func TestConnectionWithoutTokenIsRejected(t *testing.T) {
	srv, httpSrv := newTestServer(t, Options{AuthToken: "s3cret"})
	conn := dial(t, httpSrv, "")
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected read error after rejection, got nil")
	}
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("error = %v, want *websocket.CloseError", err)
	}
	if closeErr.Code != unauthorizedCloseCode {
		t.Errorf("close code = %d, want %d", closeErr.Code, unauthorizedCloseCode)
	}

	time.Sleep(50 * time.Millisecond)
	if n := srv.SessionCount(); n != 0 {
		t.Errorf("session count = %d, want 0 for rejected connection", n)
	}
}

func TestConnectionWithCorrectTokenIsAccepted(t *testing.T) {
	srv, httpSrv := newTestServer(t, Options{AuthToken: "s3cret"})
	conn := dial(t, httpSrv, "s3cret")
	defer conn.Close()

	readMessage(t, conn) // initial state

	time.Sleep(50 * time.Millisecond)
	if n := srv.SessionCount(); n != 1 {
		t.Errorf("session count = %d, want 1", n)
	}
}

func TestLoadWithoutSurfaceYieldsError(t *testing.T) {
	_, httpSrv := newTestServer(t, Options{})
	conn := dial(t, httpSrv, "")
	defer conn.Close()

	readMessage(t, conn) // initial state

	req := Message{ID: "req-3", Type: CmdLoad, Payload: marshalOrNil(LoadPayload{TemplateHTML: "<div></div>"})}
	raw, _ := json.Marshal(req)
	conn.WriteMessage(websocket.TextMessage, raw)

	msg := readMessage(t, conn)
	if msg.Type != EvtError {
		t.Fatalf("type = %q, want error (no surface attached)", msg.Type)
	}
	var payload ErrorPayload
	json.Unmarshal(msg.Payload, &payload)
	if payload.ID != "req-3" {
		t.Errorf("error payload id = %q, want req-3", payload.ID)
	}
}

func TestUnknownCommandYieldsError(t *testing.T) {
	_, httpSrv := newTestServer(t, Options{})
	conn := dial(t, httpSrv, "")
	defer conn.Close()

	readMessage(t, conn)

	req := Message{ID: "req-4", Type: "bogus"}
	raw, _ := json.Marshal(req)
	conn.WriteMessage(websocket.TextMessage, raw)

	msg := readMessage(t, conn)
	if msg.Type != EvtError {
		t.Fatalf("type = %q, want error", msg.Type)
	}
}
