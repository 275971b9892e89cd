package ws

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"flowgrid.io/internal/protocol"
	"flowgrid.io/internal/sim/engine"
	"flowgrid.io/internal/sim/world"
	"flowgrid.io/internal/transport/dispatch"
)

type recordedSession struct {
	id     string
	player world.PlayerID
	name   string
	ended  bool
}

type fakeRecorder struct {
	mu       sync.Mutex
	sessions []recordedSession
}

func (r *fakeRecorder) SessionStarted(sessionID string, player world.PlayerID, name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, recordedSession{id: sessionID, player: player, name: name})
}

func (r *fakeRecorder) SessionEnded(sessionID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.sessions {
		if r.sessions[i].id == sessionID {
			r.sessions[i].ended = true
		}
	}
}

func (r *fakeRecorder) snapshot() []recordedSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedSession(nil), r.sessions...)
}

// startStack runs a full engine + dispatcher + websocket edge on an
// ephemeral port. The tick period is pushed out of the way so tests only see
// the frames their own commands cause.
func startStack(t *testing.T) (string, *fakeRecorder) {
	t.Helper()

	events := make(chan engine.Event, 256)
	e, err := engine.New(engine.Config{
		Gen:             world.GenConfig{NodeCount: 10, Extent: 500, MinSeparation: 60, MinLinks: 2, MaxLinks: 3},
		Seed:            11,
		TickPeriod:      time.Hour,
		MinTickInterval: 0,
		MailboxCapacity: 64,
		Logger:          log.New(testWriter{t}, "[engine] ", 0),
	}, events)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	d := dispatch.New(events, log.New(testWriter{t}, "[dispatch] ", 0))
	rec := &fakeRecorder{}
	srv := NewServer(e, d, 32, rec, log.New(testWriter{t}, "[ws] ", 0))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = e.Run(ctx) }()
	go func() { defer wg.Done(); _ = d.Run(ctx) }()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.Handler())
	ts := httptest.NewServer(mux)

	t.Cleanup(func() {
		ts.Close()
		cancel()
		e.Stop()
		wg.Wait()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", rec
}

// testWriter routes server logs through t.Logf so failures carry context.
type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForType reads frames until one of the wanted type arrives.
func waitForType(t *testing.T, conn *websocket.Conn, wanted string) []byte {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			t.Fatalf("set read deadline: %v", err)
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			t.Fatalf("read: %v", err)
		}
		base, err := protocol.DecodeBase(payload)
		if err != nil {
			t.Fatalf("decode %s: %v", payload, err)
		}
		if base.Type == wanted {
			return payload
		}
	}
	t.Fatalf("timed out waiting for %s frame", wanted)
	return nil
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func join(t *testing.T, url string) (*websocket.Conn, protocol.HelloMsg, protocol.GameStateMsg) {
	t.Helper()
	conn := dial(t, url)
	var hello protocol.HelloMsg
	if err := json.Unmarshal(waitForType(t, conn, protocol.TypeHello), &hello); err != nil {
		t.Fatalf("unmarshal hello: %v", err)
	}
	var state protocol.GameStateMsg
	if err := json.Unmarshal(waitForType(t, conn, protocol.TypeGameState), &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	return conn, hello, state
}

func TestConnect_HelloThenSnapshot(t *testing.T) {
	url, rec := startStack(t)

	_, hello, state := join(t, url+"?name=tester")
	if hello.ID == 0 {
		t.Fatal("hello carries no player id")
	}
	found := false
	for _, f := range state.Flids {
		if f.ID == hello.ID {
			found = true
			if _, ok := f.Host.AtNode(); !ok {
				t.Fatalf("fresh flid not at a node: %+v", f.Host)
			}
		}
	}
	if !found {
		t.Fatalf("own flid %d missing from snapshot", hello.ID)
	}

	sessions := rec.snapshot()
	if len(sessions) != 1 || sessions[0].player != hello.ID || sessions[0].name != "tester" {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestJump_RoundTrip(t *testing.T) {
	url, _ := startStack(t)

	conn, hello, state := join(t, url)

	var nodeID world.NodeID
	for _, f := range state.Flids {
		if f.ID == hello.ID {
			nodeID, _ = f.Host.AtNode()
		}
	}
	var incident world.Link
	for _, l := range state.Links {
		if l.HasNode(nodeID) {
			incident = l
			break
		}
	}
	if incident.ID == 0 {
		t.Fatal("no incident link in snapshot")
	}

	send(t, conn, protocol.RequestMsg{Type: protocol.TypeJump, LinkID: uint64(incident.ID)})

	var update protocol.FlidUpdateMsg
	if err := json.Unmarshal(waitForType(t, conn, protocol.TypeFlidUpdate), &update); err != nil {
		t.Fatalf("unmarshal update: %v", err)
	}
	if update.Flid.ID != hello.ID {
		t.Fatalf("update for flid %d, want %d", update.Flid.ID, hello.ID)
	}
	jump, ok := update.Flid.Host.InTransit()
	if !ok {
		t.Fatalf("flid not in transit after jump: %+v", update.Flid.Host)
	}
	if jump.LinkID != incident.ID {
		t.Fatalf("jump link %d, want %d", jump.LinkID, incident.ID)
	}
}

func TestReservedType_RejectedWithErrorFrame(t *testing.T) {
	url, _ := startStack(t)

	conn, _, _ := join(t, url)

	// Join and exit belong to the connection lifecycle, never to the wire.
	send(t, conn, protocol.RequestMsg{Type: protocol.TypeNewPlayer})

	var errMsg protocol.ErrorMsg
	if err := json.Unmarshal(waitForType(t, conn, protocol.TypeError), &errMsg); err != nil {
		t.Fatalf("unmarshal error frame: %v", err)
	}
	if errMsg.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("code = %q, want %q", errMsg.Code, protocol.ErrProtoBadRequest)
	}
}

func TestMalformedFrame_DroppedConnectionSurvives(t *testing.T) {
	url, _ := startStack(t)

	conn, hello, _ := join(t, url)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	// The connection must still serve commands afterwards.
	send(t, conn, protocol.RequestMsg{Type: protocol.TypeGetState})
	var state protocol.GameStateMsg
	if err := json.Unmarshal(waitForType(t, conn, protocol.TypeGameState), &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	found := false
	for _, f := range state.Flids {
		if f.ID == hello.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("player missing from snapshot after malformed frame")
	}
}

func TestDisconnect_RemovesPlayerAndEndsSession(t *testing.T) {
	url, rec := startStack(t)

	first, firstHello, _ := join(t, url)
	second, _, _ := join(t, url)

	// The second join broadcast reaches the first connection too; drain it.
	waitForType(t, first, protocol.TypeGameState)

	first.Close()

	// The exit broadcast tells the survivor the flid is gone.
	deadline := time.Now().Add(5 * time.Second)
	for {
		var state protocol.GameStateMsg
		if err := json.Unmarshal(waitForType(t, second, protocol.TypeGameState), &state); err != nil {
			t.Fatalf("unmarshal state: %v", err)
		}
		gone := true
		for _, f := range state.Flids {
			if f.ID == firstHello.ID {
				gone = false
			}
		}
		if gone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("departed flid still present in snapshots")
		}
	}

	// The recorder sees the session close.
	deadline = time.Now().Add(5 * time.Second)
	for {
		ended := false
		for _, s := range rec.snapshot() {
			if s.player == firstHello.ID && s.ended {
				ended = true
			}
		}
		if ended {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session never marked ended")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
