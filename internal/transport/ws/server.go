// Package ws is the websocket edge. It assigns player IDs, turns inbound
// frames into engine commands, and drains the per-connection outbound queue
// filled by the dispatcher. Join and exit are owned here, not by clients: a
// connection is a player, and closing it removes the player.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"flowgrid.io/internal/protocol"
	"flowgrid.io/internal/sim/engine"
	"flowgrid.io/internal/sim/world"
	"flowgrid.io/internal/transport/dispatch"
)

const writeWait = 5 * time.Second

// SessionRecorder receives connection lifecycle events. Implementations must
// not block; the index writer queues internally.
type SessionRecorder interface {
	SessionStarted(sessionID string, player world.PlayerID, name string, at time.Time)
	SessionEnded(sessionID string, at time.Time)
}

type Server struct {
	engine   *engine.Engine
	dispatch *dispatch.Dispatcher
	log      *log.Logger
	sessions SessionRecorder // optional
	queue    int

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(e *engine.Engine, d *dispatch.Dispatcher, queue int, sessions SessionRecorder, logger *log.Logger) *Server {
	if queue <= 0 {
		queue = 16
	}
	return &Server{
		engine:   e,
		dispatch: d,
		log:      logger,
		sessions: sessions,
		queue:    queue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// commandTypes are the frames a client may submit. Join and exit are derived
// from the connection itself and rejected on the wire.
var commandTypes = map[string]bool{
	protocol.TypeGetState:   true,
	protocol.TypeRestart:    true,
	protocol.TypeCalc:       true,
	protocol.TypeTick:       true,
	protocol.TypeChangeFlow: true,
	protocol.TypeJump:       true,
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id := world.PlayerID(s.nextID.Add(1))
		name := r.URL.Query().Get("name")
		if name == "" {
			name = "player"
		}
		out := make(chan []byte, s.queue)

		// Routing must be live before the join command, or the welcome
		// addressed to this player would be dropped.
		s.dispatch.Register(dispatch.Client{ID: id, Out: out})
		defer s.dispatch.Unregister(id)

		if !s.engine.Submit(engine.Command{Player: id, Req: protocol.RequestMsg{Type: protocol.TypeNewPlayer}}) {
			s.logf("player %d: join rejected, engine overloaded", id)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, protocol.ErrOverloaded),
				time.Now().Add(time.Second))
			return
		}

		sessionID := uuid.NewString()
		if s.sessions != nil {
			s.sessions.SessionStarted(sessionID, id, name, time.Now())
			defer s.sessions.SessionEnded(sessionID, time.Now())
		}
		s.logf("player %d connected (session %s, name %q)", id, sessionID, name)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine: the connection's only writer after the upgrade.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		s.readLoop(conn, id, out)
		cancel()
		<-writerDone

		// The exit command should land even under overload, or the flid
		// lingers until a restart. Give the mailbox a moment to drain.
		exit := engine.Command{Player: id, Req: protocol.RequestMsg{Type: protocol.TypePlayerExit}}
		for attempt := 0; !s.engine.Submit(exit); attempt++ {
			if attempt == 100 {
				s.logf("player %d: exit lost, engine overloaded", id)
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
		s.logf("player %d disconnected", id)
	}
}

func (s *Server) readLoop(conn *websocket.Conn, id world.PlayerID, out chan []byte) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			s.logf("player %d: undecodable frame dropped: %v", id, err)
			continue
		}
		if !commandTypes[base.Type] {
			s.logf("player %d: rejected frame type %q", id, base.Type)
			s.sendError(out, protocol.ErrProtoBadRequest, "unknown or reserved command type")
			continue
		}
		var req protocol.RequestMsg
		if err := json.Unmarshal(msg, &req); err != nil {
			s.logf("player %d: malformed %s frame dropped: %v", id, base.Type, err)
			continue
		}
		if !s.engine.Submit(engine.Command{Player: id, Req: req}) {
			s.sendError(out, protocol.ErrOverloaded, "engine mailbox full, retry later")
		}
	}
}

// sendError enqueues an error frame through the same outbound queue the
// dispatcher uses, keeping a single writer on the socket. Best effort: a
// jammed queue drops it.
func (s *Server) sendError(out chan []byte, code, detail string) {
	b, err := json.Marshal(protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: detail})
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
