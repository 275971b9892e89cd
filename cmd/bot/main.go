// Command bot is a simple load and smoke client: it joins the world, tracks
// its own flid, and wanders by jumping across random incident links while
// occasionally redirecting flows.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"flowgrid.io/internal/protocol"
	"flowgrid.io/internal/sim/world"
)

func main() {
	var (
		url  = flag.String("url", "ws://localhost:3003/ws", "ws url")
		name = flag.String("name", "", "player name (default: generated)")
		seed = flag.Int64("seed", 0, "rng seed (0 = time-based)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	botName := *name
	if botName == "" {
		botName = "bot-" + uuid.NewString()[:8]
	}
	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	b := &bot{
		log: logger,
		rng: rand.New(rand.NewSource(rngSeed)),
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url+"?name="+botName, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	b.conn = conn

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeHello:
			var hello protocol.HelloMsg
			if err := json.Unmarshal(msg, &hello); err != nil {
				continue
			}
			b.id = hello.ID
			logger.Printf("HELLO id=%d time=%.3f name=%s", hello.ID, hello.Time, botName)

		case protocol.TypeGameState:
			var state protocol.GameStateMsg
			if err := json.Unmarshal(msg, &state); err != nil {
				continue
			}
			b.links = state.Links
			b.flows = state.Flows
			b.trackSelf(state.Flids)
			b.act()

		case protocol.TypeFlidState:
			var state protocol.FlidStateMsg
			if err := json.Unmarshal(msg, &state); err != nil {
				continue
			}
			b.trackSelf(state.Flids)
			b.act()

		case protocol.TypeFlidUpdate:
			var update protocol.FlidUpdateMsg
			if err := json.Unmarshal(msg, &update); err != nil {
				continue
			}
			if update.Flid.ID == b.id {
				b.self = update.Flid
			}

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Printf("server error: %s %s", e.Code, e.Message)
		}
	}
}

type bot struct {
	log  *log.Logger
	conn *websocket.Conn
	rng  *rand.Rand

	id    world.PlayerID
	self  world.Flid
	links []world.Link
	flows []world.Flow
}

func (b *bot) trackSelf(flids []world.Flid) {
	for _, f := range flids {
		if f.ID == b.id {
			b.self = f
		}
	}
}

// act jumps along a random incident link when idle, and now and then claims
// a flow on the link it just left.
func (b *bot) act() {
	if b.id == 0 {
		return
	}
	nodeID, ok := b.self.Host.AtNode()
	if !ok {
		return
	}

	incident := make([]world.Link, 0, 4)
	for _, l := range b.links {
		if l.HasNode(nodeID) {
			incident = append(incident, l)
		}
	}
	if len(incident) == 0 {
		return
	}
	link := incident[b.rng.Intn(len(incident))]

	if b.rng.Intn(4) == 0 {
		if flow, ok := b.transitFlow(link.ID); ok {
			dir, _ := link.DirFrom(nodeID)
			req := protocol.RequestMsg{Type: protocol.TypeChangeFlow, FlowID: uint64(flow.ID), Dir: string(dir)}
			if err := b.conn.WriteJSON(req); err != nil {
				b.log.Printf("send ChangeFlow: %v", err)
			}
		}
	}

	req := protocol.RequestMsg{Type: protocol.TypeJump, LinkID: uint64(link.ID)}
	if err := b.conn.WriteJSON(req); err != nil {
		b.log.Printf("send Jump: %v", err)
	}
}

func (b *bot) transitFlow(linkID world.LinkID) (world.Flow, bool) {
	for _, f := range b.flows {
		if f.Kind == world.HostLink && f.LinkID == linkID {
			return f, true
		}
	}
	return world.Flow{}, false
}
