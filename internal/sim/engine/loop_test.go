package engine

import (
	"context"
	"testing"
	"time"

	"flowgrid.io/internal/protocol"
	"flowgrid.io/internal/sim/world"
)

func TestSubmit_RejectWhenFull(t *testing.T) {
	out := make(chan Event, 16)
	e, err := New(Config{
		Gen:             world.GenConfig{NodeCount: 8, Extent: 500, MinSeparation: 60},
		Seed:            1,
		MailboxCapacity: 2,
	}, out)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	cmd := Command{Player: 1, Req: protocol.RequestMsg{Type: protocol.TypeGetState}}
	if !e.Submit(cmd) || !e.Submit(cmd) {
		t.Fatal("submits within capacity must succeed")
	}
	if e.Submit(cmd) {
		t.Fatal("submit beyond capacity must be rejected")
	}
	if e.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", e.Dropped())
	}
	if e.MailboxDepth() != 2 {
		t.Fatalf("depth = %d, want 2", e.MailboxDepth())
	}
}

func TestSubmit_DropOldest(t *testing.T) {
	out := make(chan Event, 16)
	e, err := New(Config{
		Gen:             world.GenConfig{NodeCount: 8, Extent: 500, MinSeparation: 60},
		Seed:            1,
		MailboxCapacity: 2,
		DropOldest:      true,
	}, out)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	first := Command{Player: 1, Req: protocol.RequestMsg{Type: protocol.TypeGetState}}
	second := Command{Player: 2, Req: protocol.RequestMsg{Type: protocol.TypeGetState}}
	third := Command{Player: 3, Req: protocol.RequestMsg{Type: protocol.TypeGetState}}
	e.Submit(first)
	e.Submit(second)
	if !e.Submit(third) {
		t.Fatal("drop-oldest submit must succeed by displacing the head")
	}
	if e.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", e.Dropped())
	}

	head := <-e.mailbox
	if head.Player != 2 {
		t.Fatalf("head player = %d, want 2 (oldest displaced)", head.Player)
	}
}

// Commands submitted in order from one source are applied in that order, and
// a snapshot requested right after a command reflects its effect.
func TestRun_OrderingAcrossMailbox(t *testing.T) {
	out := make(chan Event, 256)
	e, err := New(Config{
		Gen:             world.GenConfig{NodeCount: 10, Extent: 500, MinSeparation: 60},
		Seed:            3,
		TickPeriod:      time.Hour, // keep the ticker out of this test
		MinTickInterval: 0,
		MailboxCapacity: 16,
	}, out)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	defer func() {
		e.Stop()
		<-done
	}()

	if !e.Submit(Command{Player: 1, Req: protocol.RequestMsg{Type: protocol.TypeNewPlayer}}) {
		t.Fatal("submit NewPlayer failed")
	}

	next := func() Event {
		select {
		case ev := <-out:
			return ev
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}

	hello := next()
	if _, ok := hello.Msg.(protocol.HelloMsg); !ok {
		t.Fatalf("first event %T, want HelloMsg", hello.Msg)
	}
	joined := next()
	state, ok := joined.Msg.(protocol.GameStateMsg)
	if !ok {
		t.Fatalf("second event %T, want GameStateMsg", joined.Msg)
	}

	// Learn the topology from the snapshot, the way a client would.
	nodeID, _ := state.Flids[0].Host.AtNode()
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

	if !e.Submit(Command{Player: 1, Req: protocol.RequestMsg{Type: protocol.TypeJump, LinkID: uint64(incident.ID)}}) {
		t.Fatal("submit Jump failed")
	}
	if !e.Submit(Command{Player: 1, Req: protocol.RequestMsg{Type: protocol.TypeGetState}}) {
		t.Fatal("submit GetState failed")
	}

	update := next()
	if _, ok := update.Msg.(protocol.FlidUpdateMsg); !ok {
		t.Fatalf("third event %T, want FlidUpdateMsg", update.Msg)
	}

	// The GetState snapshot must reflect the jump submitted before it.
	snap := next()
	got, ok := snap.Msg.(protocol.GameStateMsg)
	if !ok {
		t.Fatalf("fourth event %T, want GameStateMsg", snap.Msg)
	}
	if snap.To != AddressTo(1) {
		t.Fatalf("snapshot addressed to %+v, want player 1", snap.To)
	}
	jump, ok := got.Flids[0].Host.InTransit()
	if !ok {
		t.Fatal("snapshot does not reflect the preceding jump")
	}
	if jump.LinkID != incident.ID {
		t.Fatalf("snapshot jump link %d, want %d", jump.LinkID, incident.ID)
	}
}
