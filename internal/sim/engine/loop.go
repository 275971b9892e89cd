package engine

import (
	"context"
	"time"

	"flowgrid.io/internal/protocol"
)

// Run drains the mailbox and the tick timer, applying exactly one event at a
// time to completion. It is the only goroutine that touches the world.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case cmd := <-e.mailbox:
			e.emitAll(e.handle(cmd))
		case <-ticker.C:
			e.emitAll(e.handle(Command{Req: protocol.RequestMsg{Type: protocol.TypeCalc}}))
		}
	}
}

func (e *Engine) emitAll(events []Event) {
	for _, ev := range events {
		select {
		case e.out <- ev:
		case <-e.stop:
			return
		}
	}
}
