package engine

import (
	"fmt"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"flowgrid.io/internal/protocol"
	"flowgrid.io/internal/sim/tuning"
	"flowgrid.io/internal/sim/world"
)

// Command is an inbound request stamped with the originating player. Tick
// commands carry no player.
type Command struct {
	Player world.PlayerID
	Req    protocol.RequestMsg
}

// Config tunes the engine. Zero values fall back to tuning defaults via
// ConfigFromTuning.
type Config struct {
	Gen  world.GenConfig
	Seed int64

	TickPeriod      time.Duration
	MinTickInterval float64 // seconds
	Speed           float64 // distance units per second
	OutflowRate     float64 // amount per second per directed link

	MailboxCapacity int
	DropOldest      bool

	TickLog    TickLogger
	RestartLog RestartLogger
	Logger     *log.Logger
}

// ConfigFromTuning maps the tuning file onto an engine config.
func ConfigFromTuning(t tuning.Tuning, seed int64) Config {
	return Config{
		Gen: world.GenConfig{
			NodeCount:     t.NodeCount,
			Extent:        t.WorldExtent,
			MinSeparation: t.MinSeparation,
			MinLinks:      t.MinLinks,
			MaxLinks:      t.MaxLinks,
		},
		Seed:            seed,
		TickPeriod:      time.Duration(t.TickPeriodMs) * time.Millisecond,
		MinTickInterval: float64(t.MinTickIntervalMs) / 1000,
		Speed:           t.Speed,
		OutflowRate:     t.OutflowRate,
		MailboxCapacity: t.MailboxCapacity,
		DropOldest:      t.OverloadPolicy == tuning.PolicyDropOldest,
	}
}

// Engine owns the one live World. All mutation happens on the Run goroutine,
// which drains a single bounded mailbox; mutual exclusion is structural.
type Engine struct {
	cfg Config
	log *log.Logger

	w   *world.World
	rng *rand.Rand

	// now returns absolute simulation time in seconds. Swapped in tests.
	now      func() float64
	lastTick float64

	mailbox chan Command
	out     chan<- Event

	stop     chan struct{}
	stopOnce sync.Once

	tickSeq atomic.Uint64
	players atomic.Int64
	dropped atomic.Uint64
}

// New generates the initial world and prepares the mailbox. Run must be
// started for commands to be applied.
func New(cfg Config, out chan<- Event) (*Engine, error) {
	if out == nil {
		return nil, fmt.Errorf("engine: nil event sink")
	}
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = 500 * time.Millisecond
	}
	if cfg.MinTickInterval <= 0 {
		cfg.MinTickInterval = 0.2
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 100
	}
	if cfg.OutflowRate <= 0 {
		cfg.OutflowRate = 0.5
	}
	if cfg.MailboxCapacity <= 0 {
		cfg.MailboxCapacity = 256
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	w, err := world.Generate(rng, cfg.Gen)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		log:     cfg.Logger,
		w:       w,
		rng:     rng,
		now:     wallClock,
		mailbox: make(chan Command, cfg.MailboxCapacity),
		out:     out,
		stop:    make(chan struct{}),
	}
	e.lastTick = e.now()
	return e, nil
}

func wallClock() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Submit enqueues a command without blocking. It reports false when the
// mailbox rejected the command under the configured overload policy.
func (e *Engine) Submit(cmd Command) bool {
	select {
	case e.mailbox <- cmd:
		return true
	default:
	}
	if e.cfg.DropOldest {
		select {
		case <-e.mailbox:
			e.dropped.Add(1)
		default:
		}
		select {
		case e.mailbox <- cmd:
			return true
		default:
		}
	}
	e.dropped.Add(1)
	return false
}

// Stop terminates Run. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// TickSeq is the number of applied ticks since start or last restart.
func (e *Engine) TickSeq() uint64 { return e.tickSeq.Load() }

// Players is the current flid count.
func (e *Engine) Players() int { return int(e.players.Load()) }

// MailboxDepth is the number of commands waiting in the mailbox.
func (e *Engine) MailboxDepth() int { return len(e.mailbox) }

// Dropped counts commands rejected or displaced under overload.
func (e *Engine) Dropped() uint64 { return e.dropped.Load() }

func (e *Engine) logf(format string, args ...any) {
	if e.log != nil {
		e.log.Printf(format, args...)
	}
}
