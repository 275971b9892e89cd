// Command server runs the flow simulation: one engine goroutine owns the
// world, a dispatcher fans addressed events out to websocket clients, and the
// journals plus SQLite index record what happened.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"flowgrid.io/internal/persistence/indexdb"
	persistlog "flowgrid.io/internal/persistence/log"
	"flowgrid.io/internal/sim/engine"
	"flowgrid.io/internal/sim/tuning"
	"flowgrid.io/internal/transport/dispatch"
	"flowgrid.io/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", "", "http listen address (default: PORT env or :3003)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		seed       = flag.Int64("seed", 0, "world seed (0 = time-based)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite activity index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	listenAddr := resolveAddr(*addr)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", *tuningPath)
			tune = tuning.Default()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	_ = os.MkdirAll(*dataDir, 0o755)

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
	}

	tickJournal := persistlog.NewTickJournal(*dataDir)
	restartJournal := persistlog.NewRestartJournal(*dataDir)
	defer tickJournal.Close()
	defer restartJournal.Close()

	cfg := engine.ConfigFromTuning(tune, *seed)
	cfg.Logger = log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lmicroseconds)
	cfg.TickLog = multiTickLogger{a: tickJournal, b: idx}
	cfg.RestartLog = multiRestartLogger{a: restartJournal, b: idx}

	events := make(chan engine.Event, 1024)
	eng, err := engine.New(cfg, events)
	if err != nil {
		logger.Fatalf("engine: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	dispatcher := dispatch.New(events, log.New(os.Stdout, "[dispatch] ", log.LstdFlags|log.Lmicroseconds))
	go func() {
		if err := dispatcher.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("dispatcher stopped: %v", err)
		}
	}()

	var sessions ws.SessionRecorder
	if idx != nil {
		sessions = idx
	}
	edge := ws.NewServer(eng, dispatcher, tune.ClientQueue, sessions, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", edge.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/diagnostics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		resp := diagnostics{
			TickSeq:       eng.TickSeq(),
			Players:       eng.Players(),
			MailboxDepth:  eng.MailboxDepth(),
			DroppedCmds:   eng.Dropped(),
			Connected:     dispatcher.Connected(),
			Delivered:     dispatcher.Delivered(),
			DroppedFrames: dispatcher.Dropped(),
		}
		if idx != nil {
			ctx2, cancel2 := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel2()
			if st, err := idx.QueryStats(ctx2); err == nil {
				resp.Index = &st
			} else {
				logger.Printf("diagnostics: index stats: %v", err)
			}
		}
		_ = json.NewEncoder(rw).Encode(resp)
	})

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		eng.Stop()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", listenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

type diagnostics struct {
	TickSeq       uint64         `json:"tick_seq"`
	Players       int            `json:"players"`
	MailboxDepth  int            `json:"mailbox_depth"`
	DroppedCmds   uint64         `json:"dropped_commands"`
	Connected     int            `json:"connected_clients"`
	Delivered     uint64         `json:"delivered_frames"`
	DroppedFrames uint64         `json:"dropped_frames"`
	Index         *indexdb.Stats `json:"index,omitempty"`
}

// resolveAddr keeps the historical deployment contract: an explicit flag
// wins, then the PORT environment variable, then port 3003.
func resolveAddr(flagAddr string) string {
	if flagAddr != "" {
		return flagAddr
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		return ":" + port
	}
	return ":3003"
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

type multiTickLogger struct {
	a engine.TickLogger
	b *indexdb.SQLiteIndex
}

func (m multiTickLogger) WriteTick(entry engine.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type multiRestartLogger struct {
	a engine.RestartLogger
	b *indexdb.SQLiteIndex
}

func (m multiRestartLogger) WriteRestart(entry engine.RestartLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteRestart(entry)
	}
	if m.b != nil {
		_ = m.b.WriteRestart(entry)
	}
	return nil
}
