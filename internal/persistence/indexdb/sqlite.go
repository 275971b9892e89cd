// Package indexdb keeps a queryable SQLite index of simulation activity:
// tick summaries, player sessions, and world restarts. The JSONL journals
// remain the source of truth; this index exists for diagnostics and ad-hoc
// queries, so writes are buffered and may be dropped under pressure.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"flowgrid.io/internal/sim/engine"
	"flowgrid.io/internal/sim/world"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqRestart
	reqSessionStart
	reqSessionEnd
	reqBarrier
)

type req struct {
	kind reqKind

	tick    engine.TickLogEntry
	restart engine.RestartLogEntry
	session sessionRow
	done    chan struct{}
}

type sessionRow struct {
	ID     string
	Player world.PlayerID
	Name   string
	AtMS   int64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Roomy buffer: tick entries arrive every few hundred milliseconds,
		// session churn is bursty on reconnect storms.
		ch: make(chan req, 8192),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	// NORMAL is a decent durability/perf tradeoff for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			seq INTEGER PRIMARY KEY,
			at REAL NOT NULL,
			dt REAL NOT NULL,
			total_amount REAL NOT NULL,
			blobs INTEGER NOT NULL,
			players INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			player_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			connected_at_ms INTEGER NOT NULL,
			disconnected_at_ms INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_player ON sessions(player_id);`,
		`CREATE TABLE IF NOT EXISTS restarts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at REAL NOT NULL,
			nodes INTEGER NOT NULL,
			links INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; JSONL journals remain the
		// source of truth.
	}
}

func (s *SQLiteIndex) WriteTick(entry engine.TickLogEntry) error {
	s.enqueue(req{kind: reqTick, tick: entry})
	return nil
}

func (s *SQLiteIndex) WriteRestart(entry engine.RestartLogEntry) error {
	s.enqueue(req{kind: reqRestart, restart: entry})
	return nil
}

func (s *SQLiteIndex) SessionStarted(sessionID string, player world.PlayerID, name string, at time.Time) {
	s.enqueue(req{kind: reqSessionStart, session: sessionRow{
		ID:     sessionID,
		Player: player,
		Name:   name,
		AtMS:   at.UnixMilli(),
	}})
}

func (s *SQLiteIndex) SessionEnded(sessionID string, at time.Time) {
	s.enqueue(req{kind: reqSessionEnd, session: sessionRow{
		ID:   sessionID,
		AtMS: at.UnixMilli(),
	}})
}

// Sync blocks until everything enqueued before it is committed. Queries
// issued after Sync see all prior writes.
func (s *SQLiteIndex) Sync() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqBarrier, done: done}:
		<-done
	default:
	}
}

// Stats summarizes the index for the diagnostics endpoint.
type Stats struct {
	Ticks        int64   `json:"ticks"`
	LastTickSeq  uint64  `json:"last_tick_seq"`
	LastTickAt   float64 `json:"last_tick_at"`
	Sessions     int64   `json:"sessions"`
	OpenSessions int64   `json:"open_sessions"`
	Restarts     int64   `json:"restarts"`
}

func (s *SQLiteIndex) QueryStats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MAX(seq),0), COALESCE(MAX(at),0) FROM ticks`)
	if err := row.Scan(&st.Ticks, &st.LastTickSeq, &st.LastTickAt); err != nil {
		return Stats{}, err
	}
	row = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(disconnected_at_ms IS NULL),0) FROM sessions`)
	if err := row.Scan(&st.Sessions, &st.OpenSessions); err != nil {
		return Stats{}, err
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM restarts`)
	if err := row.Scan(&st.Restarts); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// SessionsForPlayer lists a player's sessions, newest first.
func (s *SQLiteIndex) SessionsForPlayer(ctx context.Context, player world.PlayerID) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, player_id, name, connected_at_ms, COALESCE(disconnected_at_ms,0)
		 FROM sessions WHERE player_id = ? ORDER BY connected_at_ms DESC`, int64(player))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var pid int64
		if err := rows.Scan(&info.ID, &pid, &info.Name, &info.ConnectedAtMS, &info.DisconnectedAtMS); err != nil {
			return nil, err
		}
		info.Player = world.PlayerID(pid)
		out = append(out, info)
	}
	return out, rows.Err()
}

type SessionInfo struct {
	ID               string         `json:"id"`
	Player           world.PlayerID `json:"player_id"`
	Name             string         `json:"name"`
	ConnectedAtMS    int64          `json:"connected_at_ms"`
	DisconnectedAtMS int64          `json:"disconnected_at_ms,omitempty"`
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(seq,at,dt,total_amount,blobs,players) VALUES(?,?,?,?,?,?)`)
	insertRestart, _ := s.db.Prepare(`INSERT INTO restarts(at,nodes,links) VALUES(?,?,?)`)
	insertSession, _ := s.db.Prepare(`INSERT OR REPLACE INTO sessions(id,player_id,name,connected_at_ms) VALUES(?,?,?,?)`)
	closeSession, _ := s.db.Prepare(`UPDATE sessions SET disconnected_at_ms=? WHERE id=?`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertRestart, insertSession, closeSession} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		if r.kind == reqBarrier {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			if insertTick != nil {
				if _, err := tx.Stmt(insertTick).Exec(
					int64(r.tick.Seq),
					r.tick.At,
					r.tick.Dt,
					r.tick.TotalAmount,
					r.tick.Blobs,
					r.tick.Players,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		case reqRestart:
			if insertRestart != nil {
				if _, err := tx.Stmt(insertRestart).Exec(
					r.restart.At,
					r.restart.Nodes,
					r.restart.Links,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		case reqSessionStart:
			if insertSession != nil {
				if _, err := tx.Stmt(insertSession).Exec(
					r.session.ID,
					int64(r.session.Player),
					r.session.Name,
					r.session.AtMS,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		case reqSessionEnd:
			if closeSession != nil {
				if _, err := tx.Stmt(closeSession).Exec(
					r.session.AtMS,
					r.session.ID,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
