// Package log persists the simulation journals as zstd-compressed JSONL,
// rotated hourly. Entries stream out as they happen; a crash loses at most
// the current buffered line.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"flowgrid.io/internal/sim/engine"
)

type jsonlZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func newJSONLZstdWriter(baseDir, prefix string) *jsonlZstdWriter {
	return &jsonlZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *jsonlZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *jsonlZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *jsonlZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *jsonlZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *jsonlZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TickJournal records one entry per applied tick.
type TickJournal struct{ w *jsonlZstdWriter }

func NewTickJournal(dataDir string) *TickJournal {
	return &TickJournal{w: newJSONLZstdWriter(filepath.Join(dataDir, "ticks"), "ticks")}
}

func (j *TickJournal) WriteTick(v engine.TickLogEntry) error { return j.w.Write(v) }
func (j *TickJournal) Close() error                          { return j.w.Close() }

// RestartJournal records every world regeneration.
type RestartJournal struct{ w *jsonlZstdWriter }

func NewRestartJournal(dataDir string) *RestartJournal {
	return &RestartJournal{w: newJSONLZstdWriter(filepath.Join(dataDir, "restarts"), "restarts")}
}

func (j *RestartJournal) WriteRestart(v engine.RestartLogEntry) error { return j.w.Write(v) }
func (j *RestartJournal) Close() error                                { return j.w.Close() }
