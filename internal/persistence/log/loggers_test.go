package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"flowgrid.io/internal/sim/engine"
)

func readJSONL[T any](t *testing.T, pattern string) []T {
	t.Helper()
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) != 1 {
		t.Fatalf("glob %s: %v (matches %v)", pattern, err, matches)
	}
	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()

	var out []T
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			t.Fatalf("unmarshal %q: %v", sc.Text(), err)
		}
		out = append(out, v)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestTickJournal_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	j := NewTickJournal(dir)

	want := []engine.TickLogEntry{
		{Seq: 1, At: 0.5, Dt: 0.5, TotalAmount: 12.5, Blobs: 3, Players: 1},
		{Seq: 2, At: 1.0, Dt: 0.5, TotalAmount: 25.0, Blobs: 5, Players: 2},
	}
	for _, entry := range want {
		if err := j.WriteTick(entry); err != nil {
			t.Fatalf("write tick: %v", err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := readJSONL[engine.TickLogEntry](t, filepath.Join(dir, "ticks", "ticks-*.jsonl.zst"))
	if len(got) != len(want) {
		t.Fatalf("entries = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestRestartJournal_AppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	j := NewRestartJournal(dir)
	if err := j.WriteRestart(engine.RestartLogEntry{At: 1, Nodes: 100, Links: 210}); err != nil {
		t.Fatalf("write restart: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// A new journal in the same hour appends a second zstd frame to the
	// same file; the decoder reads the concatenation.
	j = NewRestartJournal(dir)
	if err := j.WriteRestart(engine.RestartLogEntry{At: 2, Nodes: 100, Links: 208}); err != nil {
		t.Fatalf("write restart: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got := readJSONL[engine.RestartLogEntry](t, filepath.Join(dir, "restarts", "restarts-*.jsonl.zst"))
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if got[0].At != 1 || got[1].At != 2 {
		t.Fatalf("entries out of order: %+v", got)
	}
}
