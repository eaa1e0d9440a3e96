// Package tracking provides a listener that durably records the unique IDs
// of every leaf test that reached a terminal FINISHED state, for cross-run
// auditing (e.g. detecting tests that never executed across a full run
// history). Skipped tests never start, so they are intentionally absent
// from the output: the artifact tracks tests that ran, not tests that
// exist.
package tracking

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testkit/events"
	"github.com/ethereum-optimism/infra/op-testkit/metrics"
)

const (
	// EnabledEnvVar gates the listener. Only a case-insensitive "true"
	// enables it; anything else, or an unset variable, disables it.
	EnabledEnvVar = "OP_TESTKIT_UNIQUE_ID_TRACKING"
	// OutputDirEnvVar overrides the output directory.
	OutputDirEnvVar = "OP_TESTKIT_UNIQUE_ID_TRACKING_DIR"
	// OutputFileEnvVar overrides the output file name.
	OutputFileEnvVar = "OP_TESTKIT_UNIQUE_ID_TRACKING_FILE"

	DefaultOutputDir  = "build"
	DefaultOutputFile = "unique-ids.txt"
)

// Config is resolved once, before the session starts, and passed in at
// construction. There is no process-global mutable switch.
type Config struct {
	Enabled    bool
	OutputDir  string
	OutputFile string
	Log        log.Logger
}

// FromEnv builds a Config from the process environment.
func FromEnv(logger log.Logger) Config {
	cfg := Config{
		Enabled: strings.EqualFold(os.Getenv(EnabledEnvVar), "true"),
		Log:     logger,
	}
	cfg.OutputDir = os.Getenv(OutputDirEnvVar)
	cfg.OutputFile = os.Getenv(OutputFileEnvVar)
	return cfg
}

// OutputPath returns the resolved artifact path, applying defaults.
func (c Config) OutputPath() string {
	dir := c.OutputDir
	if dir == "" {
		dir = DefaultOutputDir
	}
	file := c.OutputFile
	if file == "" {
		file = DefaultOutputFile
	}
	return filepath.Join(dir, file)
}

// Listener accumulates the canonical unique IDs of finished leaf tests and
// writes them to the configured file when the session's root node finishes.
// When disabled it does nothing at all: no accumulation, no I/O, and the
// output path is never created, modified, or deleted. It is therefore safe
// to register unconditionally.
//
// The output file assumes a single writer per path; coordinating multiple
// concurrent sessions against one path is the embedder's problem.
type Listener struct {
	cfg  Config
	log  log.Logger
	root string

	mu       sync.Mutex
	ids      []string
	written  bool
	writeErr error
}

var _ events.Listener = (*Listener)(nil)

// NewListener creates a tracking listener from an explicit config.
func NewListener(cfg Config) *Listener {
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}
	return &Listener{cfg: cfg, log: logger}
}

// Started records the session root: the first started identifier is the
// root node, whose FINISHED event triggers the final write.
func (l *Listener) Started(event events.Event) {
	if !l.cfg.Enabled {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.root == "" {
		l.root = event.ID.String()
	}
}

// Skipped is a no-op: a skipped test never ran, so it is not tracked.
func (l *Listener) Skipped(events.Event) {}

// Finished appends the unique ID of a finished leaf test. The append is
// atomic so concurrent executor goroutines can finish tests in parallel;
// order among concurrent appends is unspecified.
func (l *Listener) Finished(event events.Event) {
	if !l.cfg.Enabled {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.IsTest() {
		l.ids = append(l.ids, event.ID.String())
	}
	if event.ID.String() == l.root && !l.written {
		l.written = true
		l.writeErr = l.write()
		if l.writeErr != nil {
			metrics.RecordErrorDetails("tracking_write", l.writeErr)
			l.log.Error("Failed to write unique ID tracking file", "error", l.writeErr)
		}
	}
}

// write persists the accumulated IDs, one per line, overwriting any prior
// content at the output path.
func (l *Listener) write() error {
	path := l.cfg.OutputPath()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create tracking output directory %q: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create tracking output file %q: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, id := range l.ids {
		if _, err := fmt.Fprintln(w, id); err != nil {
			return fmt.Errorf("failed to write tracking output file %q: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush tracking output file %q: %w", path, err)
	}
	l.log.Info("Wrote unique ID tracking file", "path", path, "count", len(l.ids))
	return nil
}

// Close flushes the artifact for embedders that tear a session down before
// the root FINISHED event arrives. It is idempotent and not required by
// the listener contract.
func (l *Listener) Close() error {
	if !l.cfg.Enabled {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.written {
		l.written = true
		l.writeErr = l.write()
		if l.writeErr != nil {
			metrics.RecordErrorDetails("tracking_write", l.writeErr)
		}
	}
	return l.writeErr
}

// UniqueIDs returns a snapshot of the accumulated IDs. The in-memory set
// survives a failed write, so it stays queryable within the process.
func (l *Listener) UniqueIDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.ids))
	copy(out, l.ids)
	return out
}

// WriteError returns the I/O error from the final write, if any. Write
// failures are infrastructure errors: the embedder reports them alongside
// listener faults, never as a test failure.
func (l *Listener) WriteError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeErr
}
