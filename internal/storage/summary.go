package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/trafficlab/internal/types"
)

// SummaryWriter appends cycle results as JSON lines. Writes are handed to a single
// background goroutine; unlike a best-effort log, a queued result is never dropped.
type SummaryWriter struct {
	path    string
	logger  *slog.Logger
	out     *lumberjack.Logger
	writeCh chan types.CycleResult
	wg      sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	writeErr error
}

// NewSummaryWriter opens (or appends to) the summary file at path.
func NewSummaryWriter(path string, bufferSize, maxSizeMB int, logger *slog.Logger) (*SummaryWriter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("summary writer: mkdir: %w", err)
	}
	if bufferSize < 1 {
		bufferSize = 1
	}
	w := &SummaryWriter{
		path:   path,
		logger: logger,
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: 100,
			MaxAge:     30,
			Compress:   false,
		},
		writeCh: make(chan types.CycleResult, bufferSize),
	}

	w.wg.Add(1)
	go w.writeLoop()

	logger.Info("summary file opened", "file", path)
	return w, nil
}

func (w *SummaryWriter) Path() string { return w.path }

// Write queues a result. It blocks while the buffer is full and fails only after Close.
func (w *SummaryWriter) Write(result types.CycleResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("summary writer is closed")
	}
	w.writeCh <- result
	return nil
}

// Close writes everything still queued and closes the file. It returns the first
// write error seen, if any.
func (w *SummaryWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.writeCh)
	w.mu.Unlock()

	w.wg.Wait()

	if err := w.out.Close(); err != nil && w.writeErr == nil {
		w.writeErr = err
	}
	return w.writeErr
}

func (w *SummaryWriter) writeLoop() {
	defer w.wg.Done()
	for result := range w.writeCh {
		w.writeRecord(result)
	}
}

func (w *SummaryWriter) writeRecord(result types.CycleResult) {
	data, err := json.Marshal(result)
	if err != nil {
		w.logger.Error("failed to marshal cycle result", "cycle", result.CycleIndex, "error", err)
		w.keepErr(err)
		return
	}
	if _, err := w.out.Write(append(data, '\n')); err != nil {
		w.logger.Error("failed to write cycle result", "cycle", result.CycleIndex, "error", err)
		w.keepErr(err)
	}
}

// keepErr is only called from the write loop, which Close waits for.
func (w *SummaryWriter) keepErr(err error) {
	if w.writeErr == nil {
		w.writeErr = err
	}
}
