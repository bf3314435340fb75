package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// RotatingWriter is an io.Writer over a single log file that renames the
// file out of the way once it crosses maxSize, keeping at most maxFiles
// prior generations (path, path.1, path.2, ... oldest deleted).
type RotatingWriter struct {
	mu       sync.Mutex
	path     string
	maxSize  int64
	maxFiles int
	sync     bool

	file    *os.File
	written int64
}

// NewRotatingWriter opens (or creates) path and prepares rotation against
// maxSizeMB/maxFiles. Every write syncs to disk immediately so a
// concurrent `tail -f` sees records as they land.
func NewRotatingWriter(path string, maxSizeMB, maxFiles int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:     path,
		maxSize:  int64(maxSizeMB) * 1024 * 1024,
		maxFiles: maxFiles,
		sync:     true,
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

// SetImmediateSync toggles the per-write fsync. Disabling it trades
// real-time durability for throughput under heavy logging.
func (w *RotatingWriter) SetImmediateSync(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sync = enabled
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.written+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "kbserver: log rotation failed, continuing on current file: %v\n", err)
		}
	}

	n, err := w.file.Write(p)
	w.written += int64(n)
	if err == nil && w.sync {
		_ = w.file.Sync()
	}
	return n, err
}

// Close releases the underlying file handle.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

// Sync flushes buffered writes to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

func (w *RotatingWriter) openFile() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.written = info.Size()
	return nil
}

// rotate closes the current file, shifts path.N -> path.N+1 (dropping
// anything at or beyond maxFiles), moves path -> path.1, and reopens path
// fresh. Caller holds w.mu.
func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("close current log file: %w", err)
		}
		w.file = nil
	}

	generations, err := w.rotatedGenerations()
	if err != nil {
		return fmt.Errorf("list rotated generations: %w", err)
	}
	sort.Slice(generations, func(i, j int) bool { return generations[i].n > generations[j].n })

	for _, g := range generations {
		if g.n >= w.maxFiles {
			_ = os.Remove(g.path)
		}
	}
	for _, g := range generations {
		if g.n < w.maxFiles {
			_ = os.Rename(g.path, fmt.Sprintf("%s.%d", w.path, g.n+1))
		}
	}

	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, w.path+".1"); err != nil {
			return fmt.Errorf("rename current log to .1: %w", err)
		}
	}

	w.written = 0
	return w.openFile()
}

type rotatedGeneration struct {
	path string
	n    int
}

func (w *RotatingWriter) rotatedGenerations() ([]rotatedGeneration, error) {
	dir, base := filepath.Dir(w.path), filepath.Base(w.path)
	matches, err := filepath.Glob(filepath.Join(dir, base+".*"))
	if err != nil {
		return nil, err
	}

	var out []rotatedGeneration
	for _, m := range matches {
		suffix := strings.TrimPrefix(filepath.Base(m), base+".")
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		out = append(out, rotatedGeneration{path: m, n: n})
	}
	return out, nil
}
