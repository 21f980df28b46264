package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ServerLogFileName is the name of the Appium server log inside a device's
// log directory.
const ServerLogFileName = "server.log"

// RotationConfig controls when a log file is rolled over and how many old
// files are kept.
type RotationConfig struct {
	// MaxSizeMB rolls the file over once a write would push it past this
	// size. Zero disables size-based rotation.
	MaxSizeMB int
	// MaxBackups is how many rolled files (name.1 newest .. name.N oldest)
	// are kept. Zero keeps none.
	MaxBackups int
	// Compress gzips rolled files.
	Compress bool
}

// DefaultRotationConfig returns 10 MB files with three backups.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 10, MaxBackups: 3}
}

func (c RotationConfig) maxBytes() int64 {
	return int64(c.MaxSizeMB) << 20
}

// DeviceLogDir returns {logsDir}/{platform}_{device}. Separators in the
// device name are neutralized so the directory stays inside logsDir.
func DeviceLogDir(logsDir, platform, device string) string {
	name := strings.NewReplacer("/", "-", "\\", "-", "..", "-").Replace(platform + "_" + device)
	return filepath.Join(logsDir, name)
}

// OpenServerLog opens server.log in the device's log directory for one
// server launch. Output left by an earlier launch is rolled to server.log.1
// first, so each launch starts with an empty file.
func OpenServerLog(logsDir, platform, device string, config RotationConfig) (*RotatingWriter, error) {
	w, err := NewRotatingWriter(filepath.Join(DeviceLogDir(logsDir, platform, device), ServerLogFileName), config)
	if err != nil {
		return nil, err
	}
	if w.CurrentSize() > 0 {
		if err := w.Rotate(); err != nil {
			_ = w.Close()
			return nil, err
		}
	}
	fmt.Fprintf(w, "# appium launch %s\n", time.Now().Format(time.RFC3339))
	return w, nil
}

// RotatingWriter appends to a log file and rolls it over by size or on
// demand. It is safe for concurrent use.
type RotatingWriter struct {
	mu   sync.Mutex
	path string
	cfg  RotationConfig
	file *os.File
	size int64

	// compressing tracks background gzip jobs so Close can wait for them.
	compressing sync.WaitGroup
}

// NewRotatingWriter opens path for appending, creating parent directories.
func NewRotatingWriter(path string, config RotationConfig) (*RotatingWriter, error) {
	w := &RotatingWriter{path: path, cfg: config}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file, w.size = f, info.Size()
	return nil
}

// Write appends p, rolling the file over first when p would not fit.
// A failed rollover is reported on stderr and the write still goes to the
// current file.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, fmt.Errorf("log file is closed")
	}
	if limit := w.cfg.maxBytes(); limit > 0 && w.size > 0 && w.size+int64(len(p)) > limit {
		if err := w.rotateLocked(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: log rotation failed: %v\n", err)
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Rotate rolls the current file over to name.1 and reopens an empty file.
func (w *RotatingWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("log file is closed")
	}
	return w.rotateLocked()
}

func (w *RotatingWriter) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	w.file = nil

	if w.cfg.MaxBackups <= 0 {
		if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
			return w.reopenAfter(fmt.Errorf("failed to drop log file: %w", err))
		}
		return w.open()
	}

	shiftBackups(w.path, w.cfg.MaxBackups)
	first := backupName(w.path, 1)
	if err := os.Rename(w.path, first); err != nil {
		return w.reopenAfter(fmt.Errorf("failed to roll log file: %w", err))
	}
	if w.cfg.Compress {
		w.compressing.Add(1)
		go func() {
			defer w.compressing.Done()
			if err := gzipFile(first); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}()
	}
	return w.open()
}

// reopenAfter keeps the writer usable after a failed rollover.
func (w *RotatingWriter) reopenAfter(cause error) error {
	if err := w.open(); err != nil {
		return fmt.Errorf("%v; reopen: %w", cause, err)
	}
	return cause
}

func backupName(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}

// shiftBackups renames name.i (or name.i.gz) to name.i+1 from the oldest
// down and drops whatever would become name.keep+1.
func shiftBackups(path string, keep int) {
	for _, suffix := range []string{"", ".gz"} {
		_ = os.Remove(backupName(path, keep) + suffix)
	}
	for i := keep - 1; i >= 1; i-- {
		for _, suffix := range []string{"", ".gz"} {
			from := backupName(path, i) + suffix
			if _, err := os.Stat(from); err == nil {
				_ = os.Rename(from, backupName(path, i+1)+suffix)
			}
		}
	}
}

// gzipFile writes path.gz and removes path once the copy is complete.
func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("compress %s: %w", path, err)
	}
	defer func() { _ = src.Close() }()

	gzPath := path + ".gz"
	dst, err := os.Create(gzPath)
	if err != nil {
		return fmt.Errorf("compress %s: %w", path, err)
	}
	zw := gzip.NewWriter(dst)
	_, err = io.Copy(zw, src)
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(gzPath)
		return fmt.Errorf("compress %s: %w", path, err)
	}
	return os.Remove(path)
}

// Sync flushes the current file.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close closes the file and waits for pending compression. Closing twice is
// a no-op.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	f := w.file
	w.file = nil
	w.mu.Unlock()

	w.compressing.Wait()
	if f == nil {
		return nil
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	return f.Close()
}

// CurrentSize returns the size of the current file in bytes.
func (w *RotatingWriter) CurrentSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// FilePath returns the path of the current file.
func (w *RotatingWriter) FilePath() string {
	return w.path
}
