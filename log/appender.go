package log

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/d4xyjen/jedi/config"
)

// LogAppender writes finished log lines somewhere.
type LogAppender interface {
	Write(p []byte) (int, error)
	// Refresh flushes anything the appender buffered.
	Refresh()
}

// ConsoleAppender writes to stdout.
type ConsoleAppender struct {
	mu sync.Mutex
}

func NewConsoleAppender() *ConsoleAppender {
	return &ConsoleAppender{}
}

func (a *ConsoleAppender) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return os.Stdout.Write(p)
}

func (a *ConsoleAppender) Refresh() {}

const (
	defaultAsyncCacheSize    = 1024
	defaultAsyncWriteMillSec = 200
	averageLineSize          = 256
)

// FileAppender appends to LogPath and rotates the file once it grows past FileSplitMB.
// In async mode lines are buffered in memory and written by a background goroutine;
// a full buffer is flushed by the writer that filled it.
type FileAppender struct {
	path       string
	splitBytes atomic.Int64

	mu      sync.Mutex
	file    *os.File
	size    int64
	pending bytes.Buffer

	async      bool
	cacheBytes int
	notify     chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
}

// NewFileAppender opens cfg.LogPath. Open failures are reported on stderr and retried on write.
func NewFileAppender(cfg *LogCfg) *FileAppender {
	a := &FileAppender{
		path:   cfg.LogPath,
		async:  cfg.IsAsync,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	a.splitBytes.Store(int64(cfg.FileSplitMB) << 20)

	if err := a.open(); err != nil {
		fmt.Fprintf(os.Stderr, "log: open %s failed: %v\n", a.path, err)
	}

	if a.async {
		cacheSize := cfg.AsyncCacheSize
		if cacheSize <= 0 {
			cacheSize = defaultAsyncCacheSize
		}
		a.cacheBytes = cacheSize * averageLineSize

		interval := time.Duration(cfg.AsyncWriteMillSec) * time.Millisecond
		if interval <= 0 {
			interval = defaultAsyncWriteMillSec * time.Millisecond
		}
		go a.flushLoop(interval)
	}
	return a
}

// open must be called with a.mu held or before the appender is shared.
func (a *FileAppender) open() error {
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	a.file = f
	a.size = info.Size()
	return nil
}

func (a *FileAppender) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.async {
		return a.writeLocked(p)
	}

	// p belongs to a pooled event, so it is copied here
	a.pending.Write(p)
	if a.pending.Len() >= a.cacheBytes {
		a.flushLocked()
		return len(p), nil
	}

	select {
	case a.notify <- struct{}{}:
	default:
	}
	return len(p), nil
}

func (a *FileAppender) writeLocked(p []byte) (int, error) {
	if a.file == nil {
		if err := a.open(); err != nil {
			return 0, err
		}
	}

	if limit := a.splitBytes.Load(); limit > 0 && a.size > 0 && a.size+int64(len(p)) > limit {
		if err := a.rotateLocked(); err != nil {
			fmt.Fprintf(os.Stderr, "log: rotate %s failed: %v\n", a.path, err)
		}
	}

	n, err := a.file.Write(p)
	a.size += int64(n)
	return n, err
}

func (a *FileAppender) rotateLocked() error {
	if err := a.file.Close(); err != nil {
		return err
	}
	a.file = nil

	rotated := fmt.Sprintf("%s.%s", a.path, time.Now().Format("20060102-150405.000"))
	if err := os.Rename(a.path, rotated); err != nil {
		return err
	}
	return a.open()
}

func (a *FileAppender) flushLocked() {
	if a.pending.Len() == 0 {
		return
	}
	if _, err := a.writeLocked(a.pending.Bytes()); err != nil {
		fmt.Fprintf(os.Stderr, "log: write %s failed: %v\n", a.path, err)
	}
	a.pending.Reset()
}

func (a *FileAppender) flushLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
		case <-a.notify:
		}
		a.Refresh()
	}
}

// Refresh writes the lines buffered so far. It does not wait for later writes.
func (a *FileAppender) Refresh() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushLocked()
}

// Close flushes and closes the file.
func (a *FileAppender) Close() error {
	a.closeOnce.Do(func() { close(a.done) })

	a.mu.Lock()
	defer a.mu.Unlock()
	a.flushLocked()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// OnConfigChanged picks up a new rotation threshold.
func (a *FileAppender) OnConfigChanged(configName string, newConfig, _ config.Config) error {
	if configName != configNameLogger {
		return nil
	}
	cfg, ok := newConfig.(*LogCfg)
	if !ok {
		return nil
	}
	a.splitBytes.Store(int64(cfg.FileSplitMB) << 20)
	return nil
}
