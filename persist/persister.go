package persist

import (
	"sync"
	"time"

	"github.com/brettbedarf/memfs/config"
	"github.com/brettbedarf/memfs/filesystem"
	"github.com/brettbedarf/memfs/internal/util"
)

// Persister is a [filesystem.Persister] that must be closed on shutdown.
type Persister interface {
	filesystem.Persister
	// Close makes every accepted change durable and stops background work.
	Close() error
}

// New returns the persister selected by cfg: [WriteBack] when
// cfg.WriteBack is set, [WriteThrough] otherwise.
func New(cfg *config.Config, files *Files) Persister {
	if cfg.WriteBack {
		interval := time.Duration(cfg.FlushInterval * float64(time.Second))
		return NewWriteBack(files, interval)
	}
	return NewWriteThrough(files)
}

// WriteThrough saves the whole tree synchronously on every mutation, so a
// change is durable before the handler returns.
type WriteThrough struct {
	files *Files
}

func NewWriteThrough(files *Files) *WriteThrough {
	return &WriteThrough{files: files}
}

func (w *WriteThrough) Persist(s *filesystem.Store) error {
	return w.files.Save(s)
}

func (w *WriteThrough) Close() error { return nil }

// WriteBack coalesces mutations and saves the latest tree from a background
// flusher every interval. A change is durable only after the next flush;
// Close performs a final one.
type WriteBack struct {
	files    *Files
	interval time.Duration
	logger   util.Logger

	mu      sync.Mutex
	pending *filesystem.Store
	closed  bool

	flushMu   sync.Mutex
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewWriteBack starts a flusher saving to files every interval.
// A non-positive interval uses [config.DefaultFlushInterval].
func NewWriteBack(files *Files, interval time.Duration) *WriteBack {
	if interval <= 0 {
		interval = time.Duration(config.DefaultFlushInterval * float64(time.Second))
	}
	w := &WriteBack{
		files:    files,
		interval: interval,
		logger:   util.GetLogger("WriteBack"),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.flushLoop()
	return w
}

// Persist records a deep copy of s for the next flush. After Close it saves
// synchronously instead.
func (w *WriteBack) Persist(s *filesystem.Store) error {
	snap := s.Clone()
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return w.files.Save(snap)
	}
	w.pending = snap
	w.mu.Unlock()
	return nil
}

func (w *WriteBack) flushLoop() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.quit:
			return
		case <-ticker.C:
			if err := w.Flush(); err != nil {
				w.logger.Error().Err(err).Msg("Background flush failed")
			}
		}
	}
}

// Flush saves the pending tree, if any. On failure the tree stays pending
// unless a newer one arrived meanwhile.
func (w *WriteBack) Flush() error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	s := w.pending
	w.pending = nil
	w.mu.Unlock()
	if s == nil {
		return nil
	}

	if err := w.files.Save(s); err != nil {
		w.mu.Lock()
		if w.pending == nil {
			w.pending = s
		}
		w.mu.Unlock()
		return err
	}
	w.logger.Trace().Int("nodes", s.Len()).Msg("Flushed")
	return nil
}

// Close stops the flusher and flushes whatever is still pending.
func (w *WriteBack) Close() error {
	w.closeOnce.Do(func() {
		close(w.quit)
		<-w.done
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
	})
	return w.Flush()
}
