package server

import (
	"fmt"
	"sync"

	"github.com/brettbedarf/memfs/config"
	"github.com/brettbedarf/memfs/filesystem"
	mfuse "github.com/brettbedarf/memfs/fuse"
	"github.com/brettbedarf/memfs/internal/util"
	"github.com/brettbedarf/memfs/metrics"
	"github.com/brettbedarf/memfs/persist"
	"github.com/google/uuid"
	"github.com/hanwen/go-fuse/v2/fuse"
	"go.uber.org/multierr"
)

// unmounter is the part of [fuse.Server] needed at shutdown.
type unmounter interface {
	Unmount() error
}

// MemFs contains the core filesystem state and operations with abstractions
// over the underlying FUSE wire protocol implementation
type MemFs struct {
	*filesystem.FileSystem
	cfg       *config.Config
	files     *persist.Files
	persister persist.Persister
	metrics   *metrics.Collector
	server    unmounter
	sessionID string
	logger    util.Logger

	closeOnce sync.Once
	closeErr  error
}

// New creates a MemFs instance given your config. If any state file exists
// the tree is loaded from it; otherwise the filesystem starts with only the
// root directory.
func New(cfg *config.Config) (*MemFs, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sessionID := uuid.NewString()
	logger := util.GetLogger("MemFs").With().Str("session", sessionID).Logger()

	files := persist.NewFiles(cfg)
	var store *filesystem.Store
	if files.Exists() {
		s, err := files.Load()
		if err != nil {
			return nil, fmt.Errorf("restore state from %s: %w", cfg.StateDir, err)
		}
		store = s
		logger.Info().Str("dir", cfg.StateDir).Int("nodes", s.Len()).Msg("Resumed from saved state")
	}

	collector := metrics.NewCollector()
	files.OnSave = collector.ObserveSave

	fs := filesystem.NewFS(cfg, store)
	fs.SetRecorder(collector)
	p := persist.New(cfg, files)
	fs.SetPersister(p)

	return &MemFs{
		FileSystem: fs,
		cfg:        cfg,
		files:      files,
		persister:  p,
		metrics:    collector,
		sessionID:  sessionID,
		logger:     logger,
	}, nil
}

// SessionID identifies this instance in logs.
func (fs *MemFs) SessionID() string {
	return fs.sessionID
}

// Metrics returns the collector fed by every handler call.
func (fs *MemFs) Metrics() *metrics.Collector {
	return fs.metrics
}

// Serve mounts and serves the filesystem at the given mountPoint.
func (fs *MemFs) Serve(mountPoint string) error {
	raw := mfuse.NewFuseRaw(fs.cfg, fs.FileSystem)
	opts := fs.cfg.MountOptions
	srv, err := fuse.NewServer(raw, mountPoint, &fuse.MountOptions{
		Name:               opts.Name,
		FsName:             opts.FsName,
		AllowOther:         opts.AllowOther,
		SingleThreaded:     opts.SingleThreaded,
		DisableReadDirPlus: true,
		Debug:              opts.Debug,
		Logger:             util.NewLogLogger("FuseServer", util.TraceLevel),
	})
	if err != nil {
		return err
	}
	fs.server = srv

	go srv.Serve()
	if err := srv.WaitMount(); err != nil {
		return err
	}
	fs.logger.Info().Str("mountpoint", mountPoint).Msg("Mounted")
	return nil
}

// Unmount unmounts the filesystem, then shuts persistence down. If the
// kernel refuses the unmount (e.g. EBUSY) pending state is still flushed,
// and the state files are kept so the next start resumes from them.
func (fs *MemFs) Unmount() error {
	if fs.server != nil {
		if err := fs.server.Unmount(); err != nil {
			fs.logger.Error().Err(err).Msg("Unmount failed; flushing state and keeping it")
			return multierr.Append(fmt.Errorf("unmount: %w", err), fs.close(true))
		}
	}
	return fs.Close()
}

// Close flushes any pending write-back state and, unless KeepState is set,
// removes the state files. Later calls return the first result.
func (fs *MemFs) Close() error {
	return fs.close(fs.cfg.KeepState)
}

func (fs *MemFs) close(keepState bool) error {
	fs.closeOnce.Do(func() {
		if err := fs.persister.Close(); err != nil {
			fs.closeErr = fmt.Errorf("flush state: %w", err)
			return
		}
		if keepState {
			fs.logger.Info().Str("dir", fs.cfg.StateDir).Msg("Keeping state files")
			return
		}
		if err := fs.files.Remove(); err != nil {
			fs.closeErr = fmt.Errorf("remove state: %w", err)
			return
		}
		fs.logger.Debug().Msg("Removed state files")
	})
	return fs.closeErr
}
