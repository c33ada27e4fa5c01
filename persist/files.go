// Package persist stores a filesystem tree in three backing files, one per
// node kind, and decides when the tree is written.
package persist

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/brettbedarf/memfs/codec"
	"github.com/brettbedarf/memfs/config"
	"github.com/brettbedarf/memfs/filesystem"
	"github.com/brettbedarf/memfs/internal/util"
	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
)

// Files is the set of backing files holding the encoded streams.
type Files struct {
	FilesPath string
	DirsPath  string
	LinksPath string

	// OnSave, if set, is called after every Save with its duration and result.
	OnSave func(took time.Duration, err error)

	logger util.Logger
}

// NewFiles returns the backing files configured by cfg.
func NewFiles(cfg *config.Config) *Files {
	files, dirs, links := cfg.StatePaths()
	return &Files{
		FilesPath: files,
		DirsPath:  dirs,
		LinksPath: links,
		logger:    util.GetLogger("Persist"),
	}
}

func (f *Files) paths() []string {
	return []string{f.FilesPath, f.DirsPath, f.LinksPath}
}

// Exists reports whether any of the backing files is present.
func (f *Files) Exists() bool {
	for _, p := range f.paths() {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}

// Load decodes the backing files into a new store. A missing file is read
// as an empty stream.
func (f *Files) Load() (s *filesystem.Store, err error) {
	readers := make([]io.Reader, 3)
	var total uint64
	for i, p := range f.paths() {
		file, openErr := os.Open(p)
		if errors.Is(openErr, fs.ErrNotExist) {
			continue
		}
		if openErr != nil {
			err = multierr.Append(err, fmt.Errorf("open %s: %w", p, openErr))
			continue
		}
		defer multierr.AppendInvoke(&err, multierr.Close(file))
		if info, statErr := file.Stat(); statErr == nil {
			total += uint64(info.Size())
		}
		readers[i] = file
	}
	if err != nil {
		return nil, err
	}

	s, err = codec.Decode(readers[0], readers[1], readers[2])
	if err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if orphans := s.Orphans(); len(orphans) > 0 {
		f.logger.Warn().Strs("paths", orphans).Msg("Loaded nodes missing from their parent's listing")
	}
	f.logger.Info().
		Int("nodes", s.Len()).
		Str("size", humanize.Bytes(total)).
		Msg("Loaded filesystem state")
	return s, nil
}

// Save rewrites all three backing files from s.
func (f *Files) Save(s *filesystem.Store) (err error) {
	start := time.Now()
	defer func() {
		if f.OnSave != nil {
			f.OnSave(time.Since(start), err)
		}
	}()

	writers := make([]*os.File, 0, 3)
	for _, p := range f.paths() {
		file, openErr := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if openErr != nil {
			err = multierr.Append(err, fmt.Errorf("open %s: %w", p, openErr))
			continue
		}
		defer multierr.AppendInvoke(&err, multierr.Close(file))
		writers = append(writers, file)
	}
	if err != nil {
		return err
	}

	if encErr := codec.Encode(s, writers[0], writers[1], writers[2]); encErr != nil {
		return fmt.Errorf("save state: %w", encErr)
	}
	return nil
}

// Remove deletes every backing file that exists.
func (f *Files) Remove() error {
	var err error
	for _, p := range f.paths() {
		if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = multierr.Append(err, rmErr)
		}
	}
	return err
}
