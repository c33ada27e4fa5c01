package filesystem

import (
	"slices"
	"sync"
	"syscall"

	"github.com/brettbedarf/memfs/config"
	"github.com/brettbedarf/memfs/internal/util"
)

// Persister stores the whole tree after every successful mutation.
// Persist is called with the store lock held; implementations must not
// keep s (or slices reachable from it) after returning.
type Persister interface {
	Persist(s *Store) error
}

// Recorder receives handler outcomes, e.g. for metrics.
type Recorder interface {
	ObserveOp(op string, err error)
	SetNodes(counts map[NodeKind]int)
}

type nopPersister struct{}

func (nopPersister) Persist(*Store) error { return nil }

type nopRecorder struct{}

func (nopRecorder) ObserveOp(string, error)   {}
func (nopRecorder) SetNodes(map[NodeKind]int) {}

// Attr is the result of [FileSystem.GetAttr].
type Attr struct {
	Kind NodeKind
	Size uint64
}

// Mode returns the type bits plus the fixed permissions of the kind.
func (a Attr) Mode() uint32 {
	switch a.Kind {
	case KindDir:
		return a.Kind.Mode() | 0o755
	case KindFile:
		return a.Kind.Mode() | 0o644
	default:
		return a.Kind.Mode() | 0o777
	}
}

// FileSystem implements the filesystem operations over a [Store].
// Every exported method holds one store-wide lock for its whole duration so
// each call is atomic with respect to every other call. Errors are
// syscall.Errno values.
type FileSystem struct {
	cfg       *config.Config
	store     *Store
	persister Persister
	recorder  Recorder
	logger    util.Logger
	mu        sync.Mutex
}

// NewFS creates a FileSystem serving store. A nil store starts an empty tree
// holding only the root directory.
func NewFS(cfg *config.Config, store *Store) *FileSystem {
	if store == nil {
		store = NewStore()
	}
	return &FileSystem{
		cfg:       cfg,
		store:     store,
		persister: nopPersister{},
		recorder:  nopRecorder{},
		logger:    util.GetLogger("FileSystem"),
	}
}

// SetPersister replaces the persister used after each mutation.
func (fs *FileSystem) SetPersister(p Persister) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.persister = p
}

// SetRecorder replaces the outcome recorder and publishes the current counts.
func (fs *FileSystem) SetRecorder(r Recorder) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.recorder = r
	r.SetNodes(fs.store.Counts())
}

// Snapshot returns a deep copy of the store.
func (fs *FileSystem) Snapshot() *Store {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.store.Clone()
}

// Len returns the number of nodes, root included.
func (fs *FileSystem) Len() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.store.Len()
}

// GetAttr reports the kind and size of the node at p. A symlink's size is
// the length of its target node's name.
func (fs *FileSystem) GetAttr(p string) (Attr, error) {
	ctx := fs.begin("getattr")
	defer ctx.Close()

	n, ok := fs.store.Get(p)
	if !ok {
		return Attr{}, ctx.Fail(syscall.ENOENT)
	}
	switch n := n.(type) {
	case *Dir:
		return Attr{Kind: KindDir}, nil
	case *File:
		return Attr{Kind: KindFile, Size: uint64(len(n.Data))}, nil
	case *Symlink:
		var size uint64
		if t, ok := fs.store.Get(n.Target); ok {
			size = uint64(len(t.Name()))
		}
		return Attr{Kind: KindSymlink, Size: size}, nil
	}
	return Attr{}, ctx.Fail(syscall.EIO)
}

// Read copies up to len(dest) bytes of the file at p starting at offset.
// Reading at or past the end returns 0 bytes. A symlink reads its target's
// data; a target that is not a regular file reads as empty.
func (fs *FileSystem) Read(p string, dest []byte, offset int64) (int, error) {
	ctx := fs.begin("read")
	defer ctx.Close()

	n, ok := fs.store.Get(p)
	if !ok {
		return 0, ctx.Fail(syscall.ENOENT)
	}
	var data []byte
	switch n := n.(type) {
	case *Dir:
		return 0, ctx.Fail(syscall.EISDIR)
	case *File:
		data = n.Data
	case *Symlink:
		t, ok := fs.store.Get(n.Target)
		if !ok {
			return 0, ctx.Fail(syscall.ENOENT)
		}
		if f, ok := t.(*File); ok {
			data = f.Data
		}
	}
	if offset < 0 {
		return 0, ctx.Fail(syscall.EINVAL)
	}
	if len(data) == 0 || offset >= int64(len(data)) {
		return 0, nil
	}
	return copy(dest, data[offset:]), nil
}

// Write inserts data into the file at p (or the file a symlink at p points
// to). When the file is empty or offset is at or past its end the bytes are
// appended; otherwise they are inserted at offset and the existing tail
// shifts right. Existing bytes are never overwritten.
func (fs *FileSystem) Write(p string, data []byte, offset int64) (int, error) {
	ctx := fs.begin("write")
	defer ctx.Close()

	f, err := fs.writableFile(p)
	if err != nil {
		return 0, ctx.Fail(err)
	}
	if offset < 0 {
		return 0, ctx.Fail(syscall.EINVAL)
	}
	if len(f.Data)+len(data) > fs.cfg.MaxFileSize {
		fs.logger.Debug().Str("path", p).Int("size", len(f.Data)).Int("write", len(data)).Msg("Write exceeds max file size")
		return 0, ctx.Fail(syscall.ENOSPC)
	}

	prev := f.Data
	// clipped so the append/insert below never writes into prev's backing array
	cur := slices.Clip(f.Data)
	if len(cur) == 0 || offset >= int64(len(cur)) {
		f.Data = append(cur, data...)
	} else {
		f.Data = slices.Insert(cur, int(offset), data...)
	}
	ctx.AddUndo(func() { f.Data = prev })

	if err := ctx.Commit(); err != nil {
		return 0, err
	}
	return len(data), nil
}

// writableFile resolves p, following one symlink hop, to a regular file.
func (fs *FileSystem) writableFile(p string) (*File, error) {
	n, ok := fs.store.Get(p)
	if !ok {
		return nil, syscall.ENOENT
	}
	if s, ok := n.(*Symlink); ok {
		if n, ok = fs.store.Get(s.Target); !ok {
			return nil, syscall.ENOENT
		}
	}
	// a symlink target that is itself a symlink is not followed again
	if f, ok := n.(*File); ok {
		return f, nil
	}
	return nil, syscall.EISDIR
}

// ReadDir lists ".", ".." and the children of the directory at p in
// creation order. Anything that is not a directory reports ENOENT.
func (fs *FileSystem) ReadDir(p string) ([]string, error) {
	ctx := fs.begin("readdir")
	defer ctx.Close()

	n, ok := fs.store.Get(p)
	if !ok {
		return nil, ctx.Fail(syscall.ENOENT)
	}
	d, ok := n.(*Dir)
	if !ok {
		return nil, ctx.Fail(syscall.ENOENT)
	}
	entries := make([]string, 0, len(d.Children)+2)
	entries = append(entries, ".", "..")
	return append(entries, d.Children...), nil
}

// Mkdir creates an empty directory at p.
func (fs *FileSystem) Mkdir(p string) error {
	ctx := fs.begin("mkdir")
	defer ctx.Close()
	return fs.add(ctx, p, NewDir(NameOf(p)))
}

// Mknod creates an empty regular file at p.
func (fs *FileSystem) Mknod(p string) error {
	ctx := fs.begin("mknod")
	defer ctx.Close()
	return fs.add(ctx, p, NewFile(NameOf(p), nil))
}

// Create creates an empty regular file at p and opens it.
func (fs *FileSystem) Create(p string) error {
	ctx := fs.begin("create")
	defer ctx.Close()
	if err := fs.add(ctx, p, NewFile(NameOf(p), nil)); err != nil {
		return err
	}
	return ctx.Fail(fs.open(p))
}

// Symlink creates a link at linkPath pointing to target. The target is not
// required to exist.
func (fs *FileSystem) Symlink(target, linkPath string) error {
	ctx := fs.begin("symlink")
	defer ctx.Close()
	return fs.add(ctx, linkPath, NewSymlink(NameOf(linkPath), target))
}

// add inserts n at p and links it into its parent.
func (fs *FileSystem) add(ctx *opContext, p string, n Node) error {
	if _, ok := fs.store.Get(p); ok {
		return ctx.Fail(syscall.EEXIST)
	}
	name := NameOf(p)
	if len(name) > fs.cfg.MaxNameLen {
		return ctx.Fail(syscall.ENAMETOOLONG)
	}
	if name == "" {
		return ctx.Fail(syscall.EINVAL)
	}
	parent := ParentOf(p)
	if err := fs.store.Link(parent, name); err != nil {
		return ctx.Fail(err)
	}
	fs.store.Put(p, n)
	ctx.AddUndo(func() {
		fs.store.Delete(p)
		fs.store.Unlink(parent, name)
	})
	fs.logger.Debug().Str("path", p).Stringer("kind", n.Kind()).Msg("Added node")
	return ctx.Commit()
}

// Open checks that p can be opened. No per-open state is kept; every call
// resolves its path again.
func (fs *FileSystem) Open(p string) error {
	ctx := fs.begin("open")
	defer ctx.Close()
	return ctx.Fail(fs.open(p))
}

func (fs *FileSystem) open(p string) error {
	n, ok := fs.store.Get(p)
	if !ok {
		return syscall.ENOENT
	}
	if n.Kind() == KindDir {
		return syscall.EISDIR
	}
	return nil
}

// Readlink copies the target of the symlink at p into dest, truncated to
// len(dest)-1 bytes and NUL terminated. It returns the number of target
// bytes copied.
func (fs *FileSystem) Readlink(p string, dest []byte) (int, error) {
	ctx := fs.begin("readlink")
	defer ctx.Close()

	s, err := fs.symlink(p)
	if err != nil {
		return 0, ctx.Fail(err)
	}
	if len(dest) == 0 {
		return 0, nil
	}
	n := copy(dest[:len(dest)-1], s.Target)
	dest[n] = 0
	return n, nil
}

// Target returns the full target of the symlink at p. The FUSE adapter uses
// it rather than [FileSystem.Readlink]: go-fuse's Readlink returns the target
// as a []byte and the kernel sizes its own buffer, so the truncating,
// NUL-terminated form is never reached from a mount.
func (fs *FileSystem) Target(p string) (string, error) {
	ctx := fs.begin("readlink")
	defer ctx.Close()

	s, err := fs.symlink(p)
	if err != nil {
		return "", ctx.Fail(err)
	}
	return s.Target, nil
}

func (fs *FileSystem) symlink(p string) (*Symlink, error) {
	n, ok := fs.store.Get(p)
	if !ok {
		return nil, syscall.ENOENT
	}
	s, ok := n.(*Symlink)
	if !ok {
		return nil, syscall.ENOENT
	}
	return s, nil
}
