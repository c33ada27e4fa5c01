// Package fuse bridges the go-fuse raw wire protocol to a
// [filesystem.FileSystem].
package fuse

import (
	"time"

	"github.com/brettbedarf/memfs/config"
	"github.com/brettbedarf/memfs/filesystem"
	"github.com/brettbedarf/memfs/internal/util"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// FuseRaw implements the low-level FUSE wire protocol.
// It serves as protocol adapter between FUSE and the path-keyed filesystem:
// kernel NodeIDs are resolved to paths through a [Registry] and every call
// is forwarded to the matching handler.
// See https://www.man7.org/linux//man-pages/man4/fuse.4.html
type FuseRaw struct {
	fuse.RawFileSystem
	fs       *filesystem.FileSystem
	cfg      *config.Config
	registry *Registry
	server   *fuse.Server
	mounted  time.Time
	logger   util.Logger
}

func NewFuseRaw(cfg *config.Config, fs *filesystem.FileSystem) *FuseRaw {
	return &FuseRaw{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		fs:            fs,
		cfg:           cfg,
		registry:      NewRegistry(),
		mounted:       time.Now(),
		logger:        util.GetLogger("Fuse"),
	}
}

// Registry returns the NodeID registry.
func (r *FuseRaw) Registry() *Registry {
	return r.registry
}

func (r *FuseRaw) Init(s *fuse.Server) {
	r.logger.Debug().Msg("FUSE initialized")
	r.server = s
}

func (r *FuseRaw) OnUnmount() {
	r.logger.Info().Msg("FUSE unmounted")
}

func (r *FuseRaw) String() string {
	return "memfs"
}

// path resolves a NodeID to its store path.
func (r *FuseRaw) path(id uint64) (string, fuse.Status) {
	p, ok := r.registry.Path(id)
	if !ok {
		r.logger.Debug().Uint64("nodeID", id).Msg("Unknown NodeID")
		return "", fuse.ENOENT
	}
	return p, fuse.OK
}

// childPath resolves the path of name inside the directory parent.
func (r *FuseRaw) childPath(parent uint64, name string) (string, fuse.Status) {
	dir, st := r.path(parent)
	if !st.Ok() {
		return "", st
	}
	return filesystem.JoinPath(dir, name), fuse.OK
}

// fillAttr writes the attributes of the node at p into out.
func (r *FuseRaw) fillAttr(p string, ino uint64, out *fuse.Attr) fuse.Status {
	a, err := r.fs.GetAttr(p)
	if err != nil {
		return toStatus(err)
	}
	*out = newAttr(ino, a, r.mounted)
	return fuse.OK
}

// entry fills an entry reply for p and counts it as one kernel lookup.
func (r *FuseRaw) entry(p string, out *fuse.EntryOut) fuse.Status {
	a, err := r.fs.GetAttr(p)
	if err != nil {
		return toStatus(err)
	}
	id := r.registry.Ref(p)
	out.NodeId = id
	out.Attr = newAttr(id, a, r.mounted)
	out.SetEntryTimeout(seconds(r.cfg.EntryTimeout))
	out.SetAttrTimeout(seconds(r.cfg.AttrTimeout))
	return fuse.OK
}

// Lookup is called by the kernel when the VFS wants to know
// about a file inside a directory. Many lookup calls can
// occur in parallel, but only one call happens for each (dir,
// name) pair.
func (r *FuseRaw) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	r.logger.Trace().Uint64("parent", header.NodeId).Str("name", name).Msg("Lookup called")
	p, st := r.childPath(header.NodeId, name)
	if !st.Ok() {
		return st
	}
	return r.entry(p, out)
}

// Forget is called when the kernel discards entries from its
// dentry cache. This happens on unmount, and when the kernel
// is short on memory. Since it is not guaranteed to occur at
// any moment, and since there is no return value, Forget
// should not do I/O, as there is no channel to report back
// I/O errors.
func (r *FuseRaw) Forget(nodeid, nlookup uint64) {
	r.logger.Trace().Uint64("nodeID", nodeid).Uint64("nlookup", nlookup).Msg("Forget called")
	r.registry.Forget(nodeid, nlookup)
}

func (r *FuseRaw) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	p, st := r.path(input.NodeId)
	if !st.Ok() {
		return st
	}
	if st := r.fillAttr(p, input.NodeId, &out.Attr); !st.Ok() {
		return st
	}
	out.SetTimeout(seconds(r.cfg.AttrTimeout))
	return fuse.OK
}

// SetAttr changes nothing: nodes carry no mutable metadata and files
// cannot be truncated. Mode and time changes report the current attributes
// so that chmod, touch and friends succeed. A size change is refused with
// ENOSYS, which makes O_TRUNC on a non-empty file fail instead of leaving
// the old bytes behind.
func (r *FuseRaw) SetAttr(cancel <-chan struct{}, input *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	r.logger.Trace().Uint64("nodeID", input.NodeId).Uint32("valid", input.Valid).Msg("SetAttr called")
	p, st := r.path(input.NodeId)
	if !st.Ok() {
		return st
	}
	if st := r.fillAttr(p, input.NodeId, &out.Attr); !st.Ok() {
		return st
	}
	if input.Valid&fuse.FATTR_SIZE != 0 && input.Size != out.Attr.Size {
		r.logger.Debug().Str("path", p).Uint64("size", out.Attr.Size).Uint64("want", input.Size).Msg("Truncate not supported")
		return fuse.ENOSYS
	}
	out.SetTimeout(seconds(r.cfg.AttrTimeout))
	return fuse.OK
}

func (r *FuseRaw) Mkdir(cancel <-chan struct{}, input *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
	p, st := r.childPath(input.NodeId, name)
	if !st.Ok() {
		return st
	}
	if err := r.fs.Mkdir(p); err != nil {
		return toStatus(err)
	}
	return r.entry(p, out)
}

// Mknod always creates a regular file; the requested type bits are ignored.
func (r *FuseRaw) Mknod(cancel <-chan struct{}, input *fuse.MknodIn, name string, out *fuse.EntryOut) fuse.Status {
	p, st := r.childPath(input.NodeId, name)
	if !st.Ok() {
		return st
	}
	if err := r.fs.Mknod(p); err != nil {
		return toStatus(err)
	}
	return r.entry(p, out)
}

func (r *FuseRaw) Create(cancel <-chan struct{}, input *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	p, st := r.childPath(input.NodeId, name)
	if !st.Ok() {
		return st
	}
	if err := r.fs.Create(p); err != nil {
		return toStatus(err)
	}
	out.OpenFlags = fuse.FOPEN_DIRECT_IO
	return r.entry(p, &out.EntryOut)
}

func (r *FuseRaw) Symlink(cancel <-chan struct{}, header *fuse.InHeader, pointedTo string, linkName string, out *fuse.EntryOut) fuse.Status {
	p, st := r.childPath(header.NodeId, linkName)
	if !st.Ok() {
		return st
	}
	if err := r.fs.Symlink(pointedTo, p); err != nil {
		return toStatus(err)
	}
	return r.entry(p, out)
}

func (r *FuseRaw) Readlink(cancel <-chan struct{}, header *fuse.InHeader) ([]byte, fuse.Status) {
	p, st := r.path(header.NodeId)
	if !st.Ok() {
		return nil, st
	}
	target, err := r.fs.Target(p)
	if err != nil {
		return nil, toStatus(err)
	}
	return []byte(target), fuse.OK
}

// Open keeps no per-handle state. Writes insert rather than overwrite, so
// the page cache is bypassed.
func (r *FuseRaw) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	p, st := r.path(input.NodeId)
	if !st.Ok() {
		return st
	}
	if err := r.fs.Open(p); err != nil {
		return toStatus(err)
	}
	out.OpenFlags = fuse.FOPEN_DIRECT_IO
	return fuse.OK
}

func (r *FuseRaw) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	p, st := r.path(input.NodeId)
	if !st.Ok() {
		return nil, st
	}
	if int(input.Size) < len(buf) {
		buf = buf[:input.Size]
	}
	n, err := r.fs.Read(p, buf, int64(input.Offset))
	if err != nil {
		return nil, toStatus(err)
	}
	return fuse.ReadResultData(buf[:n]), fuse.OK
}

func (r *FuseRaw) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	p, st := r.path(input.NodeId)
	if !st.Ok() {
		return 0, st
	}
	n, err := r.fs.Write(p, data, int64(input.Offset))
	if err != nil {
		return 0, toStatus(err)
	}
	return uint32(n), fuse.OK
}

func (r *FuseRaw) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {}

func (r *FuseRaw) Flush(cancel <-chan struct{}, input *fuse.FlushIn) fuse.Status {
	return fuse.OK
}

func (r *FuseRaw) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	p, st := r.path(input.NodeId)
	if !st.Ok() {
		return st
	}
	a, err := r.fs.GetAttr(p)
	if err != nil {
		return toStatus(err)
	}
	if a.Kind != filesystem.KindDir {
		return fuse.ENOTDIR
	}
	return fuse.OK
}

// ReadDir lists the directory starting at input.Offset, the index of the
// first entry not yet returned. Entries stop when out is full; the kernel
// calls again with the next offset.
func (r *FuseRaw) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	r.logger.Trace().Uint64("nodeID", input.NodeId).Uint64("offset", input.Offset).Msg("ReadDir called")
	p, st := r.path(input.NodeId)
	if !st.Ok() {
		return st
	}
	names, err := r.fs.ReadDir(p)
	if err != nil {
		return toStatus(err)
	}

	for i := input.Offset; i < uint64(len(names)); i++ {
		name := names[i]
		e := fuse.DirEntry{Name: name, Off: i + 1}
		switch name {
		case ".":
			e.Mode = filesystem.KindDir.Mode()
			e.Ino = input.NodeId
		case "..":
			e.Mode = filesystem.KindDir.Mode()
			e.Ino, _ = r.registry.ID(filesystem.ParentOf(p))
		default:
			child := filesystem.JoinPath(p, name)
			a, err := r.fs.GetAttr(child)
			if err != nil {
				r.logger.Warn().Str("path", child).Err(err).Msg("ReadDir: listed child has no node")
				continue
			}
			e.Mode = a.Mode()
			e.Ino, _ = r.registry.ID(child)
		}
		if !out.AddDirEntry(e) {
			// buffer full; the kernel will ask again from this offset
			break
		}
	}
	return fuse.OK
}

func (r *FuseRaw) ReleaseDir(input *fuse.ReleaseIn) {}

func (r *FuseRaw) StatFs(cancel <-chan struct{}, input *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	out.Bsize = blockSize
	out.Frsize = blockSize
	out.NameLen = uint32(r.cfg.MaxNameLen)
	out.Files = uint64(r.fs.Len())
	return fuse.OK
}

var _ fuse.RawFileSystem = (*FuseRaw)(nil)
