package fuse

import (
	"sync/atomic"

	"github.com/brettbedarf/memfs/filesystem"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/puzpuzpuz/xsync/v4"
)

// registryEntry ties a kernel NodeID to a store path. lookups is only
// touched inside a Compute on byPath for the entry's path.
type registryEntry struct {
	id      uint64
	path    string
	lookups uint64
	pinned  bool
}

// Registry maps the NodeIDs handed to the kernel to store paths. An ID is
// allocated on the first entry reply for a path and released once the
// kernel forgets every lookup of it. The root is pinned to FUSE_ROOT_ID.
type Registry struct {
	byID   *xsync.Map[uint64, *registryEntry]
	byPath *xsync.Map[string, *registryEntry]
	lastID atomic.Uint64
}

func NewRegistry() *Registry {
	r := &Registry{
		byID:   xsync.NewMap[uint64, *registryEntry](),
		byPath: xsync.NewMap[string, *registryEntry](),
	}
	root := &registryEntry{id: fuse.FUSE_ROOT_ID, path: filesystem.RootPath, pinned: true}
	r.byID.Store(root.id, root)
	r.byPath.Store(root.path, root)
	r.lastID.Store(fuse.FUSE_ROOT_ID)
	return r
}

// Path returns the store path registered for id.
func (r *Registry) Path(id uint64) (string, bool) {
	e, ok := r.byID.Load(id)
	if !ok {
		return "", false
	}
	return e.path, true
}

// ID returns the NodeID currently registered for path, if any.
func (r *Registry) ID(path string) (uint64, bool) {
	e, ok := r.byPath.Load(path)
	if !ok {
		return 0, false
	}
	return e.id, true
}

// Ref counts one kernel lookup of path and returns its NodeID, allocating
// one if the path is not registered.
func (r *Registry) Ref(path string) uint64 {
	e, _ := r.byPath.Compute(path, func(old *registryEntry, loaded bool) (*registryEntry, xsync.ComputeOp) {
		if loaded {
			old.lookups++
			return old, xsync.UpdateOp
		}
		e := &registryEntry{id: r.lastID.Add(1), path: path, lookups: 1}
		r.byID.Store(e.id, e)
		return e, xsync.UpdateOp
	})
	return e.id
}

// Forget drops nlookup references to id and unregisters it at zero.
func (r *Registry) Forget(id, nlookup uint64) {
	e, ok := r.byID.Load(id)
	if !ok || e.pinned {
		return
	}
	r.byPath.Compute(e.path, func(old *registryEntry, loaded bool) (*registryEntry, xsync.ComputeOp) {
		if !loaded || old.id != id {
			return old, xsync.CancelOp
		}
		if nlookup < old.lookups {
			old.lookups -= nlookup
			return old, xsync.UpdateOp
		}
		r.byID.Delete(id)
		return old, xsync.DeleteOp
	})
}

// Len returns the number of registered NodeIDs, root included.
func (r *Registry) Len() int {
	return r.byID.Size()
}
