package fuse

import (
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/brettbedarf/memfs/filesystem"
	"github.com/hanwen/go-fuse/v2/fuse"
)

const blockSize = 512

// newAttr builds the wire attributes of a node. Every node reports the
// mounting user as owner and the mount time as its timestamps.
func newAttr(ino uint64, a filesystem.Attr, mtime time.Time) fuse.Attr {
	nlink := uint32(1)
	if a.Kind == filesystem.KindDir {
		nlink = 2
	}
	return fuse.Attr{
		Ino:   ino,
		Size:  a.Size,
		Mode:  a.Mode(),
		Nlink: nlink,
		Owner: fuse.Owner{
			Uid: uint32(os.Getuid()),
			Gid: uint32(os.Getgid()),
		},
		Blocks:    (a.Size + blockSize - 1) / blockSize,
		Atime:     uint64(mtime.Unix()),
		Mtime:     uint64(mtime.Unix()),
		Ctime:     uint64(mtime.Unix()),
		Atimensec: uint32(mtime.Nanosecond()),
		Mtimensec: uint32(mtime.Nanosecond()),
		Ctimensec: uint32(mtime.Nanosecond()),
		Blksize:   blockSize,
	}
}

// toStatus converts a handler error to a wire status. Anything that is
// not an errno becomes EIO.
func toStatus(err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return fuse.Status(errno)
	}
	return fuse.EIO
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
