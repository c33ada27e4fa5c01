package filesystem

import "syscall"

// NodeKind identifies which variant a [Node] is.
type NodeKind uint8

const (
	KindDir NodeKind = iota + 1
	KindFile
	KindSymlink
)

func (k NodeKind) String() string {
	switch k {
	case KindDir:
		return "dir"
	case KindFile:
		return "file"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Mode returns the file type bits for the kind (S_IFDIR etc).
func (k NodeKind) Mode() uint32 {
	switch k {
	case KindDir:
		return syscall.S_IFDIR
	case KindFile:
		return syscall.S_IFREG
	case KindSymlink:
		return syscall.S_IFLNK
	default:
		return 0
	}
}

// Node is one entry of the [Store]. It is implemented only by [*Dir],
// [*File] and [*Symlink]; a node keeps its kind for its whole lifetime.
type Node interface {
	// Name returns the final path segment the node was created under.
	Name() string
	Kind() NodeKind
	clone() Node
}

// Dir is a directory node. Children holds child names (not paths) in
// creation order.
type Dir struct {
	name     string
	Children []string
}

// File is a regular file node holding its whole content.
type File struct {
	name string
	Data []byte
}

// Symlink is a symbolic link to an absolute path. The target is not
// required to exist.
type Symlink struct {
	name   string
	Target string
}

func NewDir(name string, children ...string) *Dir {
	return &Dir{name: name, Children: children}
}

func NewFile(name string, data []byte) *File {
	return &File{name: name, Data: data}
}

func NewSymlink(name, target string) *Symlink {
	return &Symlink{name: name, Target: target}
}

func (d *Dir) Name() string       { return d.name }
func (d *Dir) Kind() NodeKind     { return KindDir }
func (f *File) Name() string      { return f.name }
func (f *File) Kind() NodeKind    { return KindFile }
func (s *Symlink) Name() string   { return s.name }
func (s *Symlink) Kind() NodeKind { return KindSymlink }

// HasChild reports whether name is listed in the directory.
func (d *Dir) HasChild(name string) bool {
	for _, c := range d.Children {
		if c == name {
			return true
		}
	}
	return false
}

func (d *Dir) clone() Node {
	return &Dir{name: d.name, Children: append([]string(nil), d.Children...)}
}

func (f *File) clone() Node {
	return &File{name: f.name, Data: append([]byte(nil), f.Data...)}
}

func (s *Symlink) clone() Node {
	return &Symlink{name: s.name, Target: s.Target}
}
