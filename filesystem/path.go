package filesystem

import "strings"

// RootPath is the key of the root directory in the [Store].
const RootPath = "/"

// NameOf returns the final segment of an absolute path.
// The root path has the empty name.
func NameOf(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return p
	}
	return p[i+1:]
}

// ParentOf returns the path of the directory containing p.
// Children of the root (and the root itself) return "/".
func ParentOf(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return RootPath
	}
	return p[:i]
}

// JoinPath appends name to the directory path dir.
func JoinPath(dir, name string) string {
	if dir == RootPath {
		return RootPath + name
	}
	return dir + "/" + name
}
