// Package pathutil checks slash-separated names that come from content
// archives before they become keys in an in-memory filesystem.
package pathutil

import (
	"errors"
	"path"
	"strings"
)

var (
	ErrAbsolute  = errors.New("absolute path")
	ErrTraversal = errors.New("path traversal")
	ErrBackslash = errors.New("backslash in path")
)

// HasDotSegments reports whether any element of p is "." or "..".
func HasDotSegments(p string) bool {
	for seg := range strings.SplitSeq(p, "/") {
		switch seg {
		case ".", "..":
			return true
		}
	}
	return false
}

// Clean turns an archive entry name into a key usable with fs.FS.
// Leading "./" prefixes are dropped. The empty string is returned for
// the archive root. Names that could escape the root are rejected.
func Clean(name string) (string, error) {
	for strings.HasPrefix(name, "./") {
		name = name[2:]
	}
	if name == "" || name == "." {
		return "", nil
	}
	switch {
	case path.IsAbs(name):
		return "", ErrAbsolute
	case strings.ContainsRune(name, '\\'):
		return "", ErrBackslash
	case HasDotSegments(strings.TrimSuffix(name, "/")):
		return "", ErrTraversal
	}
	return path.Clean(name), nil
}
