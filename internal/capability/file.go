package capability

import (
	"path/filepath"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// File grants access to a set of path prefixes. A path entry
// authorises itself and every descendant.
type File struct {
	paths   mapset.Set[string]
	read    bool
	write   bool
	execute bool
}

// NewFile creates a file capability over the given absolute paths.
func NewFile(paths []string, read, write, execute bool) *File {
	set := mapset.NewSet[string]()
	for _, p := range paths {
		set.Add(filepath.Clean(p))
	}
	return &File{paths: set, read: read, write: write, execute: execute}
}

// FileReadOnly creates a read-only file capability.
func FileReadOnly(paths ...string) *File { return NewFile(paths, true, false, false) }

// FileWriteOnly creates a write-only file capability.
func FileWriteOnly(paths ...string) *File { return NewFile(paths, false, true, false) }

// Kind implements Capability.
func (f *File) Kind() Kind { return KindFile }

// Paths returns the allowed path prefixes.
func (f *File) Paths() []string { return sortedSlice(f.paths) }

// CanRead reports whether the read bit is set.
func (f *File) CanRead() bool { return f.read }

// CanWrite reports whether the write bit is set.
func (f *File) CanWrite() bool { return f.write }

// CanExecute reports whether the execute bit is set.
func (f *File) CanExecute() bool { return f.execute }

// Permits implements Capability.
func (f *File) Permits(req AccessRequest) error {
	r, ok := req.(FileRequest)
	if !ok {
		return denied("file capability does not cover %T request", req)
	}
	if r.Read && !f.read {
		return denied("read access to %s not granted", r.Path)
	}
	if r.Write && !f.write {
		return denied("write access to %s not granted", r.Path)
	}
	if r.Execute && !f.execute {
		return denied("execute access to %s not granted", r.Path)
	}
	clean := filepath.Clean(r.Path)
	covered := false
	f.paths.Each(func(p string) bool {
		if pathWithin(clean, p) {
			covered = true
			return true
		}
		return false
	})
	if !covered {
		return denied("path %s is outside the allowed paths", r.Path)
	}
	return nil
}

// Constrain implements Capability.
func (f *File) Constrain(c Constraints) (Capability, error) {
	paths := f.paths
	if c.Paths != nil {
		paths = mapset.NewSet[string]()
		for _, p := range c.Paths {
			clean := filepath.Clean(p)
			f.paths.Each(func(parent string) bool {
				if pathWithin(clean, parent) {
					paths.Add(clean)
					return true
				}
				return false
			})
		}
		if paths.Cardinality() == 0 && f.paths.Cardinality() > 0 {
			return nil, &ConstraintError{Detail: "no constrained path lies within the parent paths"}
		}
	}

	read := boolAnd(f.read, c.Read)
	write := boolAnd(f.write, c.Write)
	execute := boolAnd(f.execute, c.Execute)
	if !read && !write && !execute && (f.read || f.write || f.execute) {
		return nil, &ConstraintError{Detail: "constraint clears every file operation the parent had"}
	}

	return &File{paths: paths, read: read, write: write, execute: execute}, nil
}

// Split implements Capability. A file capability is already minimal.
func (f *File) Split() []Capability {
	return []Capability{f.clone()}
}

// Join implements Capability. Joining unions the path sets and
// operation bits of two file capabilities.
func (f *File) Join(other Capability) (Capability, error) {
	o, ok := other.(*File)
	if !ok {
		return nil, &CompositionError{Detail: "cannot join file capability with " + string(other.Kind())}
	}
	return &File{
		paths:   f.paths.Union(o.paths),
		read:    f.read || o.read,
		write:   f.write || o.write,
		execute: f.execute || o.execute,
	}, nil
}

// Equal implements Capability.
func (f *File) Equal(other Capability) bool {
	o, ok := other.(*File)
	if !ok {
		return false
	}
	return f.read == o.read && f.write == o.write && f.execute == o.execute &&
		f.paths.Equal(o.paths)
}

func (f *File) clone() *File {
	return &File{paths: f.paths.Clone(), read: f.read, write: f.write, execute: f.execute}
}

func (*File) sealedCapability() {}

// pathWithin reports whether path is prefix itself or a descendant of it.
func pathWithin(path, prefix string) bool {
	if path == prefix {
		return true
	}
	if prefix == string(filepath.Separator) {
		return strings.HasPrefix(path, prefix)
	}
	return strings.HasPrefix(path, prefix+string(filepath.Separator))
}

// sortedSlice materialises a set in stable order; mapset iteration
// order is random.
func sortedSlice(set mapset.Set[string]) []string {
	out := set.ToSlice()
	sort.Strings(out)
	return out
}
