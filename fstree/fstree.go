// Package fstree implements the in-memory directory tree of a drive:
// typed Dir/File nodes with parent links, relative path resolution,
// validation, pretty-printing and the deterministic text serialization
// stored in the drive's struct message.
package fstree

import (
	"fmt"
	"strings"

	"github.com/7hebel/drivecord-server/memory"
)

// HomeDir is the path of the root directory.
const HomeDir = "~/"

// RootName is the name of the root directory. It is reserved: no other
// node may carry it and the root can never be renamed or removed.
const RootName = "~"

// MaxNameLen caps object name length.
const MaxNameLen = 256

// illegalNameChars may not occur anywhere in an object name.
const illegalNameChars = "\\/:*?<>|\"~` "

// IsValidName reports whether a directory or file name is acceptable:
// non-empty, at most MaxNameLen characters and free of the illegal
// character set.
func IsValidName(name string) bool {
	if name == "" || len(name) > MaxNameLen {
		return false
	}
	return !strings.ContainsAny(name, illegalNameChars)
}

// Node is either a *Dir or a *File.
type Node interface {
	// Name returns the object's name.
	Name() string
	// Parent returns the containing directory, nil for the root.
	Parent() *Dir
	// PathTo returns the absolute path from the root, directories with a
	// trailing slash.
	PathTo() string
	// Base walks parent links up to the tree's root.
	Base() *Dir
	// Remove detaches the node from its parent. Removing the root is
	// refused and reports false.
	Remove() bool
	// IsLinked reports whether the node is still reachable from the
	// root by walking parent links. A node detached by a concurrent
	// removal is unlinked even though it still holds a parent pointer
	// chain.
	IsLinked() bool
}

// Dir is a directory node holding ordered child lists.
type Dir struct {
	name   string
	parent *Dir
	files  []*File
	dirs   []*Dir
}

// File is a file node: a name plus the head address of its chunk chain
// and the decoded byte size.
type File struct {
	name   string
	parent *Dir
	// Addr is the head of the file's chunk chain.
	Addr memory.Address
	// Size is the file's decoded content length in bytes.
	Size int64
}

// NewRoot returns an empty tree: the root directory "~".
func NewRoot() *Dir {
	return &Dir{name: RootName}
}

// NewDir creates a directory and inserts it into parent. A nil parent
// creates a detached directory (used by the codec while rebuilding).
func NewDir(name string, parent *Dir) *Dir {
	d := &Dir{name: name, parent: parent}
	if parent != nil {
		parent.InsertDir(d)
	}
	return d
}

// NewFile creates a file and inserts it into parent.
func NewFile(name string, parent *Dir, addr memory.Address, size int64) *File {
	f := &File{name: name, parent: parent, Addr: addr, Size: size}
	if parent != nil {
		parent.InsertFile(f)
	}
	return f
}

func (d *Dir) Name() string { return d.name }

func (d *Dir) Parent() *Dir { return d.parent }

func (f *File) Name() string { return f.name }

func (f *File) Parent() *Dir { return f.parent }

// SetName renames the node. Callers are responsible for validation and
// sibling collision checks.
func (d *Dir) SetName(name string) { d.name = name }

// SetName renames the node. Callers are responsible for validation and
// sibling collision checks.
func (f *File) SetName(name string) { f.name = name }

// Files returns the directory's files in insertion order.
func (d *Dir) Files() []*File { return d.files }

// Dirs returns the subdirectories in insertion order.
func (d *Dir) Dirs() []*Dir { return d.dirs }

// InsertFile appends a file to the directory, adopting it when it has no
// parent yet. Inserting the same file twice is a no-op.
func (d *Dir) InsertFile(f *File) {
	if f.parent == nil {
		f.parent = d
	}
	for _, existing := range d.files {
		if existing == f {
			return
		}
	}
	d.files = append(d.files, f)
}

// InsertDir appends a subdirectory, adopting it when it has no parent
// yet. Inserting the same directory twice is a no-op.
func (d *Dir) InsertDir(sub *Dir) {
	if sub.parent == nil {
		sub.parent = d
	}
	for _, existing := range d.dirs {
		if existing == sub {
			return
		}
	}
	d.dirs = append(d.dirs, sub)
}

// HasObject reports whether a child (directory or file) with the exact
// name exists. The check is case-sensitive.
func (d *Dir) HasObject(name string) bool {
	for _, sub := range d.dirs {
		if sub.name == name {
			return true
		}
	}
	for _, f := range d.files {
		if f.name == name {
			return true
		}
	}
	return false
}

// Base walks parent links up to the root.
func (d *Dir) Base() *Dir {
	if d.parent != nil {
		return d.parent.Base()
	}
	return d
}

// Base returns the root of the tree the file hangs off, nil for a
// detached file.
func (f *File) Base() *Dir {
	if f.parent == nil {
		return nil
	}
	return f.parent.Base()
}

// PathTo returns the absolute path of the directory, with a trailing
// slash ("~/", "~/animals/").
func (d *Dir) PathTo() string {
	if d.parent == nil {
		return d.name + "/"
	}
	return d.parent.PathTo() + d.name + "/"
}

// PathTo returns the absolute path of the file ("~/animals/pig.txt").
func (f *File) PathTo() string {
	if f.parent == nil {
		return f.name
	}
	return f.parent.PathTo() + f.name
}

// Remove detaches the directory from its parent. The root refuses with
// false.
func (d *Dir) Remove() bool {
	if d.name == RootName || d.parent == nil {
		return false
	}
	parent := d.parent
	for i, sub := range parent.dirs {
		if sub == d {
			parent.dirs = append(parent.dirs[:i], parent.dirs[i+1:]...)
			break
		}
	}
	d.parent = nil
	return true
}

// Remove detaches the file from its parent.
func (f *File) Remove() bool {
	if f.parent == nil {
		return false
	}
	parent := f.parent
	for i, existing := range parent.files {
		if existing == f {
			parent.files = append(parent.files[:i], parent.files[i+1:]...)
			break
		}
	}
	f.parent = nil
	return true
}

// IsLinked reports whether the directory is still attached to the root.
func (d *Dir) IsLinked() bool {
	if d.name == RootName && d.parent == nil {
		return true
	}
	return isLinked(d)
}

// IsLinked reports whether the file is still attached to the root.
func (f *File) IsLinked() bool {
	return isLinked(f)
}

func isLinked(n Node) bool {
	child := n
	parent := n.Parent()

	for parent != nil {
		linked := false
		switch c := child.(type) {
		case *Dir:
			for _, sub := range parent.dirs {
				if sub == c {
					linked = true
					break
				}
			}
		case *File:
			for _, f := range parent.files {
				if f == c {
					linked = true
					break
				}
			}
		}
		if !linked {
			return false
		}

		child = parent
		parent = parent.Parent()
	}

	root, ok := child.(*Dir)
	return ok && root.name == RootName
}

// MoveTo resolves a slash-separated relative path against the directory.
// Empty components are skipped, "~" jumps to the root and is only valid
// as the first component, "." stays, ".." moves to the parent (the root
// is its own parent), any other component matches a child directory
// first, then a child file. After a file is reached only an empty suffix
// is allowed. ok is false when any component fails to resolve.
func (d *Dir) MoveTo(relPath string) (Node, bool) {
	relPath = strings.ReplaceAll(relPath, "\\", "/")

	var cwd Node = d
	for i, part := range strings.Split(relPath, "/") {
		if part == "" {
			continue
		}

		if part == RootName {
			if i != 0 {
				return nil, false
			}
			cwd = d.Base()
			continue
		}

		dir, ok := cwd.(*Dir)
		if !ok {
			// Components past a file never resolve.
			return nil, false
		}

		switch part {
		case ".":
			continue
		case "..":
			if dir.parent != nil {
				cwd = dir.parent
			}
			continue
		}

		found := false
		for _, sub := range dir.dirs {
			if sub.name == part {
				cwd = sub
				found = true
				break
			}
		}
		if !found {
			for _, f := range dir.files {
				if f.name == part {
					cwd = f
					found = true
					break
				}
			}
		}
		if !found {
			return nil, false
		}
	}

	return cwd, true
}

// Walk returns a depth-first enumeration of the directory's descendants:
// the files of each directory before its subdirectories. With filesOnly
// the directories themselves are omitted from the result.
func (d *Dir) Walk(filesOnly bool) []Node {
	var nodes []Node
	for _, f := range d.files {
		nodes = append(nodes, f)
	}
	for _, sub := range d.dirs {
		if !filesOnly {
			nodes = append(nodes, sub)
		}
		nodes = append(nodes, sub.Walk(filesOnly)...)
	}
	return nodes
}

// DrawTree renders the directory as an indented listing with
// human-readable file sizes.
func (d *Dir) DrawTree() string {
	var b strings.Builder
	d.drawTree(&b, 0)
	return b.String()
}

func (d *Dir) drawTree(b *strings.Builder, depth int) {
	indent := strings.Repeat("| ", depth)
	fmt.Fprintf(b, "%s[%s]\n", indent, d.name)

	childIndent := strings.Repeat("| ", depth+1)
	for _, f := range d.files {
		fmt.Fprintf(b, "%s%s (%s)\n", childIndent, f.name, formatSize(f.Size))
	}
	for _, sub := range d.dirs {
		sub.drawTree(b, depth+1)
	}
}

// formatSize renders a byte count with a binary unit suffix.
func formatSize(size int64) string {
	value := float64(size)
	for _, unit := range []string{"B", "KiB", "MiB", "GiB", "TiB"} {
		if value < 1024 {
			return fmt.Sprintf("%.1f%s", value, unit)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.1fPiB", value)
}
