// Package fusefs mounts a drive as a local filesystem. Directories and
// files map one-to-one onto the drive's tree; file content is read and
// written whole, matching the engine's no-seek model: reads load the
// full chain, writes buffer locally and push the complete content on
// flush.
package fusefs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/7hebel/drivecord-server/drive"
	"github.com/7hebel/drivecord-server/fstree"
)

// engine carries the mounted drive and the user id all operations act
// as.
type engine struct {
	drive *drive.Drive
	uid   uint64
}

// errnoFor maps drive error kinds onto errnos.
func errnoFor(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, drive.ErrInvalidPath):
		return syscall.ENOENT
	case errors.Is(err, drive.ErrNameInUse):
		return syscall.EEXIST
	case errors.Is(err, drive.ErrInvalidName):
		return syscall.EINVAL
	case errors.Is(err, drive.ErrPathToDir):
		return syscall.EISDIR
	case errors.Is(err, drive.ErrPathToFile):
		return syscall.ENOTDIR
	case errors.Is(err, drive.ErrFileLocked):
		return syscall.EBUSY
	case errors.Is(err, drive.ErrOutOfMemory):
		return syscall.ENOSPC
	case errors.Is(err, drive.ErrFileTooBig):
		return syscall.EFBIG
	case errors.Is(err, drive.ErrPermission), errors.Is(err, drive.ErrCannotRename):
		return syscall.EACCES
	default:
		return syscall.EIO
	}
}

// resolve loads the current tree and resolves an absolute drive path.
func (e *engine) resolve(path string) (fstree.Node, syscall.Errno) {
	root, err := e.drive.Structure()
	if err != nil {
		return nil, syscall.EIO
	}
	node, ok := root.MoveTo(path)
	if !ok {
		return nil, syscall.ENOENT
	}
	return node, 0
}

// DirNode exposes one drive directory.
type DirNode struct {
	fs.Inode
	eng *engine
	// path is the absolute drive path of this directory ("~/", "~/a/").
	path string
}

var _ = (fs.NodeReaddirer)((*DirNode)(nil))
var _ = (fs.NodeLookuper)((*DirNode)(nil))
var _ = (fs.NodeMkdirer)((*DirNode)(nil))
var _ = (fs.NodeCreater)((*DirNode)(nil))
var _ = (fs.NodeUnlinker)((*DirNode)(nil))
var _ = (fs.NodeRmdirer)((*DirNode)(nil))
var _ = (fs.NodeRenamer)((*DirNode)(nil))
var _ = (fs.NodeGetattrer)((*DirNode)(nil))

// NewRoot returns the root inode for mounting a drive as uid.
func NewRoot(d *drive.Drive, uid uint64) *DirNode {
	return &DirNode{
		eng:  &engine{drive: d, uid: uid},
		path: fstree.HomeDir,
	}
}

func (d *DirNode) childPath(name string) string {
	return d.path + name
}

func (d *DirNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | 0755
	return 0
}

func (d *DirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	node, errno := d.eng.resolve(d.path)
	if errno != 0 {
		return nil, errno
	}
	dir, ok := node.(*fstree.Dir)
	if !ok {
		return nil, syscall.ENOTDIR
	}

	var entries []fuse.DirEntry
	for _, f := range dir.Files() {
		entries = append(entries, fuse.DirEntry{Name: f.Name(), Mode: fuse.S_IFREG})
	}
	for _, sub := range dir.Dirs() {
		entries = append(entries, fuse.DirEntry{Name: sub.Name(), Mode: fuse.S_IFDIR})
	}
	return fs.NewListDirStream(entries), 0
}

func (d *DirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	node, errno := d.eng.resolve(d.childPath(name))
	if errno != 0 {
		return nil, errno
	}

	switch obj := node.(type) {
	case *fstree.Dir:
		child := &DirNode{eng: d.eng, path: obj.PathTo()}
		return d.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
	case *fstree.File:
		out.Attr.Mode = fuse.S_IFREG | 0644
		out.Attr.Size = uint64(obj.Size)
		child := &FileNode{eng: d.eng, path: obj.PathTo()}
		return d.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG}), 0
	}
	return nil, syscall.EIO
}

func (d *DirNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if err := d.eng.drive.CreateDirectory(d.eng.uid, d.childPath(name)); err != nil {
		return nil, errnoFor(err)
	}
	child := &DirNode{eng: d.eng, path: d.childPath(name) + "/"}
	return d.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
}

func (d *DirNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	if err := d.eng.drive.CreateFile(d.eng.uid, d.childPath(name)); err != nil {
		return nil, nil, 0, errnoFor(err)
	}

	path := d.childPath(name)
	child := &FileNode{eng: d.eng, path: path}
	handle := &fileHandle{eng: d.eng, path: path, dirty: true}
	return d.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG}), handle, 0, 0
}

func (d *DirNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return errnoFor(d.eng.drive.Delete(d.eng.uid, d.childPath(name)))
}

func (d *DirNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errnoFor(d.eng.drive.Delete(d.eng.uid, d.childPath(name)))
}

// Rename renames within one directory. The engine never moves nodes
// across parents, so cross-directory renames report EXDEV.
func (d *DirNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	target, ok := newParent.(*DirNode)
	if !ok || target.path != d.path {
		return syscall.EXDEV
	}
	return errnoFor(d.eng.drive.Rename(d.eng.uid, d.childPath(name), newName))
}

// FileNode exposes one drive file.
type FileNode struct {
	fs.Inode
	eng  *engine
	path string
}

var _ = (fs.NodeOpener)((*FileNode)(nil))
var _ = (fs.NodeGetattrer)((*FileNode)(nil))
var _ = (fs.NodeSetattrer)((*FileNode)(nil))

func (f *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	node, errno := f.eng.resolve(f.path)
	if errno != 0 {
		return errno
	}
	file, ok := node.(*fstree.File)
	if !ok {
		return syscall.EISDIR
	}

	out.Mode = syscall.S_IFREG | 0644
	out.Size = uint64(file.Size)
	return 0
}

func (f *FileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	handle := &fileHandle{eng: f.eng, path: f.path}

	if flags&syscall.O_TRUNC != 0 {
		handle.dirty = true
	} else {
		content, err := f.eng.drive.Read(f.eng.uid, f.path)
		if err != nil {
			return nil, 0, errnoFor(err)
		}
		handle.content = content
	}
	// The whole content lives in the handle; let the kernel cache it.
	return handle, fuse.FOPEN_KEEP_CACHE, 0
}

// Setattr supports truncation; other attribute changes have no backing
// state and are accepted silently.
func (f *FileNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		handle, isHandle := fh.(*fileHandle)
		if !isHandle {
			if size != 0 {
				return syscall.EOPNOTSUPP
			}
			return errnoFor(f.eng.drive.Write(f.eng.uid, f.path, nil))
		}
		handle.truncate(int64(size))
	}
	return f.Getattr(ctx, fh, out)
}

// fileHandle buffers a file's whole content between open and flush.
type fileHandle struct {
	eng  *engine
	path string

	mu      sync.Mutex
	content []byte
	dirty   bool
}

var _ = (fs.FileReader)((*fileHandle)(nil))
var _ = (fs.FileWriter)((*fileHandle)(nil))
var _ = (fs.FileFlusher)((*fileHandle)(nil))

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if off >= int64(len(h.content)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(h.content)) {
		end = int64(len(h.content))
	}
	return fuse.ReadResultData(h.content[off:end]), 0
}

func (h *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	end := off + int64(len(data))
	if end > int64(len(h.content)) {
		grown := make([]byte, end)
		copy(grown, h.content)
		h.content = grown
	}
	copy(h.content[off:], data)
	h.dirty = true
	return uint32(len(data)), 0
}

func (h *fileHandle) truncate(size int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if size <= int64(len(h.content)) {
		h.content = h.content[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, h.content)
		h.content = grown
	}
	h.dirty = true
}

// Flush pushes the buffered content back to the drive when it changed.
func (h *fileHandle) Flush(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	dirty := h.dirty
	content := append([]byte(nil), h.content...)
	h.dirty = false
	h.mu.Unlock()

	if !dirty {
		return 0
	}
	return errnoFor(h.eng.drive.Write(h.eng.uid, h.path, content))
}

// Mount mounts a drive at mountpoint, acting as the given drive user.
func Mount(mountpoint string, d *drive.Drive, uid uint64, debug bool) (*fuse.Server, error) {
	root := NewRoot(d, uid)
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName: "drivecord",
			Name:   "drivecord",
			Debug:  debug,
		},
	}
	return fs.Mount(mountpoint, root, opts)
}

// cleanPath is a helper for tests: it normalizes a drive path into the
// absolute "~/..." form used by the nodes.
func cleanPath(path string) string {
	if strings.HasPrefix(path, fstree.HomeDir) {
		return path
	}
	return fstree.HomeDir + strings.TrimPrefix(path, "/")
}
