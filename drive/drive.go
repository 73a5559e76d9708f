// Package drive composes the allocator and the directory tree into one
// drive instance per chat server and exposes the file-operation API:
// create, read, write, rename, delete and pull, plus per-user working
// directories, the per-file lock set and the audit log.
package drive

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/7hebel/drivecord-server/fstree"
	"github.com/7hebel/drivecord-server/memory"
	"github.com/7hebel/drivecord-server/platform"
)

// PullSizeLimit caps the encoded content length a single file pull may
// return.
const PullSizeLimit = 10 * 1000 * 1000

// Layout holds the ids of a drive's system channels and access roles,
// discovered at load time by name.
type Layout struct {
	MetaCategoryID uint64
	ConsoleID      uint64
	LogsID         uint64
	StructID       uint64

	OwnerRoleID uint64
	AdminRoleID uint64
	WriteRoleID uint64
	ReadRoleID  uint64
}

// Drive is the storage engine of one chat server. All state except the
// per-user working directories and the lock set lives in the backing
// medium: the directory tree in the struct message, chunk contents in
// data channels, usage ledgers in cache messages.
type Drive struct {
	p        platform.Platform
	serverID uint64
	layout   Layout
	mem      *memory.Manager

	// opMu serializes tree mutation and struct persistence across
	// operations. The write path drops it during chunk I/O, keeping
	// only its lock-set entry.
	opMu sync.Mutex

	mu          sync.Mutex
	lockedFiles map[string]struct{}
	cwd         map[uint64]string

	// onPanic is invoked before the drive leaves its server, so the
	// registry can poison the entry. Set by the registry.
	onPanic func(reason string)

	log *logrus.Entry
}

// ServerID returns the backing chat server's id.
func (d *Drive) ServerID() uint64 { return d.serverID }

// Memory returns the drive's allocator.
func (d *Drive) Memory() *memory.Manager { return d.mem }

// Layout returns the drive's system channel and role ids.
func (d *Drive) Layout() Layout { return d.layout }

// Panic is the supervised shutdown response to a violated structural
// invariant: write a final audit line, poison the registry entry and
// leave the chat server. Continuing with inconsistent state is never an
// option.
func (d *Drive) Panic(reason string) {
	d.log.Errorf("panic: %s", reason)

	if err := d.Log("PANIC ERROR! " + reason); err != nil {
		d.log.Warnf("failed to send panic log: %v", err)
	}
	if d.onPanic != nil {
		d.onPanic(reason)
	}
	if err := d.p.LeaveServer(d.serverID); err != nil {
		d.log.Warnf("failed to leave server: %v", err)
	}
}

// Log appends a timestamped line to the drive's audit channel.
func (d *Drive) Log(message string) error {
	d.log.Info(message)
	content := fmt.Sprintf("%s | `%s`", time.Now().Format("2006-01-02 15:04:05"), message)
	_, err := d.p.SendMessage(d.layout.LogsID, content)
	return err
}

// findStructMsg returns the latest message on the struct channel. A
// foreign latest message is deleted and the lookup retried. ok is false
// when the channel holds no drive-authored message at all.
func (d *Drive) findStructMsg() (platform.Message, bool, error) {
	for {
		latest, err := d.p.RecentMessages(d.layout.StructID, 1)
		if err != nil {
			return platform.Message{}, false, err
		}
		if len(latest) == 0 {
			return platform.Message{}, false, nil
		}

		msg := latest[0]
		if msg.AuthorID != d.p.Me() {
			d.log.Warn("latest struct message is foreign, deleting")
			d.mem.RecordRemoved(msg.ID)
			if err := d.p.DeleteMessage(msg.ChannelID, msg.ID); err != nil {
				return platform.Message{}, false, err
			}
			continue
		}
		return msg, true, nil
	}
}

// Structure loads and parses the directory tree from the struct message.
// A missing or unparseable struct message is structural corruption and
// triggers the panic response.
func (d *Drive) Structure() (*fstree.Dir, error) {
	msg, ok, err := d.findStructMsg()
	if err != nil {
		return nil, err
	}
	if !ok {
		d.Panic("Missing files structure message.")
		return nil, fmt.Errorf("missing files structure message")
	}

	raw, err := base64.StdEncoding.DecodeString(msg.Content)
	if err != nil {
		d.Panic("Failed to parse structure.")
		return nil, fmt.Errorf("decoding structure: %w", err)
	}

	root, err := fstree.Parse(string(raw))
	if err != nil {
		d.Panic("Failed to parse structure.")
		return nil, fmt.Errorf("parsing structure: %w", err)
	}
	return root, nil
}

// setStruct serializes the tree and edits it into the struct message.
// A serialization exceeding the message size limit is reported to the
// audit log and the struct is left unchanged.
func (d *Drive) setStruct(root *fstree.Dir) error {
	content := base64.StdEncoding.EncodeToString([]byte(root.Export()))
	if len(content) > memory.MsgSize {
		return d.Log("Couldn't save new structure: message too long!")
	}

	msg, ok, err := d.findStructMsg()
	if err != nil {
		return err
	}
	if !ok {
		d.Panic("Missing structure message.")
		return fmt.Errorf("missing files structure message")
	}
	return d.p.EditMessage(msg.ChannelID, msg.ID, content)
}

// ListStructure returns the serialized tree as stored on the struct
// channel.
func (d *Drive) ListStructure() (string, error) {
	root, err := d.Structure()
	if err != nil {
		return "", err
	}
	return root.Export(), nil
}

// Cwd resolves a user's current working directory path. changed reports
// that the cached path no longer resolved to a linked directory and the
// user was moved back to the home directory.
func (d *Drive) Cwd(uid uint64) (string, bool, error) {
	root, err := d.Structure()
	if err != nil {
		return "", false, err
	}
	cwd, ok := d.resolveCwdIn(uid, root)
	if !ok {
		return fstree.HomeDir, true, nil
	}
	return cwd.PathTo(), false, nil
}

// SetCwd moves a user's working directory. The target must resolve to a
// directory.
func (d *Drive) SetCwd(uid uint64, pathStr string) error {
	root, err := d.Structure()
	if err != nil {
		return err
	}

	cwd, _ := d.resolveCwdIn(uid, root)
	target, ok := cwd.MoveTo(pathStr)
	if !ok {
		return ErrInvalidPath
	}
	dir, ok := target.(*fstree.Dir)
	if !ok {
		return ErrPathToFile
	}

	d.mu.Lock()
	d.cwd[uid] = dir.PathTo()
	d.mu.Unlock()
	return nil
}

// resolveCwdIn resolves the user's cached working directory against a
// freshly parsed tree. Three recovery cases reset the user to the home
// directory and report !ok: the path no longer exists, it resolves to a
// file, or the node was unlinked by a concurrent removal.
func (d *Drive) resolveCwdIn(uid uint64, root *fstree.Dir) (*fstree.Dir, bool) {
	d.mu.Lock()
	cached, exists := d.cwd[uid]
	d.mu.Unlock()
	if !exists {
		cached = fstree.HomeDir
	}

	reset := func() {
		d.mu.Lock()
		d.cwd[uid] = fstree.HomeDir
		d.mu.Unlock()
	}

	node, ok := root.MoveTo(cached)
	if !ok {
		reset()
		return root, false
	}

	dir, isDir := node.(*fstree.Dir)
	if !isDir {
		reset()
		return root, false
	}

	if !dir.IsLinked() {
		reset()
		d.log.Infof("user %d path is unlinked from the base directory tree", uid)
		return root, false
	}

	return dir, true
}

// isFileLocked reports whether a file path is registered in the lock
// set.
func (d *Drive) isFileLocked(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, locked := d.lockedFiles[path]
	return locked
}

func (d *Drive) lockFile(path string) {
	d.mu.Lock()
	d.lockedFiles[path] = struct{}{}
	d.mu.Unlock()
}

func (d *Drive) unlockFile(path string) {
	d.mu.Lock()
	delete(d.lockedFiles, path)
	d.mu.Unlock()
}

// splitTarget splits an operation path into the parent lookup path and
// the basename.
func splitTarget(pathStr string) (parent, name string) {
	cleaned := strings.ReplaceAll(pathStr, "\\", "/")
	name = path.Base(cleaned)
	name = strings.Trim(name, "/")
	parent = path.Dir(cleaned)
	if parent == "" {
		parent = "."
	}
	return parent, name
}

// CreateDirectory creates a directory at the given path, relative to the
// user's working directory.
func (d *Drive) CreateDirectory(uid uint64, pathStr string) error {
	parentPath, name := splitTarget(pathStr)
	if !fstree.IsValidName(name) {
		return ErrInvalidName
	}

	d.opMu.Lock()
	defer d.opMu.Unlock()

	root, err := d.Structure()
	if err != nil {
		return err
	}
	cwd, ok := d.resolveCwdIn(uid, root)
	if !ok {
		d.Log(fmt.Sprintf("%d failed to create dir %s (cwd error)", uid, name))
		return ErrInvalidPath
	}

	node, ok := cwd.MoveTo(parentPath)
	if !ok {
		d.Log(fmt.Sprintf("%d failed to create dir %s (target directory not found)", uid, pathStr))
		return ErrInvalidPath
	}
	parent, isDir := node.(*fstree.Dir)
	if !isDir {
		d.Log(fmt.Sprintf("%d failed to create dir %s (target directory is a file)", uid, pathStr))
		return ErrInvalidPath
	}

	if parent.HasObject(name) {
		return ErrNameInUse
	}

	fstree.NewDir(name, parent)

	if err := d.setStruct(parent.Base()); err != nil {
		return err
	}
	d.Log(fmt.Sprintf("%d created dir %s at: %s", uid, name, parent.PathTo()))
	return nil
}

// CreateFile creates an empty file at the given path: one blank chunk is
// allocated so the chain invariant holds from the start.
func (d *Drive) CreateFile(uid uint64, pathStr string) error {
	parentPath, name := splitTarget(pathStr)
	if !fstree.IsValidName(name) {
		return ErrInvalidName
	}

	d.opMu.Lock()
	defer d.opMu.Unlock()

	root, err := d.Structure()
	if err != nil {
		return err
	}
	cwd, ok := d.resolveCwdIn(uid, root)
	if !ok {
		d.Log(fmt.Sprintf("%d failed to create file %s (cwd error)", uid, pathStr))
		return ErrInvalidPath
	}

	node, ok := cwd.MoveTo(parentPath)
	if !ok {
		d.Log(fmt.Sprintf("%d failed to create file %s (target directory not found)", uid, pathStr))
		return ErrInvalidPath
	}
	parent, isDir := node.(*fstree.Dir)
	if !isDir {
		d.Log(fmt.Sprintf("%d failed to create file %s (target directory is a file)", uid, pathStr))
		return ErrInvalidPath
	}

	if parent.HasObject(name) {
		return ErrNameInUse
	}

	msg, err := d.mem.AllocChunk(len(memory.BlankBody))
	if err != nil {
		return err
	}
	if err := d.p.EditMessage(msg.ChannelID, msg.ID, memory.EncodeChunk(memory.BlankBody, memory.EndMarker)); err != nil {
		return err
	}

	addr := memory.AddressOf(msg)
	fstree.NewFile(name, parent, addr, 1)

	// Charge the blank chunk so the ledger matches the backing medium
	// from the file's first moment.
	if err := d.mem.CacheSizes(addr); err != nil {
		return err
	}

	if err := d.setStruct(parent.Base()); err != nil {
		return err
	}
	d.Log(fmt.Sprintf("%d created file %s at: %s", uid, name, parent.PathTo()))
	return nil
}

// Delete removes the object at the given path. Files have their chunk
// chains wiped; directories are wiped recursively. The root cannot be
// deleted.
func (d *Drive) Delete(uid uint64, pathStr string) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	root, err := d.Structure()
	if err != nil {
		return err
	}
	cwd, ok := d.resolveCwdIn(uid, root)
	if !ok {
		return ErrInvalidPath
	}

	target, ok := cwd.MoveTo(pathStr)
	if !ok {
		return ErrInvalidPath
	}
	targetPath := target.PathTo()

	if file, isFile := target.(*fstree.File); isFile && d.isFileLocked(file.PathTo()) {
		d.Log(fmt.Sprintf("%d failed to remove object: %s (File is locked)", uid, targetPath))
		return ErrFileLocked
	}

	if !target.Remove() {
		d.Log(fmt.Sprintf("%d failed to remove object: %s (Permission error)", uid, targetPath))
		return ErrPermission
	}

	switch obj := target.(type) {
	case *fstree.File:
		d.mem.WipeFile(obj.Addr)
	case *fstree.Dir:
		d.wipeDir(obj)
	}

	if err := d.setStruct(cwd.Base()); err != nil {
		return err
	}
	d.Log(fmt.Sprintf("%d removed object: %s", uid, targetPath))
	return nil
}

// wipeDir frees the chunk chains of every file beneath dir. The root is
// never wiped.
func (d *Drive) wipeDir(dir *fstree.Dir) {
	if dir.Name() == fstree.RootName {
		return
	}
	for _, node := range dir.Walk(true) {
		if file, ok := node.(*fstree.File); ok {
			d.mem.WipeFile(file.Addr)
		}
	}
}

// Rename changes an object's name in place. Renaming never moves a node
// across parents; the root cannot be renamed.
func (d *Drive) Rename(uid uint64, pathStr, newName string) error {
	if !fstree.IsValidName(newName) {
		return ErrInvalidName
	}

	d.opMu.Lock()
	defer d.opMu.Unlock()

	root, err := d.Structure()
	if err != nil {
		return err
	}
	cwd, ok := d.resolveCwdIn(uid, root)
	if !ok {
		return ErrInvalidPath
	}

	target, ok := cwd.MoveTo(pathStr)
	if !ok {
		return ErrInvalidPath
	}

	parent := target.Parent()
	if parent == nil {
		return ErrCannotRename
	}
	if parent.HasObject(newName) {
		return ErrNameInUse
	}

	oldPath := target.PathTo()
	switch obj := target.(type) {
	case *fstree.Dir:
		obj.SetName(newName)
	case *fstree.File:
		obj.SetName(newName)
	}

	d.Log(fmt.Sprintf("%d renamed object: %s -> %s", uid, oldPath, newName))
	return d.setStruct(target.Base())
}

// readFile traces a file's chunk chain, concatenates the bodies and
// base64-decodes the result. A locked file refuses the read.
func (d *Drive) readFile(file *fstree.File) ([]byte, error) {
	if d.isFileLocked(file.PathTo()) {
		d.Log(fmt.Sprintf("failed to read file %s (file is locked due to ongoing operation)", file.Name()))
		return nil, ErrFileLocked
	}

	trace, err := d.mem.Trace(file.Addr)
	if err != nil {
		return nil, err
	}

	var encoded strings.Builder
	for _, msg := range trace {
		chunk, err := memory.DecodeChunk(msg.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBrokenTrace, err)
		}
		if chunk.Body == memory.BlankBody {
			continue
		}
		encoded.WriteString(chunk.Body)
	}

	content, err := base64.StdEncoding.DecodeString(encoded.String())
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable content", ErrBrokenTrace)
	}
	return content, nil
}

// Read returns the decoded content of the file at the given path.
func (d *Drive) Read(uid uint64, pathStr string) ([]byte, error) {
	root, err := d.Structure()
	if err != nil {
		return nil, err
	}
	cwd, ok := d.resolveCwdIn(uid, root)
	if !ok {
		d.Log(fmt.Sprintf("%d failed to read file %s (cwd error)", uid, pathStr))
		return nil, ErrInvalidPath
	}

	target, ok := cwd.MoveTo(pathStr)
	if !ok {
		return nil, ErrInvalidPath
	}
	file, isFile := target.(*fstree.File)
	if !isFile {
		return nil, ErrPathToDir
	}

	return d.readFile(file)
}

// PullResult is the downloadable form of a pulled object: a file's raw
// content, or a zip archive of a directory's descendant files.
type PullResult struct {
	Name    string
	Content []byte
	IsZip   bool
}

// Pull fetches the object at the given path for download. Files are
// size-capped by PullSizeLimit on their encoded length; directories are
// packed into an in-memory zip archive holding every descendant file at
// its tree-relative path.
func (d *Drive) Pull(uid uint64, pathStr string) (PullResult, error) {
	root, err := d.Structure()
	if err != nil {
		return PullResult{}, err
	}
	cwd, ok := d.resolveCwdIn(uid, root)
	if !ok {
		d.Log(fmt.Sprintf("%d failed to pull object %s (cwd error)", uid, pathStr))
		return PullResult{}, ErrInvalidPath
	}

	target, ok := cwd.MoveTo(pathStr)
	if !ok {
		d.Log(fmt.Sprintf("%d failed to pull object %s (target not found)", uid, pathStr))
		return PullResult{}, ErrInvalidPath
	}

	if file, isFile := target.(*fstree.File); isFile {
		if encodedSize(file.Size) > PullSizeLimit {
			return PullResult{}, ErrFileTooBig
		}
		content, err := d.readFile(file)
		if err != nil {
			return PullResult{}, err
		}
		return PullResult{Name: file.Name(), Content: content}, nil
	}

	dir := target.(*fstree.Dir)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, node := range dir.Walk(true) {
		file, isFile := node.(*fstree.File)
		if !isFile {
			continue
		}
		relPath := strings.TrimPrefix(file.PathTo(), fstree.HomeDir)

		content, err := d.readFile(file)
		if err != nil {
			zw.Close()
			return PullResult{}, err
		}
		w, err := zw.Create(relPath)
		if err != nil {
			zw.Close()
			return PullResult{}, err
		}
		if _, err := w.Write(content); err != nil {
			zw.Close()
			return PullResult{}, err
		}
	}
	if err := zw.Close(); err != nil {
		return PullResult{}, err
	}

	zipName := dir.Name() + ".zip"
	if dir.Name() == fstree.RootName {
		zipName = "home.zip"
	}
	return PullResult{Name: zipName, Content: buf.Bytes(), IsZip: true}, nil
}

// encodedSize returns the base64-encoded length of a decoded byte count.
func encodedSize(size int64) int64 {
	return (size + 2) / 3 * 4
}

// Write replaces the content of the file at the given path. The content
// is base64-encoded and split into chunks before being written.
func (d *Drive) Write(uid uint64, pathStr string, content []byte) error {
	body := base64.StdEncoding.EncodeToString(content)
	return d.writeBody(uid, pathStr, body, int64(len(content)))
}

// WriteRaw writes an already-encoded body, recording fixedSize as the
// file's decoded size. Used by callers that pre-encode content.
func (d *Drive) WriteRaw(uid uint64, pathStr, body string, fixedSize int64) error {
	return d.writeBody(uid, pathStr, body, fixedSize)
}

// writeBody is the critical write path. The file is locked for its whole
// duration; the tree (with the new size) is persisted before chunks are
// rewired, so a failure mid-rewire can leave the recorded size ahead of
// the chain but never leaves the tree pointing at freed chunks. An
// allocation failure mid-grow releases the lock and surfaces
// ErrOutOfMemory with the file partially accounted.
func (d *Drive) writeBody(uid uint64, pathStr, body string, size int64) error {
	file, trace, chunks, err := d.prepareWrite(uid, pathStr, body, size)
	if err != nil {
		return err
	}
	defer d.unlockFile(file.PathTo())

	if err := d.mem.RemoveFromCache(file.Addr); err != nil {
		return err
	}

	switch {
	case len(chunks) == len(trace):
		// Same chain length: overwrite bodies, preserve every next link
		// verbatim.
		for i, msg := range trace {
			chunk, err := memory.DecodeChunk(msg.Content)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrBrokenTrace, err)
			}
			chunk.Body = chunks[i]
			if err := d.p.EditMessage(msg.ChannelID, msg.ID, chunk.Encode()); err != nil {
				return err
			}
		}

	case len(chunks) > len(trace):
		// Grow: allocate the missing chunks, then rewire the whole
		// chain front to back.
		missing := len(chunks) - len(trace)
		for i := 0; i < missing; i++ {
			msg, err := d.mem.AllocChunk(len(chunks[len(trace)]))
			if err != nil {
				d.Log(fmt.Sprintf("%d failed to edit %s: out of memory", uid, file.Name()))
				return err
			}
			trace = append(trace, msg)
		}
		d.Log(fmt.Sprintf("allocated additional %d chunks to edit file: %s", missing, file.Name()))

		if err := d.rewireChain(trace, chunks); err != nil {
			return err
		}

	default:
		// Shrink: drop the tail, then rewrite the survivors with the
		// last link cut to END. The tail's accounting was already
		// released with the rest of the chain above.
		for _, msg := range trace[len(chunks):] {
			if err := d.mem.DiscardChunk(msg); err != nil {
				return err
			}
		}
		trace = trace[:len(chunks)]

		if err := d.rewireChain(trace, chunks); err != nil {
			return err
		}
	}

	if err := d.mem.CacheSizes(file.Addr); err != nil {
		return err
	}
	d.Log(fmt.Sprintf("%d edited file: %s", uid, file.Name()))
	return nil
}

// prepareWrite is the serialized prefix of the write path: it resolves
// the file, registers it in the lock set, traces the current chain,
// records the new size and persists the tree. On success the file is
// locked and the caller owns the unlock.
func (d *Drive) prepareWrite(uid uint64, pathStr, body string, size int64) (*fstree.File, []platform.Message, []string, error) {
	d.opMu.Lock()
	defer d.opMu.Unlock()

	root, err := d.Structure()
	if err != nil {
		return nil, nil, nil, err
	}
	cwd, ok := d.resolveCwdIn(uid, root)
	if !ok {
		d.Log(fmt.Sprintf("%d failed to write file %s (cwd error)", uid, pathStr))
		return nil, nil, nil, ErrInvalidPath
	}

	target, ok := cwd.MoveTo(pathStr)
	if !ok {
		return nil, nil, nil, ErrInvalidPath
	}
	file, isFile := target.(*fstree.File)
	if !isFile {
		return nil, nil, nil, ErrPathToDir
	}
	filePath := file.PathTo()

	if d.isFileLocked(filePath) {
		d.Log(fmt.Sprintf("%d failed to write file %s (file is locked due to an ongoing operation)", uid, file.Name()))
		return nil, nil, nil, ErrFileLocked
	}
	d.lockFile(filePath)

	trace, err := d.mem.Trace(file.Addr)
	if err != nil {
		d.unlockFile(filePath)
		d.Log(fmt.Sprintf("%d failed to edit %s: broken file trace", uid, file.Name()))
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrBrokenTrace, err)
	}

	chunks := memory.SplitBody(body)
	if len(chunks) == 0 {
		// An empty body keeps the blank marker so the chain never runs
		// dry.
		chunks = []string{memory.BlankBody}
	}

	file.Size = size
	if err := d.setStruct(cwd.Base()); err != nil {
		d.unlockFile(filePath)
		return nil, nil, nil, err
	}
	return file, trace, chunks, nil
}

// rewireChain writes new bodies into the chain's messages and relinks
// them in order: every chunk points at its successor, the last at END.
func (d *Drive) rewireChain(trace []platform.Message, chunks []string) error {
	for i, msg := range trace {
		next := memory.EndMarker
		if i < len(trace)-1 {
			next = memory.AddressOf(trace[i+1]).String()
		}
		if err := d.p.EditMessage(msg.ChannelID, msg.ID, memory.EncodeChunk(chunks[i], next)); err != nil {
			return err
		}
	}
	return nil
}

// Permissions resolves a user's access level from the drive's role set.
// An unknown member gets the zero (no-access) permissions.
func (d *Drive) Permissions(uid uint64) Permissions {
	owner, err := d.p.ServerOwner(d.serverID)
	if err == nil && uid == owner {
		return Permissions{Owner: true}.Normalize()
	}

	roles, err := d.p.MemberRoles(d.serverID, uid)
	if err != nil {
		return Permissions{}
	}

	var perms Permissions
	for _, role := range roles {
		switch role {
		case d.layout.OwnerRoleID:
			perms.Owner = true
		case d.layout.AdminRoleID:
			perms.Admin = true
		case d.layout.WriteRoleID:
			perms.Write = true
		case d.layout.ReadRoleID:
			perms.Read = true
		}
	}
	return perms.Normalize()
}

// SetPermissions grants and revokes the drive's access roles to match
// the target permission set.
func (d *Drive) SetPermissions(uid uint64, perms Permissions) error {
	perms = perms.Normalize()

	// Owner is implied by server ownership, not by a grantable flag.
	grants := map[uint64]bool{
		d.layout.ReadRoleID:  perms.Read,
		d.layout.WriteRoleID: perms.Write,
		d.layout.AdminRoleID: perms.Admin,
	}

	current, err := d.p.MemberRoles(d.serverID, uid)
	if err != nil {
		return err
	}
	has := make(map[uint64]bool, len(current))
	for _, role := range current {
		has[role] = true
	}

	for role, want := range grants {
		switch {
		case want && !has[role]:
			if err := d.p.AssignRole(d.serverID, uid, role); err != nil {
				return err
			}
		case !want && has[role]:
			if err := d.p.UnassignRole(d.serverID, uid, role); err != nil {
				return err
			}
		}
	}

	return d.Log(fmt.Sprintf("updated %d's permissions to: %+v", uid, perms))
}

// IsCrucialChannel reports whether a channel (or category) is part of
// the drive's system layout: console, logs, struct, the meta category or
// any bucket category and its channels.
func (d *Drive) IsCrucialChannel(channelID uint64) bool {
	switch channelID {
	case d.layout.ConsoleID, d.layout.LogsID, d.layout.StructID, d.layout.MetaCategoryID:
		return true
	}
	return d.mem.OwnsChannel(channelID) || d.mem.OwnsCategory(channelID)
}
