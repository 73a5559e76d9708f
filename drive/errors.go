package drive

import (
	"errors"

	"github.com/7hebel/drivecord-server/memory"
)

// Wire-stable error kinds surfaced by drive operations. Callers compare
// with errors.Is; the exact strings travel over the API unchanged.
var (
	ErrInvalidName  = errors.New("Invalid object's name.")
	ErrInvalidPath  = errors.New("Invalid path.")
	ErrPathToFile   = errors.New("Object is a file.")
	ErrPathToDir    = errors.New("Object is a directory.")
	ErrPermission   = errors.New("Missing permissions.")
	ErrFileTooBig   = errors.New("File is too big.")
	ErrCannotRename = errors.New("Cannot rename this object.")
	ErrNameInUse    = errors.New("This name is already in use.")
	ErrFileLocked   = errors.New("File is locked due to ongoing operation.")

	// Memory error kinds, re-exported for callers that only import this
	// package.
	ErrOutOfMemory    = memory.ErrOutOfMemory
	ErrBrokenTrace    = memory.ErrBrokenTrace
	ErrInvalidAddress = memory.ErrInvalidAddress
)
