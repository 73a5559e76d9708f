package fstree

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/7hebel/drivecord-server/memory"
)

// Serialization tokens. The serialized tree is a pre-order walk: each
// directory emits its own header, then its files, then its
// subdirectories, then a single pop token.
const (
	tokenDir    = "D"
	tokenFile   = "F"
	tokenEndObj = "|"
	tokenOutDir = "?"
)

// Export serializes the directory subtree into the struct-message
// grammar:
//
//	FileNode := "F:" name ":" channel_id ":" message_id ":" size "|"
//	DirNode  := "D:" name "|" Child* "?"
func (d *Dir) Export() string {
	var b strings.Builder
	d.export(&b)
	return b.String()
}

func (d *Dir) export(b *strings.Builder) {
	b.WriteString(tokenDir)
	b.WriteString(":")
	b.WriteString(d.name)
	b.WriteString(tokenEndObj)

	for _, f := range d.files {
		b.WriteString(f.repr())
	}
	for _, sub := range d.dirs {
		sub.export(b)
	}

	b.WriteString(tokenOutDir)
}

// repr renders the file's serialized node.
func (f *File) repr() string {
	return fmt.Sprintf("%s:%s:%d:%d:%d%s",
		tokenFile, f.name, f.Addr.ChannelID, f.Addr.MessageID, f.Size, tokenEndObj)
}

// Parse rebuilds a tree from its serialized form. Parenthood is
// reconstructed by tracking a top pointer that every directory node
// pushes and every pop token pops. The first node must be a directory;
// it becomes the returned root.
func Parse(raw string) (*Dir, error) {
	var root, top *Dir

	for raw != "" {
		// Consume pop tokens before the next node.
		for strings.HasPrefix(raw, tokenOutDir) {
			raw = raw[1:]
			if top != nil && top.parent != nil {
				top = top.parent
			}
		}
		if raw == "" {
			break
		}

		part, tail, ok := strings.Cut(raw, tokenEndObj)
		if !ok {
			return nil, fmt.Errorf("unterminated node %q", raw)
		}
		raw = tail

		switch {
		case strings.HasPrefix(part, tokenFile+":"):
			if top == nil {
				return nil, fmt.Errorf("file node %q outside any directory", part)
			}
			if _, err := parseFilePart(part, top); err != nil {
				return nil, err
			}

		case strings.HasPrefix(part, tokenDir+":"):
			name := part[len(tokenDir)+1:]
			if name == "" {
				return nil, fmt.Errorf("directory node with empty name")
			}
			dir := NewDir(name, top)
			if root == nil {
				root = dir
			}
			top = dir

		default:
			return nil, fmt.Errorf("invalid node type in %q", part)
		}
	}

	if root == nil {
		return nil, fmt.Errorf("serialized tree holds no root directory")
	}
	return root, nil
}

func parseFilePart(part string, parent *Dir) (*File, error) {
	fields := strings.Split(part, ":")
	if len(fields) != 5 {
		return nil, fmt.Errorf("cannot parse file node %q", part)
	}

	channelID, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("file node %q channel id: %w", part, err)
	}
	messageID, err := strconv.ParseUint(fields[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("file node %q message id: %w", part, err)
	}
	size, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("file node %q size: %w", part, err)
	}

	addr := memory.Address{ChannelID: channelID, MessageID: messageID}
	return NewFile(fields[1], parent, addr, size), nil
}
