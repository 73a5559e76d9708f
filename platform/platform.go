// Package platform defines the narrow chat-platform contract the storage
// engine is built on. A Platform exposes message CRUD inside text channels,
// channel and category management on a server, and the role surface the
// permission layer consults. Both the real Discord adapter and the in-memory
// mock used by tests implement this interface.
package platform

import (
	"errors"
	"fmt"
)

// Message is one chat message. The storage engine only ever looks at its
// identifiers, its author and its textual content.
type Message struct {
	ID        uint64
	ChannelID uint64
	AuthorID  uint64
	Content   string
}

// Channel is a text channel on a server. ParentID is the owning category,
// zero for channels outside any category.
type Channel struct {
	ID       uint64
	ParentID uint64
	Name     string
}

// Category groups channels on a server.
type Category struct {
	ID   uint64
	Name string
}

// Role is a named permission role on a server.
type Role struct {
	ID   uint64
	Name string
}

// Overwrite declares per-role visibility for a created category.
// The zero RoleID addresses the server-wide everyone role.
type Overwrite struct {
	RoleID uint64
	View   bool
	Send   bool
}

// Platform is the full capability set the storage engine requires from the
// chat platform. Every method may fail with a transport error; the engine
// performs no retries of its own.
type Platform interface {
	// Me returns the user id the platform client is authenticated as.
	// Messages authored by other users are treated as foreign.
	Me() uint64

	// Categories lists the categories of a server.
	Categories(serverID uint64) ([]Category, error)

	// Channels lists all text channels of a server, including those
	// outside any category.
	Channels(serverID uint64) ([]Channel, error)

	// ChannelsIn lists the text channels under one category.
	ChannelsIn(serverID, categoryID uint64) ([]Channel, error)

	// CreateCategory creates a category with the given visibility
	// overwrites applied.
	CreateCategory(serverID uint64, name string, overwrites []Overwrite) (Category, error)

	// CreateChannel creates a text channel. categoryID may be zero for a
	// top-level channel.
	CreateChannel(serverID, categoryID uint64, name string) (Channel, error)

	// DeleteChannel removes a channel and its whole message history.
	// Category ids are accepted as well; chat platforms model
	// categories as channels.
	DeleteChannel(serverID, channelID uint64) error

	// SendMessage posts a message and returns it with its assigned id.
	SendMessage(channelID uint64, content string) (Message, error)

	// EditMessage replaces the content of an existing message.
	EditMessage(channelID, messageID uint64, content string) error

	// DeleteMessage removes a message.
	DeleteMessage(channelID, messageID uint64) error

	// FetchMessage retrieves a single message by id. A missing message
	// is an error.
	FetchMessage(channelID, messageID uint64) (Message, error)

	// RecentMessages returns up to limit messages from a channel,
	// newest first.
	RecentMessages(channelID uint64, limit int) ([]Message, error)

	// Roles lists the roles of a server.
	Roles(serverID uint64) ([]Role, error)

	// CreateRole creates a role with the given name.
	CreateRole(serverID uint64, name string) (Role, error)

	// AssignRole grants a role to a member.
	AssignRole(serverID, userID, roleID uint64) error

	// UnassignRole revokes a role from a member.
	UnassignRole(serverID, userID, roleID uint64) error

	// MemberRoles returns the role ids held by a member. An unknown
	// member yields an empty slice, not an error.
	MemberRoles(serverID, userID uint64) ([]uint64, error)

	// ServerOwner returns the user id owning the server.
	ServerOwner(serverID uint64) (uint64, error)

	// LeaveServer detaches the client from a server. Used by the panic
	// response when structural invariants are violated.
	LeaveServer(serverID uint64) error
}

// MessageDeleteEvent reports a message removed from a channel. AuthorID is
// zero when the platform could not recover the author of the deleted
// message from its cache.
type MessageDeleteEvent struct {
	ServerID  uint64
	ChannelID uint64
	MessageID uint64
	AuthorID  uint64
}

// MessageCreateEvent reports a message posted to a channel.
type MessageCreateEvent struct {
	Message  Message
	ServerID uint64
}

// ChannelDeleteEvent reports a removed channel.
type ChannelDeleteEvent struct {
	ServerID  uint64
	ChannelID uint64
	ParentID  uint64
	Name      string
}

// ChannelUpdateEvent reports a channel change. OldName is empty when the
// previous state is unknown.
type ChannelUpdateEvent struct {
	ServerID  uint64
	ChannelID uint64
	OldName   string
	NewName   string
}

// RoleDeleteEvent reports a removed role.
type RoleDeleteEvent struct {
	ServerID uint64
	RoleID   uint64
}

// MemberJoinEvent reports a user joining a server.
type MemberJoinEvent struct {
	ServerID uint64
	UserID   uint64
}

// ServerJoinEvent reports the client being added to a server.
type ServerJoinEvent struct {
	ServerID uint64
}

// ServerRemoveEvent reports the client being removed from a server.
type ServerRemoveEvent struct {
	ServerID uint64
}

// NotFoundError reports a missing channel or message.
type NotFoundError struct {
	Kind string
	ID   uint64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
