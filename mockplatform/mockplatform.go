// Package mockplatform provides an in-memory chat platform for testing
// the storage engine without a real gateway.
//
// Usage:
//
//	p := mockplatform.New(
//		mockplatform.WithServer(1, 42),
//	)
//	d, err := drive.Initialize(p, 1)
//
// The mock assigns sequential ids, keeps per-channel message history in
// send order, and records which servers the client left. Helpers expose
// the raw state tests need to poke at: channel lookup by name, message
// history, foreign message injection and message removal.
package mockplatform

import (
	"strconv"
	"sync"

	"github.com/7hebel/drivecord-server/platform"
)

// BotID is the default user id the mock authenticates as.
const BotID = 1

// Platform is an in-memory implementation of platform.Platform.
type Platform struct {
	mu     sync.Mutex
	me     uint64
	nextID uint64

	servers map[uint64]*serverState

	// EditCount counts successful EditMessage calls.
	EditCount int
	// SendCount counts SendMessage calls.
	SendCount int
}

type serverState struct {
	ownerID    uint64
	categories []*platform.Category
	channels   []*channelState
	roles      []platform.Role
	members    map[uint64][]uint64
	left       bool
}

type channelState struct {
	ch       platform.Channel
	messages []platform.Message // oldest first
}

// Option configures the mock platform.
type Option func(*Platform)

// WithMe overrides the authenticated user id.
func WithMe(id uint64) Option {
	return func(p *Platform) { p.me = id }
}

// WithServer registers an empty server owned by the given user.
func WithServer(serverID, ownerID uint64) Option {
	return func(p *Platform) {
		p.servers[serverID] = &serverState{
			ownerID: ownerID,
			members: make(map[uint64][]uint64),
		}
	}
}

// AddServer registers a server owned by the given user after
// construction, for multi-server tests.
func (p *Platform) AddServer(serverID, ownerID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.servers[serverID] = &serverState{
		ownerID: ownerID,
		members: make(map[uint64][]uint64),
	}
}

// New creates a mock platform.
func New(opts ...Option) *Platform {
	p := &Platform{
		me:      BotID,
		nextID:  1000,
		servers: make(map[uint64]*serverState),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ platform.Platform = (*Platform)(nil)

func (p *Platform) id() uint64 {
	p.nextID++
	return p.nextID
}

func (p *Platform) server(serverID uint64) *serverState {
	s, ok := p.servers[serverID]
	if !ok {
		s = &serverState{members: make(map[uint64][]uint64)}
		p.servers[serverID] = s
	}
	return s
}

func (p *Platform) channel(channelID uint64) *channelState {
	for _, s := range p.servers {
		for _, ch := range s.channels {
			if ch.ch.ID == channelID {
				return ch
			}
		}
	}
	return nil
}

// Me implements platform.Platform.
func (p *Platform) Me() uint64 {
	return p.me
}

// Categories implements platform.Platform.
func (p *Platform) Categories(serverID uint64) ([]platform.Category, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.server(serverID)
	out := make([]platform.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, *c)
	}
	return out, nil
}

// Channels implements platform.Platform.
func (p *Platform) Channels(serverID uint64) ([]platform.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.server(serverID)
	out := make([]platform.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch.ch)
	}
	return out, nil
}

// ChannelsIn implements platform.Platform.
func (p *Platform) ChannelsIn(serverID, categoryID uint64) ([]platform.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.server(serverID)
	var out []platform.Channel
	for _, ch := range s.channels {
		if ch.ch.ParentID == categoryID {
			out = append(out, ch.ch)
		}
	}
	return out, nil
}

// CreateCategory implements platform.Platform. Overwrites are accepted
// and ignored: the mock has no permission model.
func (p *Platform) CreateCategory(serverID uint64, name string, _ []platform.Overwrite) (platform.Category, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.server(serverID)
	category := platform.Category{ID: p.id(), Name: name}
	s.categories = append(s.categories, &category)
	return category, nil
}

// CreateChannel implements platform.Platform.
func (p *Platform) CreateChannel(serverID, categoryID uint64, name string) (platform.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.server(serverID)
	ch := platform.Channel{ID: p.id(), ParentID: categoryID, Name: name}
	s.channels = append(s.channels, &channelState{ch: ch})
	return ch, nil
}

// DeleteChannel implements platform.Platform. Category ids are accepted
// too; their member channels stay and become orphans, as on the real
// platform.
func (p *Platform) DeleteChannel(serverID, channelID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.server(serverID)
	for i, ch := range s.channels {
		if ch.ch.ID == channelID {
			s.channels = append(s.channels[:i], s.channels[i+1:]...)
			return nil
		}
	}
	for i, c := range s.categories {
		if c.ID == channelID {
			s.categories = append(s.categories[:i], s.categories[i+1:]...)
			return nil
		}
	}
	return &platform.NotFoundError{Kind: "channel", ID: channelID}
}

// SendMessage implements platform.Platform.
func (p *Platform) SendMessage(channelID uint64, content string) (platform.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := p.channel(channelID)
	if ch == nil {
		return platform.Message{}, &platform.NotFoundError{Kind: "channel", ID: channelID}
	}

	p.SendCount++
	msg := platform.Message{ID: p.id(), ChannelID: channelID, AuthorID: p.me, Content: content}
	ch.messages = append(ch.messages, msg)
	return msg, nil
}

// EditMessage implements platform.Platform.
func (p *Platform) EditMessage(channelID, messageID uint64, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := p.channel(channelID)
	if ch == nil {
		return &platform.NotFoundError{Kind: "channel", ID: channelID}
	}
	for i := range ch.messages {
		if ch.messages[i].ID == messageID {
			p.EditCount++
			ch.messages[i].Content = content
			return nil
		}
	}
	return &platform.NotFoundError{Kind: "message", ID: messageID}
}

// DeleteMessage implements platform.Platform.
func (p *Platform) DeleteMessage(channelID, messageID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := p.channel(channelID)
	if ch == nil {
		return &platform.NotFoundError{Kind: "channel", ID: channelID}
	}
	for i := range ch.messages {
		if ch.messages[i].ID == messageID {
			ch.messages = append(ch.messages[:i], ch.messages[i+1:]...)
			return nil
		}
	}
	return &platform.NotFoundError{Kind: "message", ID: messageID}
}

// FetchMessage implements platform.Platform.
func (p *Platform) FetchMessage(channelID, messageID uint64) (platform.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := p.channel(channelID)
	if ch == nil {
		return platform.Message{}, &platform.NotFoundError{Kind: "channel", ID: channelID}
	}
	for _, msg := range ch.messages {
		if msg.ID == messageID {
			return msg, nil
		}
	}
	return platform.Message{}, &platform.NotFoundError{Kind: "message", ID: messageID}
}

// RecentMessages implements platform.Platform: newest first.
func (p *Platform) RecentMessages(channelID uint64, limit int) ([]platform.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := p.channel(channelID)
	if ch == nil {
		return nil, &platform.NotFoundError{Kind: "channel", ID: channelID}
	}

	var out []platform.Message
	for i := len(ch.messages) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, ch.messages[i])
	}
	return out, nil
}

// Roles implements platform.Platform.
func (p *Platform) Roles(serverID uint64) ([]platform.Role, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]platform.Role(nil), p.server(serverID).roles...), nil
}

// CreateRole implements platform.Platform.
func (p *Platform) CreateRole(serverID uint64, name string) (platform.Role, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.server(serverID)
	role := platform.Role{ID: p.id(), Name: name}
	s.roles = append(s.roles, role)
	return role, nil
}

// AssignRole implements platform.Platform.
func (p *Platform) AssignRole(serverID, userID, roleID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.server(serverID)
	for _, id := range s.members[userID] {
		if id == roleID {
			return nil
		}
	}
	s.members[userID] = append(s.members[userID], roleID)
	return nil
}

// UnassignRole implements platform.Platform.
func (p *Platform) UnassignRole(serverID, userID, roleID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.server(serverID)
	roles := s.members[userID]
	for i, id := range roles {
		if id == roleID {
			s.members[userID] = append(roles[:i], roles[i+1:]...)
			return nil
		}
	}
	return nil
}

// MemberRoles implements platform.Platform.
func (p *Platform) MemberRoles(serverID, userID uint64) ([]uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uint64(nil), p.server(serverID).members[userID]...), nil
}

// ServerOwner implements platform.Platform.
func (p *Platform) ServerOwner(serverID uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.server(serverID).ownerID, nil
}

// LeaveServer implements platform.Platform. The departure is recorded
// for HasLeft; state is kept so tests can inspect it.
func (p *Platform) LeaveServer(serverID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.server(serverID).left = true
	return nil
}

// --- test helpers ---

// HasLeft reports whether the client left the server via the panic
// response.
func (p *Platform) HasLeft(serverID uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.server(serverID).left
}

// FindChannel looks a channel up by category and channel name. An empty
// categoryName matches channels outside any category.
func (p *Platform) FindChannel(serverID uint64, categoryName, channelName string) (platform.Channel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.server(serverID)
	var parentID uint64
	if categoryName != "" {
		found := false
		for _, c := range s.categories {
			if c.Name == categoryName {
				parentID = c.ID
				found = true
				break
			}
		}
		if !found {
			return platform.Channel{}, false
		}
	}

	for _, ch := range s.channels {
		if ch.ch.Name == channelName && ch.ch.ParentID == parentID {
			return ch.ch, true
		}
	}
	return platform.Channel{}, false
}

// Messages returns a channel's history, oldest first.
func (p *Platform) Messages(channelID uint64) []platform.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := p.channel(channelID)
	if ch == nil {
		return nil
	}
	return append([]platform.Message(nil), ch.messages...)
}

// InjectMessage plants a message with an arbitrary author, for junk and
// tamper tests. Returns the planted message.
func (p *Platform) InjectMessage(channelID, authorID uint64, content string) platform.Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch := p.channel(channelID)
	if ch == nil {
		panic("mockplatform: inject into unknown channel " + strconv.FormatUint(channelID, 10))
	}
	msg := platform.Message{ID: p.id(), ChannelID: channelID, AuthorID: authorID, Content: content}
	ch.messages = append(ch.messages, msg)
	return msg
}
