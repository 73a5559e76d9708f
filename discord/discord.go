// Package discord adapts the Discord gateway to the platform contract
// the storage engine consumes. Ids are Discord snowflakes, parsed into
// the numeric form the engine uses; the server-wide everyone role is
// addressed by the zero role id in overwrites.
package discord

import (
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/7hebel/drivecord-server/platform"
)

// rolePermissions is the permission set granted to the non-owner access
// roles: view channels plus send messages.
const rolePermissions = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages

// Platform implements platform.Platform over a discordgo session.
type Platform struct {
	session *discordgo.Session
	me      uint64
}

var _ platform.Platform = (*Platform)(nil)

// New wraps an opened discordgo session. The session must be
// authenticated; the bot's own user id is resolved once here.
func New(session *discordgo.Session) (*Platform, error) {
	self, err := session.User("@me")
	if err != nil {
		return nil, fmt.Errorf("resolving own user: %w", err)
	}
	me, err := parseID(self.ID)
	if err != nil {
		return nil, err
	}
	return &Platform{session: session, me: me}, nil
}

// Session exposes the underlying discordgo session for event wiring.
func (p *Platform) Session() *discordgo.Session {
	return p.session
}

func parseID(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed snowflake %q: %w", s, err)
	}
	return id, nil
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func convertMessage(m *discordgo.Message) platform.Message {
	msg := platform.Message{Content: m.Content}
	msg.ID, _ = parseID(m.ID)
	msg.ChannelID, _ = parseID(m.ChannelID)
	if m.Author != nil {
		msg.AuthorID, _ = parseID(m.Author.ID)
	}
	return msg
}

// Me implements platform.Platform.
func (p *Platform) Me() uint64 {
	return p.me
}

// Categories implements platform.Platform.
func (p *Platform) Categories(serverID uint64) ([]platform.Category, error) {
	channels, err := p.session.GuildChannels(formatID(serverID))
	if err != nil {
		return nil, err
	}

	var out []platform.Category
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildCategory {
			continue
		}
		id, err := parseID(ch.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, platform.Category{ID: id, Name: ch.Name})
	}
	return out, nil
}

// Channels implements platform.Platform.
func (p *Platform) Channels(serverID uint64) ([]platform.Channel, error) {
	return p.listChannels(serverID, 0, false)
}

// ChannelsIn implements platform.Platform.
func (p *Platform) ChannelsIn(serverID, categoryID uint64) ([]platform.Channel, error) {
	return p.listChannels(serverID, categoryID, true)
}

func (p *Platform) listChannels(serverID, categoryID uint64, filter bool) ([]platform.Channel, error) {
	channels, err := p.session.GuildChannels(formatID(serverID))
	if err != nil {
		return nil, err
	}

	var out []platform.Channel
	for _, ch := range channels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		id, err := parseID(ch.ID)
		if err != nil {
			return nil, err
		}
		parent, err := parseID(ch.ParentID)
		if err != nil {
			return nil, err
		}
		if filter && parent != categoryID {
			continue
		}
		out = append(out, platform.Channel{ID: id, ParentID: parent, Name: ch.Name})
	}
	return out, nil
}

// overwriteData maps platform overwrites to Discord's permission
// overwrites. The zero role id addresses the guild-wide everyone role,
// whose snowflake equals the guild id.
func overwriteData(serverID uint64, overwrites []platform.Overwrite) []*discordgo.PermissionOverwrite {
	var out []*discordgo.PermissionOverwrite
	for _, ow := range overwrites {
		roleID := ow.RoleID
		if roleID == 0 {
			roleID = serverID
		}

		var allow, deny int64
		if ow.View {
			allow |= discordgo.PermissionViewChannel
		} else {
			deny |= discordgo.PermissionViewChannel
		}
		if ow.Send {
			allow |= discordgo.PermissionSendMessages
		} else {
			deny |= discordgo.PermissionSendMessages
		}

		out = append(out, &discordgo.PermissionOverwrite{
			ID:    formatID(roleID),
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: allow,
			Deny:  deny,
		})
	}
	return out
}

// CreateCategory implements platform.Platform.
func (p *Platform) CreateCategory(serverID uint64, name string, overwrites []platform.Overwrite) (platform.Category, error) {
	ch, err := p.session.GuildChannelCreateComplex(formatID(serverID), discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildCategory,
		PermissionOverwrites: overwriteData(serverID, overwrites),
	})
	if err != nil {
		return platform.Category{}, err
	}
	id, err := parseID(ch.ID)
	if err != nil {
		return platform.Category{}, err
	}
	return platform.Category{ID: id, Name: ch.Name}, nil
}

// CreateChannel implements platform.Platform.
func (p *Platform) CreateChannel(serverID, categoryID uint64, name string) (platform.Channel, error) {
	data := discordgo.GuildChannelCreateData{
		Name: name,
		Type: discordgo.ChannelTypeGuildText,
	}
	if categoryID != 0 {
		data.ParentID = formatID(categoryID)
	}

	ch, err := p.session.GuildChannelCreateComplex(formatID(serverID), data)
	if err != nil {
		return platform.Channel{}, err
	}
	id, err := parseID(ch.ID)
	if err != nil {
		return platform.Channel{}, err
	}
	return platform.Channel{ID: id, ParentID: categoryID, Name: ch.Name}, nil
}

// DeleteChannel implements platform.Platform. Discord models categories
// as channels, so category ids are accepted as well.
func (p *Platform) DeleteChannel(_, channelID uint64) error {
	_, err := p.session.ChannelDelete(formatID(channelID))
	return err
}

// SendMessage implements platform.Platform.
func (p *Platform) SendMessage(channelID uint64, content string) (platform.Message, error) {
	m, err := p.session.ChannelMessageSend(formatID(channelID), content)
	if err != nil {
		return platform.Message{}, err
	}
	return convertMessage(m), nil
}

// EditMessage implements platform.Platform.
func (p *Platform) EditMessage(channelID, messageID uint64, content string) error {
	_, err := p.session.ChannelMessageEdit(formatID(channelID), formatID(messageID), content)
	return err
}

// DeleteMessage implements platform.Platform.
func (p *Platform) DeleteMessage(channelID, messageID uint64) error {
	return p.session.ChannelMessageDelete(formatID(channelID), formatID(messageID))
}

// FetchMessage implements platform.Platform.
func (p *Platform) FetchMessage(channelID, messageID uint64) (platform.Message, error) {
	m, err := p.session.ChannelMessage(formatID(channelID), formatID(messageID))
	if err != nil {
		return platform.Message{}, &platform.NotFoundError{Kind: "message", ID: messageID}
	}
	msg := convertMessage(m)
	// Some REST responses omit the channel id; restore it from the call.
	if msg.ChannelID == 0 {
		msg.ChannelID = channelID
	}
	return msg, nil
}

// RecentMessages implements platform.Platform: newest first, as Discord
// returns them.
func (p *Platform) RecentMessages(channelID uint64, limit int) ([]platform.Message, error) {
	msgs, err := p.session.ChannelMessages(formatID(channelID), limit, "", "", "")
	if err != nil {
		return nil, err
	}

	out := make([]platform.Message, 0, len(msgs))
	for _, m := range msgs {
		msg := convertMessage(m)
		if msg.ChannelID == 0 {
			msg.ChannelID = channelID
		}
		out = append(out, msg)
	}
	return out, nil
}

// Roles implements platform.Platform.
func (p *Platform) Roles(serverID uint64) ([]platform.Role, error) {
	roles, err := p.session.GuildRoles(formatID(serverID))
	if err != nil {
		return nil, err
	}

	out := make([]platform.Role, 0, len(roles))
	for _, r := range roles {
		id, err := parseID(r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, platform.Role{ID: id, Name: r.Name})
	}
	return out, nil
}

// CreateRole implements platform.Platform.
func (p *Platform) CreateRole(serverID uint64, name string) (platform.Role, error) {
	perms := int64(rolePermissions)
	hoist := true
	r, err := p.session.GuildRoleCreate(formatID(serverID), &discordgo.RoleParams{
		Name:        name,
		Permissions: &perms,
		Hoist:       &hoist,
	})
	if err != nil {
		return platform.Role{}, err
	}
	id, err := parseID(r.ID)
	if err != nil {
		return platform.Role{}, err
	}
	return platform.Role{ID: id, Name: r.Name}, nil
}

// AssignRole implements platform.Platform.
func (p *Platform) AssignRole(serverID, userID, roleID uint64) error {
	return p.session.GuildMemberRoleAdd(formatID(serverID), formatID(userID), formatID(roleID))
}

// UnassignRole implements platform.Platform.
func (p *Platform) UnassignRole(serverID, userID, roleID uint64) error {
	return p.session.GuildMemberRoleRemove(formatID(serverID), formatID(userID), formatID(roleID))
}

// MemberRoles implements platform.Platform. An unknown member yields an
// empty slice.
func (p *Platform) MemberRoles(serverID, userID uint64) ([]uint64, error) {
	member, err := p.session.GuildMember(formatID(serverID), formatID(userID))
	if err != nil {
		return nil, nil
	}

	out := make([]uint64, 0, len(member.Roles))
	for _, r := range member.Roles {
		id, err := parseID(r)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// ServerOwner implements platform.Platform.
func (p *Platform) ServerOwner(serverID uint64) (uint64, error) {
	guild, err := p.session.Guild(formatID(serverID))
	if err != nil {
		return 0, err
	}
	return parseID(guild.OwnerID)
}

// LeaveServer implements platform.Platform.
func (p *Platform) LeaveServer(serverID uint64) error {
	return p.session.GuildLeave(formatID(serverID))
}
