package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/7hebel/drivecord-server/drive"
	"github.com/7hebel/drivecord-server/platform"
)

// BindSupervisor registers gateway handlers translating Discord events
// into supervisor calls. Call before opening the session.
func BindSupervisor(session *discordgo.Session, sup *drive.Supervisor) {
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageDelete) {
		ev := platform.MessageDeleteEvent{}
		ev.ServerID, _ = parseID(m.GuildID)
		ev.ChannelID, _ = parseID(m.ChannelID)
		ev.MessageID, _ = parseID(m.ID)
		// The gateway does not carry the author of a deleted message;
		// recover it from the state cache when possible.
		if m.BeforeDelete != nil && m.BeforeDelete.Author != nil {
			ev.AuthorID, _ = parseID(m.BeforeDelete.Author.ID)
		}
		if ev.ServerID == 0 {
			return
		}
		sup.HandleMessageDelete(ev)
	})

	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		if m.GuildID == "" {
			return
		}
		ev := platform.MessageCreateEvent{Message: convertMessage(m.Message)}
		ev.ServerID, _ = parseID(m.GuildID)
		sup.HandleMessageCreate(ev)
	})

	session.AddHandler(func(_ *discordgo.Session, c *discordgo.ChannelDelete) {
		ev := platform.ChannelDeleteEvent{Name: c.Name}
		ev.ServerID, _ = parseID(c.GuildID)
		ev.ChannelID, _ = parseID(c.ID)
		ev.ParentID, _ = parseID(c.ParentID)
		if ev.ServerID == 0 {
			return
		}
		sup.HandleChannelDelete(ev)
	})

	session.AddHandler(func(_ *discordgo.Session, c *discordgo.ChannelUpdate) {
		ev := platform.ChannelUpdateEvent{NewName: c.Name}
		ev.ServerID, _ = parseID(c.GuildID)
		ev.ChannelID, _ = parseID(c.ID)
		if c.BeforeUpdate != nil {
			ev.OldName = c.BeforeUpdate.Name
		}
		if ev.ServerID == 0 {
			return
		}
		sup.HandleChannelUpdate(ev)
	})

	session.AddHandler(func(_ *discordgo.Session, r *discordgo.GuildRoleDelete) {
		ev := platform.RoleDeleteEvent{}
		ev.ServerID, _ = parseID(r.GuildID)
		ev.RoleID, _ = parseID(r.RoleID)
		sup.HandleRoleDelete(ev)
	})

	session.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
		ev := platform.MemberJoinEvent{}
		ev.ServerID, _ = parseID(m.GuildID)
		ev.UserID, _ = parseID(m.User.ID)
		sup.HandleMemberJoin(ev)
	})

	session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		// GuildCreate also fires for every known guild on connect; the
		// supervisor loads existing drives and only initializes servers
		// without a valid layout.
		ev := platform.ServerJoinEvent{}
		ev.ServerID, _ = parseID(g.ID)
		sup.HandleServerJoin(ev)
	})

	session.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildDelete) {
		ev := platform.ServerRemoveEvent{}
		ev.ServerID, _ = parseID(g.ID)
		sup.HandleServerRemove(ev)
	})
}
