package drive

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/7hebel/drivecord-server/platform"
)

// Supervisor reacts to gateway events affecting drive lifecycles:
// tampering with drive-authored messages, removal of crucial channels or
// roles, and the client joining or leaving servers. Structural damage is
// escalated to the drive's panic response.
type Supervisor struct {
	p   platform.Platform
	reg *Registry
	log *logrus.Entry
}

// NewSupervisor wires a supervisor over a registry.
func NewSupervisor(p platform.Platform, reg *Registry) *Supervisor {
	return &Supervisor{p: p, reg: reg, log: logrus.WithField("component", "supervisor")}
}

// HandleMessageDelete checks a message deletion against the allocator's
// recently-deleted queue. A drive-authored message removed by anyone
// else is tampering with the backing medium and panics the drive.
// Deletions on the console channel are ignored.
func (s *Supervisor) HandleMessageDelete(ev platform.MessageDeleteEvent) {
	if ev.AuthorID != 0 && ev.AuthorID != s.p.Me() {
		return
	}

	d, err := s.reg.Get(ev.ServerID)
	if err != nil {
		return
	}
	if ev.ChannelID == d.Layout().ConsoleID {
		return
	}
	if d.Memory().WasRecentlyRemoved(ev.MessageID) {
		return
	}

	d.Panic(fmt.Sprintf("Removed client's message: %d", ev.MessageID))
}

// HandleMessageCreate removes foreign messages posted to system
// channels, recording the id so the deletion is not mistaken for
// tampering. Messages on the console channel are left to the command
// surface.
func (s *Supervisor) HandleMessageCreate(ev platform.MessageCreateEvent) {
	if ev.Message.AuthorID == s.p.Me() {
		return
	}

	d, err := s.reg.Get(ev.ServerID)
	if err != nil {
		return
	}
	if ev.Message.ChannelID == d.Layout().ConsoleID {
		return
	}

	d.Memory().RecordRemoved(ev.Message.ID)
	d.Log(fmt.Sprintf("%d sent message at system channel (removed)", ev.Message.AuthorID))
	if err := s.p.DeleteMessage(ev.Message.ChannelID, ev.Message.ID); err != nil {
		s.log.Warnf("failed to remove foreign message %d: %v", ev.Message.ID, err)
	}
}

// HandleChannelDelete panics the drive when a crucial system or data
// channel disappears.
func (s *Supervisor) HandleChannelDelete(ev platform.ChannelDeleteEvent) {
	d, ok := s.reg.Lookup(ev.ServerID)
	if !ok {
		var err error
		d, err = s.reg.Get(ev.ServerID)
		if err != nil {
			return
		}
	}

	if d.IsCrucialChannel(ev.ChannelID) {
		d.Panic(fmt.Sprintf("Removed crucial system/data channel: %s", ev.Name))
	}
}

// HandleChannelUpdate panics the drive when a crucial channel is
// renamed: the layout is discovered by name, so a rename breaks the
// next load.
func (s *Supervisor) HandleChannelUpdate(ev platform.ChannelUpdateEvent) {
	if ev.OldName == ev.NewName {
		return
	}

	d, err := s.reg.Get(ev.ServerID)
	if err != nil {
		return
	}
	if d.IsCrucialChannel(ev.ChannelID) {
		d.Panic(fmt.Sprintf("Renamed crucial channel: %s -> %s", ev.OldName, ev.NewName))
	}
}

// HandleRoleDelete panics the drive when one of its access roles is
// removed.
func (s *Supervisor) HandleRoleDelete(ev platform.RoleDeleteEvent) {
	d, err := s.reg.Get(ev.ServerID)
	if err != nil {
		return
	}

	layout := d.Layout()
	switch ev.RoleID {
	case layout.OwnerRoleID, layout.AdminRoleID, layout.WriteRoleID, layout.ReadRoleID:
		d.Panic("Removed crucial role.")
	}
}

// HandleServerJoin loads or initializes a drive on a joined server. The
// join event also fires for every known server on gateway connect, so a
// server that already carries a valid drive layout is loaded, never
// re-initialized.
func (s *Supervisor) HandleServerJoin(ev platform.ServerJoinEvent) {
	if _, err := s.reg.Get(ev.ServerID); err == nil {
		return
	}
	s.log.Infof("joined server %d, initializing", ev.ServerID)
	s.reg.Evict(ev.ServerID)

	if _, err := Initialize(s.p, ev.ServerID); err != nil {
		s.log.Errorf("failed to initialize server %d: %v", ev.ServerID, err)
	}
}

// HandleServerRemove evicts the drive of a server the client left.
func (s *Supervisor) HandleServerRemove(ev platform.ServerRemoveEvent) {
	s.log.Warnf("removed from server %d", ev.ServerID)
	s.reg.Evict(ev.ServerID)
}

// HandleMemberJoin records a new member in the audit log. Account
// handling is a concern of the outer layers.
func (s *Supervisor) HandleMemberJoin(ev platform.MemberJoinEvent) {
	d, err := s.reg.Get(ev.ServerID)
	if err != nil {
		return
	}
	d.Log(fmt.Sprintf("user %d joined the drive server", ev.UserID))
}
