package drive

import (
	"encoding/base64"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/7hebel/drivecord-server/fstree"
	"github.com/7hebel/drivecord-server/memory"
	"github.com/7hebel/drivecord-server/platform"
)

// Names of the system channels, categories and access roles making up a
// drive's layout on its chat server.
const (
	MetaCategoryName  = "meta"
	LogsChannelName   = "_logs"
	StructChannelName = "_struct"
	ConsoleName       = "console"

	RoleOwnerName = "DriveCord-owner"
	RoleAdminName = "DriveCord-admin"
	RoleWriteName = "DriveCord-write"
	RoleReadName  = "DriveCord-read"
)

// systemOverwrites hides a system category from regular members and
// gives the admin role read-only visibility.
func systemOverwrites(adminRoleID uint64) []platform.Overwrite {
	return []platform.Overwrite{
		{RoleID: 0, View: false},
		{RoleID: adminRoleID, View: true, Send: false},
	}
}

// Load reconstructs a drive from an already-initialized chat server by
// discovering its layout by name: the meta category with the logs and
// struct channels, the console channel, the four access roles and every
// data bucket. A missing piece fails the load.
func Load(p platform.Platform, serverID uint64) (*Drive, error) {
	var layout Layout

	categories, err := p.Categories(serverID)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	for _, category := range categories {
		if category.Name == MetaCategoryName {
			layout.MetaCategoryID = category.ID
			break
		}
	}
	if layout.MetaCategoryID == 0 {
		return nil, fmt.Errorf("drive %d has no %s category", serverID, MetaCategoryName)
	}

	metaChannels, err := p.ChannelsIn(serverID, layout.MetaCategoryID)
	if err != nil {
		return nil, fmt.Errorf("listing meta channels: %w", err)
	}
	for _, ch := range metaChannels {
		switch ch.Name {
		case LogsChannelName:
			layout.LogsID = ch.ID
		case StructChannelName:
			layout.StructID = ch.ID
		}
	}
	if layout.LogsID == 0 {
		return nil, fmt.Errorf("drive %d has no logs channel", serverID)
	}
	if layout.StructID == 0 {
		return nil, fmt.Errorf("drive %d has no struct channel", serverID)
	}

	channels, err := p.Channels(serverID)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	for _, ch := range channels {
		if ch.Name == ConsoleName && ch.ParentID == 0 {
			layout.ConsoleID = ch.ID
			break
		}
	}
	if layout.ConsoleID == 0 {
		return nil, fmt.Errorf("drive %d has no console channel", serverID)
	}

	roles, err := p.Roles(serverID)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	for _, role := range roles {
		switch role.Name {
		case RoleOwnerName:
			layout.OwnerRoleID = role.ID
		case RoleAdminName:
			layout.AdminRoleID = role.ID
		case RoleWriteName:
			layout.WriteRoleID = role.ID
		case RoleReadName:
			layout.ReadRoleID = role.ID
		}
	}
	if layout.OwnerRoleID == 0 || layout.AdminRoleID == 0 || layout.WriteRoleID == 0 || layout.ReadRoleID == 0 {
		return nil, fmt.Errorf("drive %d is missing access roles", serverID)
	}

	mem, err := memory.InitManager(p, serverID, systemOverwrites(layout.AdminRoleID))
	if err != nil {
		return nil, err
	}

	d := &Drive{
		p:           p,
		serverID:    serverID,
		layout:      layout,
		mem:         mem,
		lockedFiles: make(map[string]struct{}),
		cwd:         make(map[uint64]string),
		log:         logrus.WithField("server", serverID),
	}
	d.log.Info("drive instance initialized")
	return d, nil
}

// Initialize sets up a fresh chat server as a drive: every existing
// channel and category is removed, the access roles and the system
// layout are created, the empty serialized tree is posted to the struct
// channel and the drive is loaded. The server becomes unusable for
// anything else.
func Initialize(p platform.Platform, serverID uint64) (*Drive, error) {
	log := logrus.WithField("server", serverID)

	channels, err := p.Channels(serverID)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	categories, err := p.Categories(serverID)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}

	removed := 0
	for _, ch := range channels {
		if err := p.DeleteChannel(serverID, ch.ID); err != nil {
			return nil, fmt.Errorf("clearing channel %s: %w", ch.Name, err)
		}
		removed++
	}
	for _, category := range categories {
		if err := p.DeleteChannel(serverID, category.ID); err != nil {
			return nil, fmt.Errorf("clearing category %s: %w", category.Name, err)
		}
		removed++
	}
	log.Infof("initialization: removed %d channels", removed)

	ownerRole, err := p.CreateRole(serverID, RoleOwnerName)
	if err != nil {
		return nil, fmt.Errorf("creating owner role: %w", err)
	}
	owner, err := p.ServerOwner(serverID)
	if err != nil {
		return nil, fmt.Errorf("resolving server owner: %w", err)
	}
	if err := p.AssignRole(serverID, owner, ownerRole.ID); err != nil {
		return nil, fmt.Errorf("assigning owner role: %w", err)
	}

	adminRole, err := p.CreateRole(serverID, RoleAdminName)
	if err != nil {
		return nil, fmt.Errorf("creating admin role: %w", err)
	}
	if _, err := p.CreateRole(serverID, RoleWriteName); err != nil {
		return nil, fmt.Errorf("creating write role: %w", err)
	}
	if _, err := p.CreateRole(serverID, RoleReadName); err != nil {
		return nil, fmt.Errorf("creating read role: %w", err)
	}

	overwrites := systemOverwrites(adminRole.ID)

	if _, err := p.CreateChannel(serverID, 0, ConsoleName); err != nil {
		return nil, fmt.Errorf("creating console channel: %w", err)
	}

	meta, err := p.CreateCategory(serverID, MetaCategoryName, overwrites)
	if err != nil {
		return nil, fmt.Errorf("creating meta category: %w", err)
	}
	if _, err := p.CreateChannel(serverID, meta.ID, LogsChannelName); err != nil {
		return nil, fmt.Errorf("creating logs channel: %w", err)
	}
	structCh, err := p.CreateChannel(serverID, meta.ID, StructChannelName)
	if err != nil {
		return nil, fmt.Errorf("creating struct channel: %w", err)
	}

	data0, err := p.CreateCategory(serverID, memory.BucketPrefix+"0", overwrites)
	if err != nil {
		return nil, fmt.Errorf("creating data_0 category: %w", err)
	}
	if _, err := p.CreateChannel(serverID, data0.ID, memory.CacheChannelName); err != nil {
		return nil, fmt.Errorf("creating cache channel: %w", err)
	}
	if _, err := p.CreateChannel(serverID, data0.ID, "0"); err != nil {
		return nil, fmt.Errorf("creating data channel 0: %w", err)
	}

	emptyTree := base64.StdEncoding.EncodeToString([]byte(fstree.NewRoot().Export()))
	if _, err := p.SendMessage(structCh.ID, emptyTree); err != nil {
		return nil, fmt.Errorf("posting empty structure: %w", err)
	}

	log.Info("initialization: created roles and channels")
	return Load(p, serverID)
}
