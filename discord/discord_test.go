package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/7hebel/drivecord-server/platform"
)

func TestParseIDRoundTrip(t *testing.T) {
	id, err := parseID("123456789012345678")
	if err != nil {
		t.Fatalf("parseID failed: %v", err)
	}
	if got := formatID(id); got != "123456789012345678" {
		t.Errorf("round trip = %q", got)
	}
}

func TestParseIDEmptyIsZero(t *testing.T) {
	id, err := parseID("")
	if err != nil || id != 0 {
		t.Errorf("parseID(\"\") = %d, %v", id, err)
	}
}

func TestParseIDRejectsGarbage(t *testing.T) {
	if _, err := parseID("not-a-snowflake"); err == nil {
		t.Error("expected error for malformed snowflake")
	}
}

func TestConvertMessage(t *testing.T) {
	msg := convertMessage(&discordgo.Message{
		ID:        "3",
		ChannelID: "2",
		Content:   "aGk=@END",
		Author:    &discordgo.User{ID: "1"},
	})

	want := platform.Message{ID: 3, ChannelID: 2, AuthorID: 1, Content: "aGk=@END"}
	if msg != want {
		t.Errorf("convertMessage = %+v, want %+v", msg, want)
	}
}

func TestConvertMessageMissingAuthor(t *testing.T) {
	msg := convertMessage(&discordgo.Message{ID: "3", ChannelID: "2"})
	if msg.AuthorID != 0 {
		t.Errorf("author = %d, want 0", msg.AuthorID)
	}
}

func TestOverwriteData(t *testing.T) {
	const serverID = 900

	data := overwriteData(serverID, []platform.Overwrite{
		{RoleID: 0, View: false},
		{RoleID: 55, View: true, Send: false},
	})
	if len(data) != 2 {
		t.Fatalf("overwriteData produced %d entries", len(data))
	}

	// The zero role id addresses the everyone role, whose snowflake is
	// the guild id.
	if data[0].ID != "900" {
		t.Errorf("everyone overwrite targets %q, want 900", data[0].ID)
	}
	if data[0].Deny&discordgo.PermissionViewChannel == 0 {
		t.Error("everyone overwrite does not deny channel visibility")
	}

	if data[1].ID != "55" {
		t.Errorf("role overwrite targets %q", data[1].ID)
	}
	if data[1].Allow&discordgo.PermissionViewChannel == 0 {
		t.Error("admin overwrite does not allow channel visibility")
	}
	if data[1].Deny&discordgo.PermissionSendMessages == 0 {
		t.Error("admin overwrite does not deny sending")
	}
}
