package memory

import (
	"testing"

	"github.com/7hebel/drivecord-server/platform"
)

func TestAddressString(t *testing.T) {
	addr := Address{ChannelID: 12, MessageID: 987654}
	if got := addr.String(); got != "12:987654" {
		t.Errorf("String() = %q, want %q", got, "12:987654")
	}
}

func TestParseAddressRoundTrip(t *testing.T) {
	addr := Address{ChannelID: 111222333, MessageID: 444555666}

	parsed, err := ParseAddress(addr.String())
	if err != nil {
		t.Fatalf("ParseAddress failed: %v", err)
	}
	if parsed != addr {
		t.Errorf("round trip = %+v, want %+v", parsed, addr)
	}
}

func TestParseAddressRejectsInvalid(t *testing.T) {
	cases := []string{"", "END", "12", "a:b", "12:", ":34", "1:2:3x"}
	for _, raw := range cases {
		if _, err := ParseAddress(raw); err == nil {
			t.Errorf("ParseAddress(%q) succeeded, want error", raw)
		}
	}
}

func TestAddressOf(t *testing.T) {
	msg := platform.Message{ID: 7, ChannelID: 3}
	addr := AddressOf(msg)
	if addr.ChannelID != 3 || addr.MessageID != 7 {
		t.Errorf("AddressOf = %+v", addr)
	}
}
