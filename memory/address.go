package memory

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/7hebel/drivecord-server/platform"
)

// EndMarker terminates a chunk chain. It is distinct from every valid
// address string.
const EndMarker = "END"

// Address identifies one chunk: the data channel it lives in and the
// message holding its content.
type Address struct {
	ChannelID uint64
	MessageID uint64
}

// AddressOf returns the address of an existing message.
func AddressOf(msg platform.Message) Address {
	return Address{ChannelID: msg.ChannelID, MessageID: msg.ID}
}

// String renders the address in its wire form "<channel_id>:<message_id>".
func (a Address) String() string {
	return fmt.Sprintf("%d:%d", a.ChannelID, a.MessageID)
}

// ParseAddress parses the wire form produced by String. The EndMarker is
// not a valid address and is rejected.
func ParseAddress(s string) (Address, error) {
	ch, msg, ok := strings.Cut(s, ":")
	if !ok {
		return Address{}, fmt.Errorf("malformed memory address %q", s)
	}

	chID, err := strconv.ParseUint(ch, 10, 64)
	if err != nil {
		return Address{}, fmt.Errorf("malformed channel id in address %q: %w", s, err)
	}
	msgID, err := strconv.ParseUint(msg, 10, 64)
	if err != nil {
		return Address{}, fmt.Errorf("malformed message id in address %q: %w", s, err)
	}

	return Address{ChannelID: chID, MessageID: msgID}, nil
}
