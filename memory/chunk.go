package memory

import (
	"fmt"
	"strings"
)

// BlankBody is the single-byte body written into a freshly created or
// emptied file, so every chain holds at least one chunk. It is outside
// the base64 alphabet's meaningful output and is mapped back to the
// empty string on read.
const BlankBody = "="

// placeholderContent is sent when a chunk is allocated but its real
// content has not been written yet.
const placeholderContent = "⏱️ waiting for data..."

// Chunk is the decoded form of one chunk message: up to MsgSize bytes of
// base64 body plus the link to the next chunk. End marks the last chunk
// of a chain.
type Chunk struct {
	Body string
	Next Address
	End  bool
}

// Encode renders the chunk into its message form "<body>@<next-or-END>".
func (c Chunk) Encode() string {
	if c.End {
		return c.Body + "@" + EndMarker
	}
	return c.Body + "@" + c.Next.String()
}

// EncodeChunk builds the message form from a body and a raw next tail,
// which must already be an address string or the EndMarker.
func EncodeChunk(body, next string) string {
	return body + "@" + next
}

// DecodeChunk parses a chunk message. The first '@' is the single parse
// anchor; the base64 alphabet guarantees it cannot occur inside the body.
// Content without an '@' is rejected.
func DecodeChunk(content string) (Chunk, error) {
	body, tail, ok := strings.Cut(content, "@")
	if !ok {
		return Chunk{}, fmt.Errorf("chunk content has no next-pointer separator")
	}

	if tail == EndMarker {
		return Chunk{Body: body, End: true}, nil
	}

	next, err := ParseAddress(tail)
	if err != nil {
		return Chunk{}, err
	}
	return Chunk{Body: body, Next: next}, nil
}

// BodyLength returns the accounted size of a chunk message: the byte
// length of the portion before the first '@', or of the whole content
// when no separator is present.
func BodyLength(content string) int {
	if i := strings.IndexByte(content, '@'); i >= 0 {
		return i
	}
	return len(content)
}

// SplitBody cuts an encoded file body into chunk bodies of at most
// MsgSize bytes. The final piece may be shorter. An empty body yields no
// pieces.
func SplitBody(body string) []string {
	var parts []string
	for len(body) > MsgSize {
		parts = append(parts, body[:MsgSize])
		body = body[MsgSize:]
	}
	if len(body) > 0 {
		parts = append(parts, body)
	}
	return parts
}
