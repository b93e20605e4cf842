// ABOUTME: ICY metadata encoding for Shoutcast/Icecast listeners
// ABOUTME: Formats StreamTitle strings and pads them into length-prefixed blocks
package icy

import (
	"bytes"
	"strings"
)

const maxBlocks = 255

// BuildBlock encodes text as a metadata block: one length byte counting
// 16-byte units, then the text zero-padded to that length.
func BuildBlock(text string) []byte {
	payload := []byte(text)
	if len(payload) > maxBlocks*16 {
		payload = payload[:maxBlocks*16]
	}

	blocks := (len(payload) + 15) / 16
	out := make([]byte, 1+blocks*16)
	out[0] = byte(blocks)
	copy(out[1:], payload)
	return out
}

// StreamTitle renders the metadata text for a title and optional artwork.
// Single quotes would terminate the value early, so they are removed.
func StreamTitle(title, artworkURL string) string {
	var b bytes.Buffer
	b.WriteString("StreamTitle='")
	b.WriteString(clean(title))
	b.WriteString("';")
	if artworkURL != "" {
		b.WriteString("StreamUrl='")
		b.WriteString(clean(artworkURL))
		b.WriteString("';")
	}
	return b.String()
}

func clean(s string) string {
	s = strings.ReplaceAll(s, "'", "")
	return strings.Join(strings.Fields(s), " ")
}
