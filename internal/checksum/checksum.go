// Package checksum fingerprints tiddler text so local edits can be told
// apart from the last synced content.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Text returns the digest of s with line endings normalized to LF, so a
// file rewritten with CRLF by an editor still matches the remote text.
func Text(s string) string {
	return Sum([]byte(strings.ReplaceAll(s, "\r\n", "\n")))
}
