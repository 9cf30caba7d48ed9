// Package hashing provides the core's single canonical content-hash
// primitive: a 64-character lowercase hex digest used for
// owner_fingerprint, audio_hash, and every audit payload/result hash.
//
// BLAKE3 is used instead of the standard library's sha256 because the
// archive's content-addressing neighbor in this retrieval pack
// (dolthub/dolt's block store) already depends on
// github.com/zeebo/blake3 for exactly this purpose, and it is
// materially faster on the multi-KB transcript payloads the audit
// ledger hashes on every chunk.
package hashing

import (
	"encoding/hex"
	"io"

	"github.com/zeebo/blake3"
)

// DigestSize is the number of raw bytes in a digest; hex-encoded this is
// 64 characters, matching the archive's `64-char hex` field contract.
const DigestSize = 32

// Hex returns the lowercase hex BLAKE3 digest of data.
func Hex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HexString is a convenience wrapper for hashing a string without an
// explicit []byte conversion at the call site.
func HexString(s string) string {
	return Hex([]byte(s))
}

// Writer accumulates bytes across multiple writes (e.g. streaming a
// large export artifact) and yields the same digest Hex would produce
// for the fully concatenated input.
type Writer struct {
	h *blake3.Hasher
}

// NewWriter returns a streaming hasher. It implements io.Writer so
// callers can io.Copy into it directly.
func NewWriter() *Writer {
	return &Writer{h: blake3.New()}
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.h.Write(p)
}

// Sum finalizes the digest and returns its lowercase hex form.
func (w *Writer) Sum() string {
	sum := w.h.Sum(nil)
	return hex.EncodeToString(sum)
}

var _ io.Writer = (*Writer)(nil)

// Fingerprint derives the archive's owner_fingerprint from a stable
// owner identifier (e.g. an email address) and an optional salt. The
// same (ownerID, salt) pair must always yield the same fingerprint so
// a reopen can verify identity by recomputation.
func Fingerprint(ownerID, salt string) string {
	return HexString(salt + "\x00" + ownerID)
}
