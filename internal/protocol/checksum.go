package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrChecksumMismatch is returned when data does not hash to its declared checksum
var ErrChecksumMismatch = errors.New("checksum mismatch")

const checksumPrefix = "sha256:"

// Checksum returns the lowercase hex SHA-256 of data
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum compares data against a declared SHA-256 hex digest.
// The declared value may carry a "sha256:" prefix and any letter case.
func VerifyChecksum(data []byte, declared string) error {
	want := strings.ToLower(strings.TrimSpace(declared))
	want = strings.TrimPrefix(want, checksumPrefix)
	if want == "" {
		return fmt.Errorf("%w: no checksum declared", ErrChecksumMismatch)
	}

	got := Checksum(data)
	if got != want {
		return fmt.Errorf("%w: declared %s, computed %s", ErrChecksumMismatch, want, got)
	}
	return nil
}
