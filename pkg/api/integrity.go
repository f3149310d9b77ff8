package api

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ContentHash is the plugin content hash: lowercase hex sha256 of the bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IntegrityError reports plugin bytes whose hash differs from the hash the
// coordinator declared for them.
type IntegrityError struct {
	Plugin   string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("plugin %s integrity check failed: expected %s, got %s", e.Plugin, e.Expected, e.Actual)
}

// Verify returns an *IntegrityError when data does not hash to expected.
func Verify(plugin, expected string, data []byte) error {
	if actual := ContentHash(data); actual != expected {
		return &IntegrityError{Plugin: plugin, Expected: expected, Actual: actual}
	}
	return nil
}
