package content

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// HashLength is the length of a hex-encoded SHA-256 content address.
const HashLength = sha256.Size * 2

// Object describes one stored byte sequence. Objects are immutable; only
// Verified changes, on re-verification.
type Object struct {
	Hash       string    `json:"hash"`
	ByteLength int64     `json:"byte_length"`
	MediaType  string    `json:"media_type"`
	Verified   bool      `json:"verified"`
	StoredAt   time.Time `json:"stored_at"`
}

// Hash returns the content address of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidHash reports whether h looks like a content address produced by Hash.
func ValidHash(h string) bool {
	if len(h) != HashLength {
		return false
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func readSidecar(path string) (*Object, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decode sidecar %s: %w", path, err)
	}
	return &obj, nil
}

func encodeSidecar(obj *Object) ([]byte, error) {
	return json.MarshalIndent(obj, "", "  ")
}
