package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/blake2b"
)

// Blake2bHash is a blake2b-256 digest of attachment content
type Blake2bHash [blake2b.Size256]byte

// HashBytes hashes an in-memory document
func HashBytes(data []byte) Blake2bHash {
	return Blake2bHash(blake2b.Sum256(data))
}

// HashReader hashes a document stream
func HashReader(r io.Reader) (Blake2bHash, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return Blake2bHash{}, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return Blake2bHash{}, fmt.Errorf("failed to hash content: %w", err)
	}

	var out Blake2bHash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// ParseBlake2bHash decodes the URL-safe base64 text form
func ParseBlake2bHash(s string) (Blake2bHash, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Blake2bHash{}, fmt.Errorf("invalid blake2b hash %q: %w", s, err)
	}
	if len(raw) != blake2b.Size256 {
		return Blake2bHash{}, fmt.Errorf("invalid blake2b hash length %d", len(raw))
	}

	var out Blake2bHash
	copy(out[:], raw)
	return out, nil
}

func (h Blake2bHash) String() string {
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// MarshalJSON implements json.Marshaler
func (h Blake2bHash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (h *Blake2bHash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseBlake2bHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
