package tokenstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"

	"tokenward/pkg/oauth"
)

// ErrNotFound is returned by Load when the principal has no stored token set.
var ErrNotFound = errors.New("token set not found")

// Store persists one TokenSet per principal. Saves replace the previous value
// atomically; when two writers race, the last save wins.
type Store interface {
	Save(ctx context.Context, principal oauth.Principal, set *oauth.TokenSet) error
	Load(ctx context.Context, principal oauth.Principal) (*oauth.TokenSet, error)
	Clear(ctx context.Context, principal oauth.Principal) error
	List(ctx context.Context) ([]oauth.Principal, error)
}

// record is the persisted layout of one entry.
type record struct {
	Principal oauth.Principal `json:"principal"`
	oauth.TokenSet
}

func encodeRecord(principal oauth.Principal, set *oauth.TokenSet) ([]byte, error) {
	data, err := json.Marshal(record{Principal: principal, TokenSet: *set})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token set: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*record, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token set: %w", err)
	}
	return &rec, nil
}

// KeySize is the length of a sealing key in bytes.
const KeySize = 32

const nonceSize = 24

// ParseKey decodes a base64 sealing key.
func ParseKey(encoded string) (*[KeySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(raw))
	}
	var key [KeySize]byte
	copy(key[:], raw)
	return &key, nil
}

// GenerateKey returns a new random base64 sealing key.
func GenerateKey() (string, error) {
	var key [KeySize]byte
	if _, err := rand.Read(key[:]); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key[:]), nil
}

// sealer encrypts records at rest. A nil sealer stores plaintext.
type sealer struct {
	key *[KeySize]byte
}

func (s *sealer) seal(plain []byte) ([]byte, error) {
	if s == nil {
		return plain, nil
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, s.key), nil
}

func (s *sealer) open(box []byte) ([]byte, error) {
	if s == nil {
		return box, nil
	}
	if len(box) < nonceSize+secretbox.Overhead {
		return nil, errors.New("sealed token set is truncated")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	plain, ok := secretbox.Open(nil, box[nonceSize:], &nonce, s.key)
	if !ok {
		return nil, errors.New("failed to open sealed token set: wrong key or corrupted data")
	}
	return plain, nil
}

func newSealer(key *[KeySize]byte) *sealer {
	if key == nil {
		return nil
	}
	return &sealer{key: key}
}
