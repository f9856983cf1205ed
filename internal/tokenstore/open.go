package tokenstore

import (
	"fmt"

	"tokenward/pkg/logging"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendValkey = "valkey"
)

// Options selects and configures a backend.
type Options struct {
	Type string

	// Dir is the FileStore directory.
	Dir string

	// EncryptionKey is a base64 32-byte key sealing file and valkey entries.
	EncryptionKey string

	Valkey ValkeyConfig
}

// Open creates the configured store. The returned close function releases
// backend resources and is never nil.
func Open(opts Options) (Store, func(), error) {
	var key *[KeySize]byte
	if opts.EncryptionKey != "" {
		k, err := ParseKey(opts.EncryptionKey)
		if err != nil {
			return nil, nil, err
		}
		key = k
	}

	switch opts.Type {
	case BackendMemory, "":
		logging.Info("TokenStore", "Using in-memory token storage")
		return NewMemoryStore(), func() {}, nil

	case BackendFile:
		var fileOpts []FileStoreOption
		if key != nil {
			fileOpts = append(fileOpts, WithEncryptionKey(key))
		}
		store, err := NewFileStore(opts.Dir, fileOpts...)
		if err != nil {
			return nil, nil, err
		}
		logging.Info("TokenStore", "Using file token storage in %s (sealed: %t)", store.Dir(), key != nil)
		return store, func() {}, nil

	case BackendValkey:
		store, err := NewValkeyStore(opts.Valkey, key)
		if err != nil {
			return nil, nil, err
		}
		logging.Info("TokenStore", "Using valkey token storage at %s (sealed: %t)", opts.Valkey.Address, key != nil)
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported token storage type: %s (supported: %s, %s, %s)",
			opts.Type, BackendMemory, BackendFile, BackendValkey)
	}
}
