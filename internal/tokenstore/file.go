package tokenstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"tokenward/pkg/logging"
	"tokenward/pkg/oauth"
)

// DefaultStorageDir is the default directory for token files, relative to
// the user's home directory.
const DefaultStorageDir = ".config/tokenward/tokens"

const (
	plainExt  = ".json"
	sealedExt = ".box"
)

// FileStore keeps one file per principal.
//
// The directory is created 0700 and files 0600. Files are written to a
// temporary name and renamed into place so readers in other processes never
// observe a partial write. With an encryption key, files are sealed with
// NaCl secretbox.
type FileStore struct {
	dir    string
	sealer *sealer
	audit  *slog.Logger

	// mu orders writers within this process; cross-process writers are
	// ordered by rename.
	mu sync.Mutex
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithEncryptionKey seals stored files with key.
func WithEncryptionKey(key *[KeySize]byte) FileStoreOption {
	return func(s *FileStore) {
		s.sealer = newSealer(key)
	}
}

// NewFileStore creates a store rooted at dir, or at DefaultStorageDir under
// the home directory when dir is empty.
func NewFileStore(dir string, opts ...FileStoreOption) (*FileStore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, DefaultStorageDir)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create token storage directory: %w", err)
	}

	s := &FileStore{dir: dir, audit: logging.Logger("TokenStore")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) ext() string {
	if s.sealer != nil {
		return sealedExt
	}
	return plainExt
}

// path hashes the principal into a filesystem-safe name.
func (s *FileStore) path(principal oauth.Principal) string {
	hash := sha256.Sum256([]byte(principal))
	return filepath.Join(s.dir, hex.EncodeToString(hash[:16])+s.ext())
}

func (s *FileStore) Save(_ context.Context, principal oauth.Principal, set *oauth.TokenSet) error {
	data, err := encodeRecord(principal, set)
	if err != nil {
		return err
	}
	data, err = s.sealer.seal(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.writeAtomic(s.path(principal), data); err != nil {
		s.audit.Warn("SECURITY_AUDIT: token set storage failed",
			"event", "token_store_failed",
			"principal", logging.TruncateID(principal.String()),
			"error", err.Error(),
		)
		return fmt.Errorf("failed to persist token set: %w", err)
	}

	s.audit.Info("SECURITY_AUDIT: token set stored",
		"event", "token_stored",
		"principal", logging.TruncateID(principal.String()),
		"has_refresh_token", set.RefreshToken != "",
		"sealed", s.sealer != nil,
	)
	return nil
}

func (s *FileStore) writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (s *FileStore) Load(_ context.Context, principal oauth.Principal) (*oauth.TokenSet, error) {
	rec, err := s.readFile(s.path(principal))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rec.Principal != principal {
		return nil, fmt.Errorf("token file for %s holds %s", principal, rec.Principal)
	}
	set := rec.TokenSet
	return &set, nil
}

func (s *FileStore) readFile(path string) (*record, error) {
	// #nosec G304 -- path is derived from a hash, not user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, err = s.sealer.open(data)
	if err != nil {
		return nil, err
	}
	return decodeRecord(data)
}

func (s *FileStore) Clear(_ context.Context, principal oauth.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(principal))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete token file: %w", err)
	}

	s.audit.Info("SECURITY_AUDIT: token set deleted",
		"event", "token_deleted",
		"principal", logging.TruncateID(principal.String()),
	)
	return nil
}

// List returns the principals with a readable token file. Files that cannot
// be opened with the current key are skipped.
func (s *FileStore) List(_ context.Context) ([]oauth.Principal, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read token directory: %w", err)
	}

	var out []oauth.Principal
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != s.ext() {
			continue
		}
		rec, err := s.readFile(filepath.Join(s.dir, name))
		if err != nil {
			logging.Debug("TokenStore", "Skipping unreadable token file %s: %v", name, err)
			continue
		}
		out = append(out, rec.Principal)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
