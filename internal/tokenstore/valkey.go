package tokenstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"tokenward/pkg/logging"
	"tokenward/pkg/oauth"
)

// DefaultValkeyKeyPrefix namespaces tokenward's keys.
const DefaultValkeyKeyPrefix = "tokenward:"

// expiryGrace keeps an expired token set around long enough for status
// output to show it. Sets with a refresh token never expire in Valkey.
const expiryGrace = time.Hour

// ValkeyConfig holds the connection settings for ValkeyStore.
type ValkeyConfig struct {
	Address    string
	Password   string
	DB         int
	KeyPrefix  string
	TLSEnabled bool
}

// ValkeyStore keeps token sets in Valkey, one key per principal, so several
// processes can share sessions.
type ValkeyStore struct {
	client valkey.Client
	prefix string
	sealer *sealer
	now    func() time.Time
}

// NewValkeyStore connects to Valkey. key may be nil to store plaintext.
func NewValkeyStore(cfg ValkeyConfig, key *[KeySize]byte) (*ValkeyStore, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	opt := valkey.ClientOption{
		InitAddress: []string{cfg.Address},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	}
	if cfg.TLSEnabled {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey at %s: %w", cfg.Address, err)
	}

	return newValkeyStore(client, cfg.KeyPrefix, key), nil
}

func newValkeyStore(client valkey.Client, prefix string, key *[KeySize]byte) *ValkeyStore {
	if prefix == "" {
		prefix = DefaultValkeyKeyPrefix
	}
	return &ValkeyStore{
		client: client,
		prefix: prefix,
		sealer: newSealer(key),
		now:    time.Now,
	}
}

// Close releases the underlying connections.
func (s *ValkeyStore) Close() {
	s.client.Close()
}

func (s *ValkeyStore) key(principal oauth.Principal) string {
	return s.prefix + "token:" + string(principal)
}

// ttl returns zero when the entry should not expire.
func (s *ValkeyStore) ttl(set *oauth.TokenSet) time.Duration {
	if set.CanRefresh() || !set.HasExpiry() {
		return 0
	}
	ttl := set.ExpiresAt.Sub(s.now()) + expiryGrace
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (s *ValkeyStore) Save(ctx context.Context, principal oauth.Principal, set *oauth.TokenSet) error {
	data, err := encodeRecord(principal, set)
	if err != nil {
		return err
	}
	data, err = s.sealer.seal(data)
	if err != nil {
		return err
	}

	var cmd valkey.Completed
	if ttl := s.ttl(set); ttl > 0 {
		cmd = s.client.B().Set().Key(s.key(principal)).Value(valkey.BinaryString(data)).ExSeconds(int64(ttl / time.Second)).Build()
	} else {
		cmd = s.client.B().Set().Key(s.key(principal)).Value(valkey.BinaryString(data)).Build()
	}

	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to store token set: %w", err)
	}

	logging.Debug("TokenStore", "Stored token set for %s in valkey", logging.TruncateID(principal.String()))
	return nil
}

func (s *ValkeyStore) Load(ctx context.Context, principal oauth.Principal) (*oauth.TokenSet, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.key(principal)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token set: %w", err)
	}

	plain, err := s.sealer.open(data)
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(plain)
	if err != nil {
		return nil, err
	}
	set := rec.TokenSet
	return &set, nil
}

func (s *ValkeyStore) Clear(ctx context.Context, principal oauth.Principal) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.key(principal)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete token set: %w", err)
	}
	return nil
}

func (s *ValkeyStore) List(ctx context.Context) ([]oauth.Principal, error) {
	prefix := s.prefix + "token:"

	var (
		out    []oauth.Principal
		cursor uint64
	)
	for {
		entry, err := s.client.Do(ctx, s.client.B().Scan().Cursor(cursor).Match(prefix+"*").Count(100).Build()).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan token keys: %w", err)
		}
		for _, k := range entry.Elements {
			out = append(out, oauth.Principal(strings.TrimPrefix(k, prefix)))
		}
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
