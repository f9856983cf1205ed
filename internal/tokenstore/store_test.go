package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenward/pkg/oauth"
)

func sampleSet(access string) *oauth.TokenSet {
	return &oauth.TokenSet{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: "refresh-" + access,
		Scope:        "openid profile",
		ExpiresAt:    time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
		ObtainedAt:   time.Date(2029, 12, 31, 23, 0, 0, 0, time.UTC),
	}
}

// exerciseStore runs the contract every backend must satisfy.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	alice := oauth.UserPrincipal("alice")
	svc := oauth.ServicePrincipal("tracker")

	_, err := store.Load(ctx, alice)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	require.NoError(t, store.Save(ctx, alice, sampleSet("a1")))
	require.NoError(t, store.Save(ctx, svc, &oauth.TokenSet{AccessToken: "s1"}))

	got, err := store.Load(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "a1", got.AccessToken)
	assert.Equal(t, "refresh-a1", got.RefreshToken)
	assert.True(t, got.ExpiresAt.Equal(sampleSet("a1").ExpiresAt))

	// Last writer wins.
	require.NoError(t, store.Save(ctx, alice, sampleSet("a2")))
	got, err = store.Load(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "a2", got.AccessToken)

	principals, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []oauth.Principal{svc, alice}, principals)

	require.NoError(t, store.Clear(ctx, alice))
	_, err = store.Load(ctx, alice)
	assert.True(t, errors.Is(err, ErrNotFound))

	// Clearing twice is fine.
	require.NoError(t, store.Clear(ctx, alice))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	exerciseStore(t, store)

	principals, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, principals, 1)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := oauth.UserPrincipal("bob")

	set := sampleSet("x")
	require.NoError(t, store.Save(ctx, p, set))
	set.AccessToken = "mutated"

	got, err := store.Load(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "x", got.AccessToken)

	got.AccessToken = "mutated again"
	again, _ := store.Load(ctx, p)
	assert.Equal(t, "x", again.AccessToken)
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	exerciseStore(t, store)
}

func TestFileStore_Sealed(t *testing.T) {
	encoded, err := GenerateKey()
	require.NoError(t, err)
	key, err := ParseKey(encoded)
	require.NoError(t, err)

	dir := t.TempDir()
	store, err := NewFileStore(dir, WithEncryptionKey(key))
	require.NoError(t, err)
	exerciseStore(t, store)

	ctx := context.Background()
	p := oauth.UserPrincipal("carol")
	require.NoError(t, store.Save(ctx, p, sampleSet("secret-access")))

	raw, err := os.ReadFile(store.path(p))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-access")

	other, err := GenerateKey()
	require.NoError(t, err)
	otherKey, err := ParseKey(other)
	require.NoError(t, err)
	wrong, err := NewFileStore(dir, WithEncryptionKey(otherKey))
	require.NoError(t, err)

	_, err = wrong.Load(ctx, p)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	principals, err := wrong.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, principals)
}

func TestFileStore_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on windows")
	}

	dir := filepath.Join(t.TempDir(), "tokens")
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	p := oauth.UserPrincipal("dave")
	require.NoError(t, store.Save(context.Background(), p, sampleSet("x")))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())

	info, err = os.Stat(store.path(p))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// No temp files are left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_ConcurrentSaves(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	p := oauth.UserPrincipal("eve")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Save(ctx, p, sampleSet(fmt.Sprintf("tok-%d", i))))
		}(i)
	}
	wg.Wait()

	// Whatever won, the file is whole.
	got, err := store.Load(ctx, p)
	require.NoError(t, err)
	assert.Contains(t, got.AccessToken, "tok-")
	assert.Equal(t, "refresh-"+got.AccessToken, got.RefreshToken)
}

func TestParseKey(t *testing.T) {
	_, err := ParseKey("not base64!")
	assert.Error(t, err)

	_, err = ParseKey("c2hvcnQ=")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	store, closeFn, err := Open(Options{})
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &MemoryStore{}, store)

	store, closeFn, err = Open(Options{Type: BackendFile, Dir: t.TempDir()})
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &FileStore{}, store)

	_, _, err = Open(Options{Type: "postgres"})
	assert.Error(t, err)

	_, _, err = Open(Options{Type: BackendValkey})
	assert.Error(t, err)

	_, _, err = Open(Options{Type: BackendFile, Dir: t.TempDir(), EncryptionKey: "bad"})
	assert.Error(t, err)
}
