package tokenstore_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/artvinci-web/credentials"
	apperrors "github.com/jrsteele09/artvinci-web/internal/errors"
	"github.com/jrsteele09/artvinci-web/tokenstore"
	"github.com/stretchr/testify/require"
)

// failingBackend wraps a backend and fails writes/deletes on demand
type failingBackend struct {
	tokenstore.Backend
	failWrite  bool
	failDelete bool
}

func (f *failingBackend) Write(ctx context.Context, key string, value []byte) error {
	if f.failWrite {
		return errors.New("disk full")
	}
	return f.Backend.Write(ctx, key, value)
}

func (f *failingBackend) Delete(ctx context.Context, key string) error {
	if f.failDelete {
		return errors.New("read-only")
	}
	return f.Backend.Delete(ctx, key)
}

func testSession(n int) credentials.Session {
	return credentials.Session{
		Credentials: credentials.Pair{
			AccessToken:  fmt.Sprintf("access-%d", n),
			RefreshToken: fmt.Sprintf("refresh-%d", n),
			ExpiresAt:    time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC),
		},
		Profile: credentials.Profile{
			ID:       fmt.Sprintf("user-%d", n),
			Username: fmt.Sprintf("name-%d", n),
			Roles:    []string{"buyer"},
		},
	}
}

func TestStore_SetGetClear(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.New(tokenstore.NewMemoryBackend())

	_, ok := store.Get()
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, testSession(1)))
	got, ok := store.Get()
	require.True(t, ok)
	require.Equal(t, testSession(1), got)

	require.NoError(t, store.Clear(ctx))
	_, ok = store.Get()
	require.False(t, ok)

	// Clearing an empty store is not an error
	require.NoError(t, store.Clear(ctx))
}

func TestStore_SetEmptySessionClears(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.New(tokenstore.NewMemoryBackend())
	require.NoError(t, store.Set(ctx, testSession(1)))

	require.NoError(t, store.Set(ctx, credentials.Session{}))
	_, ok := store.Get()
	require.False(t, ok)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.New(tokenstore.NewMemoryBackend())
	require.NoError(t, store.Set(ctx, testSession(1)))

	got, _ := store.Get()
	got.Profile.Roles[0] = "admin"

	again, _ := store.Get()
	require.Equal(t, []string{"buyer"}, again.Profile.Roles)
}

func TestStore_Load(t *testing.T) {
	ctx := context.Background()

	t.Run("absent key is a normal empty state", func(t *testing.T) {
		store := tokenstore.New(tokenstore.NewMemoryBackend())
		require.NoError(t, store.Load(ctx))
		_, ok := store.Get()
		require.False(t, ok)
	})

	t.Run("persisted session survives a restart", func(t *testing.T) {
		backend := tokenstore.NewMemoryBackend()
		require.NoError(t, tokenstore.New(backend).Set(ctx, testSession(7)))

		restarted := tokenstore.New(backend)
		require.NoError(t, restarted.Load(ctx))
		got, ok := restarted.Get()
		require.True(t, ok)
		require.Equal(t, "access-7", got.Credentials.AccessToken)
		require.Equal(t, "user-7", got.Profile.ID)
	})

	t.Run("corrupt record is treated as absent", func(t *testing.T) {
		backend := tokenstore.NewMemoryBackend()
		require.NoError(t, backend.Write(ctx, tokenstore.KeySession, []byte("{not json")))

		store := tokenstore.New(backend)
		require.NoError(t, store.Load(ctx))
		_, ok := store.Get()
		require.False(t, ok)
	})
}

func TestStore_FailedWriteKeepsPreviousSession(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{Backend: tokenstore.NewMemoryBackend()}
	store := tokenstore.New(backend)
	require.NoError(t, store.Set(ctx, testSession(1)))

	backend.failWrite = true
	require.Error(t, store.Set(ctx, testSession(2)))

	got, ok := store.Get()
	require.True(t, ok)
	require.Equal(t, "access-1", got.Credentials.AccessToken)
}

func TestStore_FailedDeleteStillDropsSession(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{Backend: tokenstore.NewMemoryBackend()}
	store := tokenstore.New(backend)
	require.NoError(t, store.Set(ctx, testSession(1)))

	backend.failDelete = true
	require.Error(t, store.Clear(ctx))

	_, ok := store.Get()
	require.False(t, ok)
}

func TestStore_ReadersNeverSeeMixedSessions(t *testing.T) {
	ctx := context.Background()
	store := tokenstore.New(tokenstore.NewMemoryBackend())
	require.NoError(t, store.Set(ctx, testSession(0)))

	const writes = 500
	var wg sync.WaitGroup
	done := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		for i := 1; i <= writes; i++ {
			if i%50 == 0 {
				_ = store.Clear(ctx)
				continue
			}
			_ = store.Set(ctx, testSession(i))
		}
	}()

	mismatches := make(chan string, 1)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				got, ok := store.Get()
				if !ok {
					continue
				}
				var n int
				if _, err := fmt.Sscanf(got.Credentials.AccessToken, "access-%d", &n); err != nil {
					continue
				}
				if got.Credentials.RefreshToken != fmt.Sprintf("refresh-%d", n) || got.Profile.ID != fmt.Sprintf("user-%d", n) {
					select {
					case mismatches <- got.Credentials.AccessToken:
					default:
					}
					return
				}
			}
		}()
	}

	wg.Wait()
	select {
	case token := <-mismatches:
		t.Fatalf("observed mixed session for %s", token)
	default:
	}
}

func TestMemoryBackend_NotFound(t *testing.T) {
	_, err := tokenstore.NewMemoryBackend().Read(context.Background(), "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestStore_Replace(t *testing.T) {
	ctx := context.Background()

	t.Run("swaps while the stale token is current", func(t *testing.T) {
		backend := tokenstore.NewMemoryBackend()
		store := tokenstore.New(backend)
		require.NoError(t, store.Set(ctx, testSession(1)))

		require.NoError(t, store.Replace(ctx, "access-1", testSession(2)))
		got, ok := store.Get()
		require.True(t, ok)
		require.Equal(t, "access-2", got.Credentials.AccessToken)

		reloaded := tokenstore.New(backend)
		require.NoError(t, reloaded.Load(ctx))
		got, ok = reloaded.Get()
		require.True(t, ok)
		require.Equal(t, "access-2", got.Credentials.AccessToken)
	})

	t.Run("does not resurrect a cleared session", func(t *testing.T) {
		backend := tokenstore.NewMemoryBackend()
		store := tokenstore.New(backend)
		require.NoError(t, store.Set(ctx, testSession(1)))
		require.NoError(t, store.Clear(ctx))

		err := store.Replace(ctx, "access-1", testSession(2))
		require.ErrorIs(t, err, apperrors.ErrSessionReplaced)

		_, ok := store.Get()
		require.False(t, ok)
		_, err = backend.Read(ctx, tokenstore.KeySession)
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("does not overwrite a newer session", func(t *testing.T) {
		store := tokenstore.New(tokenstore.NewMemoryBackend())
		require.NoError(t, store.Set(ctx, testSession(1)))
		require.NoError(t, store.Set(ctx, testSession(3)))

		require.ErrorIs(t, store.Replace(ctx, "access-1", testSession(2)), apperrors.ErrSessionReplaced)
		require.ErrorIs(t, store.Replace(ctx, "access-1", credentials.Session{}), apperrors.ErrSessionReplaced)

		got, ok := store.Get()
		require.True(t, ok)
		require.Equal(t, "access-3", got.Credentials.AccessToken)
	})

	t.Run("empty session clears when current", func(t *testing.T) {
		store := tokenstore.New(tokenstore.NewMemoryBackend())
		require.NoError(t, store.Set(ctx, testSession(1)))

		require.NoError(t, store.Replace(ctx, "access-1", credentials.Session{}))
		_, ok := store.Get()
		require.False(t, ok)
	})

	t.Run("failed write keeps the previous session", func(t *testing.T) {
		backend := &failingBackend{Backend: tokenstore.NewMemoryBackend()}
		store := tokenstore.New(backend)
		require.NoError(t, store.Set(ctx, testSession(1)))
		backend.failWrite = true

		require.Error(t, store.Replace(ctx, "access-1", testSession(2)))
		got, ok := store.Get()
		require.True(t, ok)
		require.Equal(t, "access-1", got.Credentials.AccessToken)
	})
}
