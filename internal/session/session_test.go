package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odoo-mcp-gateway/internal/apperror"
)

func fakeAcquirer(uid int64, err error) Acquirer {
	return func(ctx context.Context, username, secret string) (int64, error) {
		return uid, err
	}
}

func TestStore_CreateAndResolve(t *testing.T) {
	store := NewStore(time.Hour, fakeAcquirer(42, nil))

	sess, err := store.CreateSession(context.Background(), "alice", "secret")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	uid, err := store.Resolve(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), uid)
}

func TestStore_ResolveUnknown(t *testing.T) {
	store := NewStore(time.Hour, fakeAcquirer(1, nil))

	_, err := store.Resolve("does-not-exist")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindSession))
}

func TestStore_ResolveExpired(t *testing.T) {
	store := NewStore(10*time.Millisecond, fakeAcquirer(7, nil))

	sess, err := store.CreateSession(context.Background(), "bob", "secret")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	_, err = store.Resolve(sess.ID)
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindSession))
	assert.Equal(t, 0, store.Count())
}

func TestStore_Destroy(t *testing.T) {
	store := NewStore(time.Hour, fakeAcquirer(1, nil))

	sess, err := store.CreateSession(context.Background(), "alice", "secret")
	require.NoError(t, err)

	store.Destroy(sess.ID)
	_, err = store.Resolve(sess.ID)
	require.Error(t, err)

	// Destroy is idempotent.
	store.Destroy(sess.ID)
}

func TestStore_SweepRemovesExpired(t *testing.T) {
	store := NewStore(10*time.Millisecond, fakeAcquirer(1, nil))
	store.Start(5 * time.Millisecond)
	defer store.Stop()

	_, err := store.CreateSession(context.Background(), "alice", "secret")
	require.NoError(t, err)
	require.Equal(t, 1, store.Count())

	assert.Eventually(t, func() bool {
		return store.Count() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestStore_CreateSessionAuthFailure(t *testing.T) {
	store := NewStore(time.Hour, fakeAcquirer(0, apperror.New(apperror.KindAuth, "bad credentials")))

	_, err := store.CreateSession(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindAuth))
}
