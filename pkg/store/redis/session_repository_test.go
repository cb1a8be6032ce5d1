package redis

import (
	"context"
	"testing"
	"time"

	"starbench/internal/model"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepos(t *testing.T) (*SessionRepository, *WorkerRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	rc := &RedisClient{client: client}
	return NewSessionRepository(rc), NewWorkerRepository(rc), mr
}

func TestSessionSaveGetRoundTrip(t *testing.T) {
	repo, _, _ := newTestRepos(t)
	ctx := context.Background()

	session := &model.Session{
		ID:             "sess-1",
		Owner:          "ada",
		WorkerID:       "w-1",
		State:          model.SessionStateActive,
		CreatedAt:      time.Now().UTC().Truncate(time.Second),
		LastActivityAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, repo.Save(ctx, session))

	got, err := repo.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, session.Owner, got.Owner)
	assert.Equal(t, session.WorkerID, got.WorkerID)
	assert.Equal(t, model.SessionStateActive, got.State)
}

func TestSessionGetAllForRecovery(t *testing.T) {
	repo, _, _ := newTestRepos(t)
	ctx := context.Background()

	for _, id := range []string{"sess-1", "sess-2", "sess-3"} {
		require.NoError(t, repo.Save(ctx, &model.Session{ID: id, Owner: "ada", State: model.SessionStateIdle}))
	}

	sessions, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 3)
}

func TestSessionDeleteTombstonesID(t *testing.T) {
	repo, _, mr := newTestRepos(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &model.Session{ID: "sess-1", Owner: "ada"}))
	require.NoError(t, repo.Delete(ctx, "sess-1", time.Minute))

	_, err := repo.Get(ctx, "sess-1")
	assert.Error(t, err)

	gone, err := repo.IsTombstoned(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, gone)

	// The tombstone itself ages out after the grace window.
	mr.FastForward(2 * time.Minute)
	gone, err = repo.IsTombstoned(ctx, "sess-1")
	require.NoError(t, err)
	assert.False(t, gone)
}

func TestWorkerSaveGetDelete(t *testing.T) {
	_, repo, _ := newTestRepos(t)
	ctx := context.Background()

	worker := &model.Worker{
		ID:       "w-1",
		Endpoint: "ws://127.0.0.1:9100/channel",
		Health:   model.WorkerHealthHealthy,
		Capacity: 1,
	}
	require.NoError(t, repo.Save(ctx, worker))

	got, err := repo.Get(ctx, "w-1")
	require.NoError(t, err)
	assert.Equal(t, worker.Endpoint, got.Endpoint)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, repo.Delete(ctx, "w-1"))
	_, err = repo.Get(ctx, "w-1")
	assert.Error(t, err)
}
