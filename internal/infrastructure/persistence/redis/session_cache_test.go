package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosmicds/story-session-hub/internal/domain/session"
)

func newTestSessionCache(t *testing.T) *SessionCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSessionCache(NewCacheWithClient(client))
}

func TestSessionCache_StudentRoundTrip(t *testing.T) {
	sc := newTestSessionCache(t)
	ctx := context.Background()

	require.NoError(t, sc.SetStudent(ctx, session.Student{ID: 42, Username: "alice", Email: "alice"}))

	st, err := sc.GetStudent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 42, st.ID)
	assert.Equal(t, "alice", st.Username)
}

func TestSessionCache_StudentMiss(t *testing.T) {
	sc := newTestSessionCache(t)

	_, err := sc.GetStudent(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestSessionCache_OptionsRoundTrip(t *testing.T) {
	sc := newTestSessionCache(t)
	ctx := context.Background()

	options := map[string]interface{}{
		"speech_pitch": 1.5,
		"dark_mode":    false,
	}
	require.NoError(t, sc.SetOptions(ctx, 42, options))

	got, err := sc.GetOptions(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 1.5, got["speech_pitch"])
	assert.Equal(t, false, got["dark_mode"])
}

func TestSessionCache_EmptyPayloadsAreNotCached(t *testing.T) {
	sc := newTestSessionCache(t)
	ctx := context.Background()

	require.NoError(t, sc.SetOptions(ctx, 42, nil))
	require.NoError(t, sc.SetStoryState(ctx, 42, "hubble", map[string]interface{}{}))

	_, err := sc.GetOptions(ctx, 42)
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = sc.GetStoryState(ctx, 42, "hubble")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestSessionCache_StoryStateRoundTrip(t *testing.T) {
	sc := newTestSessionCache(t)
	ctx := context.Background()

	state := map[string]interface{}{
		"name":        "hubble",
		"stage_index": float64(3),
	}
	require.NoError(t, sc.SetStoryState(ctx, 42, "hubble", state))

	got, err := sc.GetStoryState(ctx, 42, "hubble")
	require.NoError(t, err)
	assert.Equal(t, state, got)
}

func TestSessionCache_InvalidateStudent(t *testing.T) {
	sc := newTestSessionCache(t)
	ctx := context.Background()

	require.NoError(t, sc.SetStudent(ctx, session.Student{ID: 42, Username: "alice"}))
	require.NoError(t, sc.SetOptions(ctx, 42, map[string]interface{}{"dark_mode": true}))
	require.NoError(t, sc.SetStoryState(ctx, 42, "hubble", map[string]interface{}{"name": "hubble"}))
	require.NoError(t, sc.SetStoryState(ctx, 42, "solar", map[string]interface{}{"name": "solar"}))

	require.NoError(t, sc.InvalidateStudent(ctx, "alice", 42))

	_, err := sc.GetStudent(ctx, "alice")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = sc.GetOptions(ctx, 42)
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = sc.GetStoryState(ctx, 42, "hubble")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = sc.GetStoryState(ctx, 42, "solar")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
