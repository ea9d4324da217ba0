package redis

import (
	"context"

	"github.com/cosmicds/story-session-hub/internal/domain/session"
)

// SessionCache provides typed access to cached session data on top of the
// generic Cache: the resolved student record, the per-student options
// payload, and story-state snapshots.
//
// All methods treat the cache as best-effort. Callers fall back to the
// portal on ErrCacheMiss and log-and-continue on any other error.
type SessionCache struct {
	cache *Cache
}

// NewSessionCache creates a new SessionCache.
func NewSessionCache(cache *Cache) *SessionCache {
	return &SessionCache{cache: cache}
}

// GetStudent gets a cached student record by username.
// Returns ErrCacheMiss when the username has not been cached.
func (s *SessionCache) GetStudent(ctx context.Context, username string) (*session.Student, error) {
	var st session.Student
	if err := s.cache.Get(ctx, StudentKey(username), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SetStudent caches a resolved student record.
func (s *SessionCache) SetStudent(ctx context.Context, st session.Student) error {
	if st.Username == "" {
		return nil
	}
	return s.cache.Set(ctx, StudentKey(st.Username), st, TTLStudent)
}

// GetOptions gets the cached options payload for a student.
// Returns ErrCacheMiss when nothing is cached.
func (s *SessionCache) GetOptions(ctx context.Context, studentID int) (map[string]interface{}, error) {
	var options map[string]interface{}
	if err := s.cache.Get(ctx, OptionsKey(studentID), &options); err != nil {
		return nil, err
	}
	return options, nil
}

// SetOptions caches the options payload for a student.
func (s *SessionCache) SetOptions(ctx context.Context, studentID int, options map[string]interface{}) error {
	if len(options) == 0 {
		return nil
	}
	return s.cache.Set(ctx, OptionsKey(studentID), options, TTLOptions)
}

// GetStoryState gets the cached story-state snapshot.
// Returns ErrCacheMiss when nothing is cached.
func (s *SessionCache) GetStoryState(ctx context.Context, studentID int, story string) (map[string]interface{}, error) {
	var state map[string]interface{}
	if err := s.cache.Get(ctx, StoryStateKey(studentID, story), &state); err != nil {
		return nil, err
	}
	return state, nil
}

// SetStoryState caches a story-state snapshot. Called after every
// successful portal write-back so the cache tracks the persisted state.
func (s *SessionCache) SetStoryState(ctx context.Context, studentID int, story string, state map[string]interface{}) error {
	if len(state) == 0 {
		return nil
	}
	return s.cache.Set(ctx, StoryStateKey(studentID, story), state, TTLStoryState)
}

// InvalidateStudent removes everything cached for a student.
func (s *SessionCache) InvalidateStudent(ctx context.Context, username string, studentID int) error {
	if err := s.cache.Delete(ctx, StudentKey(username), OptionsKey(studentID)); err != nil {
		return err
	}
	return s.cache.DeleteByPattern(ctx, StoryStateKey(studentID, "*"))
}
