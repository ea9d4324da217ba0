package story

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosmicds/story-session-hub/internal/domain/session"
	"github.com/cosmicds/story-session-hub/internal/domain/shared"
)

func TestRegistry_SetupKnownStory(t *testing.T) {
	reg := NewRegistry()
	reg.Register("hubble", func(_ *session.State) (State, error) {
		return NewBaseState("hubble"), nil
	})

	st, err := reg.Setup("hubble", session.NewState())
	require.NoError(t, err)
	assert.Equal(t, "hubble", st.Name())
}

func TestRegistry_SetupUnknownStory(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Setup("nonexistent", session.NewState())
	assert.ErrorIs(t, err, shared.ErrStoryNotRegistered)
}

func TestRegistry_SetupEmptyName(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Setup("", session.NewState())
	assert.ErrorIs(t, err, shared.ErrStoryNameEmpty)
}

func TestRegistry_FactoryErrorPropagates(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("bad story config")
	reg.Register("hubble", func(_ *session.State) (State, error) {
		return nil, boom
	})

	_, err := reg.Setup("hubble", session.NewState())
	assert.ErrorIs(t, err, boom)
}

func TestRegistry_ReRegisterReplaces(t *testing.T) {
	reg := NewRegistry()
	reg.Register("hubble", func(_ *session.State) (State, error) {
		return NewBaseState("first"), nil
	})
	reg.Register("hubble", func(_ *session.State) (State, error) {
		return NewBaseState("second"), nil
	})

	st, err := reg.Setup("hubble", session.NewState())
	require.NoError(t, err)
	assert.Equal(t, "second", st.Name())
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry()
	factory := func(_ *session.State) (State, error) { return NewBaseState("x"), nil }
	reg.Register("hubble", factory)
	reg.Register("solar", factory)

	assert.ElementsMatch(t, []string{"hubble", "solar"}, reg.Names())
}
