package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFeatureFlags_Defaults(t *testing.T) {
	ff := LoadFeatureFlags()
	ctx := &FeatureContext{StudentID: 42}

	assert.True(t, ff.IsEnabled(FeatureSessionWriteBack, ctx))
	assert.True(t, ff.IsEnabled(FeatureSessionTeamInterface, ctx))
	assert.False(t, ff.IsEnabled(FeatureSessionAllowAdvance, ctx))
	assert.False(t, ff.IsEnabled(FeatureSpeechAutoread, ctx))
	assert.False(t, ff.IsEnabled(FeatureLegacyStateRestore, ctx))
}

func TestLoadFeatureFlags_EnvironmentOverrides(t *testing.T) {
	t.Setenv("FF_SESSION_WRITE_BACK", "false")
	t.Setenv("FF_SPEECH_AUTOREAD", "true")

	ff := LoadFeatureFlags()
	ctx := &FeatureContext{StudentID: 42}

	assert.False(t, ff.IsEnabled(FeatureSessionWriteBack, ctx))
	assert.True(t, ff.IsEnabled(FeatureSpeechAutoread, ctx))
}

func TestIsEnabled_UnknownFeature(t *testing.T) {
	ff := LoadFeatureFlags()

	assert.False(t, ff.IsEnabled("session.does_not_exist", &FeatureContext{StudentID: 1}))
}

func TestIsEnabled_EducatorGetsEverything(t *testing.T) {
	ff := LoadFeatureFlags()
	ctx := &FeatureContext{StudentID: 42, IsEducator: true}

	assert.True(t, ff.IsEnabled(FeatureSessionAllowAdvance, ctx))
	assert.True(t, ff.IsEnabled(FeatureLegacyStateRestore, ctx))
}

func TestStudentOverride_WinsOverDefault(t *testing.T) {
	ff := LoadFeatureFlags()
	ctx := &FeatureContext{StudentID: 42}

	ff.SetStudentOverride(42, FeatureLegacyStateRestore, true)
	assert.True(t, ff.IsEnabled(FeatureLegacyStateRestore, ctx))
	// Other students are unaffected.
	assert.False(t, ff.IsEnabled(FeatureLegacyStateRestore, &FeatureContext{StudentID: 43}))

	ff.ClearStudentOverrides(42)
	assert.False(t, ff.IsEnabled(FeatureLegacyStateRestore, ctx))
}

func TestRollout_IsConsistentPerStudent(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureSpeechAutoread, 50))

	first := ff.IsEnabled(FeatureSpeechAutoread, &FeatureContext{StudentID: 42})
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ff.IsEnabled(FeatureSpeechAutoread, &FeatureContext{StudentID: 42}))
	}
}

func TestRollout_BoundaryValues(t *testing.T) {
	ff := LoadFeatureFlags()

	require.NoError(t, ff.SetRolloutPercent(FeatureSpeechAutoread, 100))
	assert.True(t, ff.IsEnabled(FeatureSpeechAutoread, &FeatureContext{StudentID: 42}))

	require.NoError(t, ff.SetRolloutPercent(FeatureSpeechAutoread, 0))
	assert.False(t, ff.IsEnabled(FeatureSpeechAutoread, &FeatureContext{StudentID: 42}))

	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureSpeechAutoread, 101), ErrInvalidRolloutPercent)
	assert.ErrorIs(t, ff.SetRolloutPercent("nope", 50), ErrFeatureNotFound)
}

func TestClassroomTargeting(t *testing.T) {
	ff := LoadFeatureFlags()

	ff.mu.Lock()
	ff.features[FeatureSpeechAutoread].Enabled = true
	ff.features[FeatureSpeechAutoread].RolloutPercent = 100
	ff.features[FeatureSpeechAutoread].TargetClassrooms = []string{"ASTRO-101"}
	ff.mu.Unlock()

	assert.True(t, ff.IsEnabled(FeatureSpeechAutoread, &FeatureContext{StudentID: 1, Classroom: "ASTRO-101"}))
	assert.False(t, ff.IsEnabled(FeatureSpeechAutoread, &FeatureContext{StudentID: 1, Classroom: "BIO-202"}))
}
