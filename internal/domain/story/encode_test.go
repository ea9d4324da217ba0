package story

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeValue_Identifiers(t *testing.T) {
	id := uuid.MustParse("a2f1c0de-0000-4000-8000-000000000042")

	assert.Equal(t, "a2f1c0de-0000-4000-8000-000000000042", EncodeValue(id))
}

func TestEncodeValue_Time(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	assert.Equal(t, "2026-03-14T09:26:53Z", EncodeValue(ts))
}

func TestEncodeValue_NonFiniteFloatsBecomeNil(t *testing.T) {
	assert.Nil(t, EncodeValue(math.NaN()))
	assert.Nil(t, EncodeValue(math.Inf(1)))
	assert.Nil(t, EncodeValue(math.Inf(-1)))
	assert.Equal(t, 1.5, EncodeValue(1.5))
}

func TestEncodeValue_ScalarsPassThrough(t *testing.T) {
	assert.Equal(t, true, EncodeValue(true))
	assert.Equal(t, "text", EncodeValue("text"))
	assert.Equal(t, 42, EncodeValue(42))
	assert.Nil(t, EncodeValue(nil))
}

func TestEncodeValue_TypedSlicesFlatten(t *testing.T) {
	got := EncodeValue([]float64{1.0, 2.5, 3.0})

	assert.Equal(t, []interface{}{1.0, 2.5, 3.0}, got)
}

func TestEncodeValue_NestedStructures(t *testing.T) {
	id := uuid.MustParse("a2f1c0de-0000-4000-8000-000000000042")
	value := map[string]interface{}{
		"markers": []interface{}{
			map[string]interface{}{"id": id, "weight": math.NaN()},
		},
		"counts": []int{1, 2, 3},
	}

	got, ok := EncodeValue(value).(map[string]interface{})
	require.True(t, ok)

	markers, ok := got["markers"].([]interface{})
	require.True(t, ok)
	marker, ok := markers[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "a2f1c0de-0000-4000-8000-000000000042", marker["id"])
	assert.Nil(t, marker["weight"])

	assert.Equal(t, []interface{}{1, 2, 3}, got["counts"])
}

func TestEncodeValue_TypedMaps(t *testing.T) {
	got := EncodeValue(map[int]string{1: "one", 2: "two"})

	assert.Equal(t, map[string]interface{}{"1": "one", "2": "two"}, got)
}

func TestEncodeSnapshot(t *testing.T) {
	snap := EncodeSnapshot(map[string]interface{}{
		"pitch":  math.Inf(1),
		"stages": []float64{0, 1},
	})

	assert.Nil(t, snap["pitch"])
	assert.Equal(t, []interface{}{0.0, 1.0}, snap["stages"])
}
