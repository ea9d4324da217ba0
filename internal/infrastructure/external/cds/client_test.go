package cds

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cosmicds/story-session-hub/pkg/retry"
)

func newTestClient(serverURL string) *Client {
	config := DefaultClientConfig(serverURL)
	config.Timeout = 5 * time.Second
	// Single-attempt retrier keeps failure tests fast.
	config.Retrier = retry.New(retry.WithMaxAttempts(1))
	return NewClient(config)
}

func TestGetStudent_Found(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/student/alice", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"student": {"id": 42, "username": "alice", "email": "alice"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	student, err := client.GetStudent(context.Background(), "alice")

	require.NoError(t, err)
	require.NotNil(t, student)
	assert.Equal(t, 42, student.ID)
	assert.Equal(t, "alice", student.Username)
}

func TestGetStudent_UnknownUsernameReturnsNil(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"student": null}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	student, err := client.GetStudent(context.Background(), "nobody")

	require.NoError(t, err)
	assert.Nil(t, student)
}

func TestSignUpStudent_SendsPlaceholderFields(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/student-sign-up", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.SignUpStudent(context.Background(), NewSignUpRequest("alice", "CODE1"))

	require.NoError(t, err)
	assert.Equal(t, "alice", received["username"])
	assert.Equal(t, "", received["password"])
	assert.Equal(t, "", received["institution"])
	assert.Equal(t, "alice", received["email"])
	assert.Equal(t, float64(0), received["age"])
	assert.Equal(t, "undefined", received["gender"])
	assert.Equal(t, "CODE1", received["classroomCode"])
}

func TestGetClassForStudentStory_NoClassroom(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/class-for-student-story/42/hubble", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"class": null, "size": 0}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	class, size, err := client.GetClassForStudentStory(context.Background(), 42, "hubble")

	require.NoError(t, err)
	assert.Nil(t, class)
	assert.Equal(t, 0, size)
}

func TestGetClassForStudentStory_WithClassroom(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"class": {"id": 7, "code": "CODE1"}, "size": 25}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	class, size, err := client.GetClassForStudentStory(context.Background(), 42, "hubble")

	require.NoError(t, err)
	require.NotNil(t, class)
	assert.Equal(t, 7, class.ID)
	assert.Equal(t, 25, size)
}

func TestGetOptions_NotFoundIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	options, err := client.GetOptions(context.Background(), 42)

	require.NoError(t, err)
	assert.Nil(t, options)
}

func TestSetOption_SendsSingleOptionPayload(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/options/42", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.SetOption(context.Background(), 42, "speech_pitch", 1.5)

	require.NoError(t, err)
	assert.Equal(t, "speech_pitch", received["option"])
	assert.Equal(t, 1.5, received["value"])
}

func TestGetStoryState_NullState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"state": null}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	state, err := client.GetStoryState(context.Background(), 42, "hubble")

	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestUpdateStoryState_SendsStateUnwrapped(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/story-state/42/hubble", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	err := client.UpdateStoryState(context.Background(), 42, "hubble", map[string]interface{}{
		"name":        "hubble",
		"stage_index": 3,
	})

	require.NoError(t, err)
	assert.Equal(t, "hubble", received["name"])
	assert.Equal(t, float64(3), received["stage_index"])
}

func TestClient_RetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"student": {"id": 1, "username": "bob"}}`))
	}))
	defer server.Close()

	config := DefaultClientConfig(server.URL)
	config.Retrier = retry.New(
		retry.WithMaxAttempts(3),
		retry.WithInitialDelay(time.Millisecond),
	)
	client := NewClient(config)

	student, err := client.GetStudent(context.Background(), "bob")

	require.NoError(t, err)
	require.NotNil(t, student)
	assert.Equal(t, 2, attempts)
}

func TestClient_BearerHeaderAndHooks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"student": null}`))
	}))
	defer server.Close()

	var requested, responded []string
	config := DefaultClientConfig(server.URL)
	config.APIKey = "secret"
	config.OnRequest = func(method, path string) {
		requested = append(requested, method+" "+path)
	}
	config.OnResponse = func(method, path string, status int, elapsed time.Duration) {
		responded = append(responded, method+" "+path)
		assert.Equal(t, http.StatusOK, status)
	}
	client := NewClient(config)

	_, err := client.GetStudent(context.Background(), "alice")

	require.NoError(t, err)
	assert.Equal(t, []string{"GET /student/alice"}, requested)
	assert.Equal(t, []string{"GET /student/alice"}, responded)
}
