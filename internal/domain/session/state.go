// Package session contains the observable application state record that
// holds all non-lesson session state: resolved identity, classroom context,
// UI flags, and per-student speech options.
package session

import (
	"sync"
)

// Field names for observer registration and for the remote options payload.
// The speech fields double as the wire option names sent to the options
// endpoint, so they must not be renamed independently of the service.
const (
	FieldDarkMode       = "dark_mode"
	FieldSpeechRate     = "speech_rate"
	FieldSpeechPitch    = "speech_pitch"
	FieldSpeechAutoread = "speech_autoread"
	FieldSpeechVoice    = "speech_voice"
)

// Student is the resolved student record.
type Student struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Classroom is the resolved classroom record. A session without a classroom
// carries the sentinel record with ID 0; Size is always populated after
// bootstrap.
type Classroom struct {
	ID   int    `json:"id"`
	Code string `json:"code,omitempty"`
	Size int    `json:"size"`
}

// Observer is a change-notification callback for a single field.
// It receives the new value after the mutation has been applied.
type Observer func(value interface{})

// State is the mutable record of global (non-lesson) session state.
// All mutation flows through the setters, which dispatch registered
// observers exactly once per mutation.
type State struct {
	mu sync.RWMutex

	// Identity and context, stable once bootstrap resolves them.
	student   Student
	classroom Classroom

	// Host mode: true when running behind the alternate (hub) host.
	usingAlternateHost bool

	// UI flags
	darkMode          bool
	updateDB          bool
	showTeamInterface bool
	allowAdvancing    bool

	// Speech parameters
	speechPitch    float64
	speechRate     float64
	speechAutoread bool
	speechVoice    string // empty means browser default

	observers map[string][]Observer
}

// NewState creates a State with the same defaults the UI assumes
// before bootstrap.
func NewState() *State {
	return &State{
		darkMode:          true,
		updateDB:          false,
		showTeamInterface: true,
		allowAdvancing:    true,
		speechPitch:       1,
		speechRate:        1,
		observers:         make(map[string][]Observer),
	}
}

// Observe registers a change-notification callback for a named field.
// Handlers run synchronously on the mutating goroutine, in registration
// order, once per mutation.
func (s *State) Observe(field string, fn Observer) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers[field] = append(s.observers[field], fn)
}

// notify dispatches the observers registered for field.
// Callers must not hold the mutex.
func (s *State) notify(field string, value interface{}) {
	s.mu.RLock()
	handlers := make([]Observer, len(s.observers[field]))
	copy(handlers, s.observers[field])
	s.mu.RUnlock()

	for _, fn := range handlers {
		fn(value)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Identity and context
// ═══════════════════════════════════════════════════════════════════════════

// Student returns the resolved student record.
func (s *State) Student() Student {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.student
}

// SetStudent stores the resolved student record. The student ID is stable
// for the session lifetime once set by bootstrap.
func (s *State) SetStudent(st Student) {
	s.mu.Lock()
	s.student = st
	s.mu.Unlock()
}

// SetStudentID overrides only the student id, used for the anonymous/demo
// fallback when the student remains unresolvable after sign-up.
func (s *State) SetStudentID(id int) {
	s.mu.Lock()
	s.student.ID = id
	s.mu.Unlock()
}

// Classroom returns the resolved classroom record.
func (s *State) Classroom() Classroom {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.classroom
}

// SetClassroom stores the classroom record including its reported size.
func (s *State) SetClassroom(c Classroom) {
	s.mu.Lock()
	s.classroom = c
	s.mu.Unlock()
}

// UsingAlternateHost reports whether the session runs behind the hub host.
func (s *State) UsingAlternateHost() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usingAlternateHost
}

// SetUsingAlternateHost records the host mode.
func (s *State) SetUsingAlternateHost(v bool) {
	s.mu.Lock()
	s.usingAlternateHost = v
	s.mu.Unlock()
}

// ═══════════════════════════════════════════════════════════════════════════
// UI flags
// ═══════════════════════════════════════════════════════════════════════════

// DarkMode returns the theme flag.
func (s *State) DarkMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.darkMode
}

// SetDarkMode sets the theme flag and notifies observers.
func (s *State) SetDarkMode(v bool) {
	s.mu.Lock()
	s.darkMode = v
	s.mu.Unlock()
	s.notify(FieldDarkMode, v)
}

// UpdateDB reports whether story-state write-back is enabled.
func (s *State) UpdateDB() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updateDB
}

// SetUpdateDB toggles story-state write-back at runtime.
func (s *State) SetUpdateDB(v bool) {
	s.mu.Lock()
	s.updateDB = v
	s.mu.Unlock()
}

// ShowTeamInterface reports whether the team interface is visible.
func (s *State) ShowTeamInterface() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.showTeamInterface
}

// SetShowTeamInterface sets the team interface flag.
func (s *State) SetShowTeamInterface(v bool) {
	s.mu.Lock()
	s.showTeamInterface = v
	s.mu.Unlock()
}

// AllowAdvancing reports whether the student may advance stages freely.
func (s *State) AllowAdvancing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allowAdvancing
}

// SetAllowAdvancing sets the advance-permission flag.
func (s *State) SetAllowAdvancing(v bool) {
	s.mu.Lock()
	s.allowAdvancing = v
	s.mu.Unlock()
}

// ═══════════════════════════════════════════════════════════════════════════
// Speech parameters
// ═══════════════════════════════════════════════════════════════════════════

// SpeechPitch returns the speech pitch.
func (s *State) SpeechPitch() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speechPitch
}

// SetSpeechPitch sets the speech pitch and notifies observers.
func (s *State) SetSpeechPitch(v float64) {
	s.mu.Lock()
	s.speechPitch = v
	s.mu.Unlock()
	s.notify(FieldSpeechPitch, v)
}

// SpeechRate returns the speech rate.
func (s *State) SpeechRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speechRate
}

// SetSpeechRate sets the speech rate and notifies observers.
func (s *State) SetSpeechRate(v float64) {
	s.mu.Lock()
	s.speechRate = v
	s.mu.Unlock()
	s.notify(FieldSpeechRate, v)
}

// SpeechAutoread returns the autoread flag.
func (s *State) SpeechAutoread() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speechAutoread
}

// SetSpeechAutoread sets the autoread flag and notifies observers.
func (s *State) SetSpeechAutoread(v bool) {
	s.mu.Lock()
	s.speechAutoread = v
	s.mu.Unlock()
	s.notify(FieldSpeechAutoread, v)
}

// SpeechVoice returns the selected voice, empty for the browser default.
func (s *State) SpeechVoice() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speechVoice
}

// SetSpeechVoice sets the voice and notifies observers.
func (s *State) SetSpeechVoice(v string) {
	s.mu.Lock()
	s.speechVoice = v
	s.mu.Unlock()
	s.notify(FieldSpeechVoice, v)
}

// ═══════════════════════════════════════════════════════════════════════════
// Options merge
// ═══════════════════════════════════════════════════════════════════════════

// MergeOptions applies a fetched options payload with merge-update
// semantics: fields present in the payload overwrite, fields absent are
// untouched. The student_id key is never merged; the resolved identity is
// owned by bootstrap, not by the options blob. Unknown keys are ignored.
//
// Setters are used so that observers fire for each merged field.
func (s *State) MergeOptions(payload map[string]interface{}) {
	for key, raw := range payload {
		switch key {
		case "student_id":
			// never merged
		case FieldDarkMode:
			if v, ok := raw.(bool); ok {
				s.SetDarkMode(v)
			}
		case FieldSpeechPitch:
			if v, ok := toFloat(raw); ok {
				s.SetSpeechPitch(v)
			}
		case FieldSpeechRate:
			if v, ok := toFloat(raw); ok {
				s.SetSpeechRate(v)
			}
		case FieldSpeechAutoread:
			if v, ok := raw.(bool); ok {
				s.SetSpeechAutoread(v)
			}
		case FieldSpeechVoice:
			if v, ok := raw.(string); ok {
				s.SetSpeechVoice(v)
			}
		}
	}
}

// toFloat accepts the numeric types a JSON decode can produce.
func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
