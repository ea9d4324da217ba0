// Package cds implements the CosmicDS portal API client.
// This package handles all communication with the remote persistence
// service: student lookup and sign-up, classroom resolution, per-student
// options, and story-state storage.
package cds

import "fmt"

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPES
// ══════════════════════════════════════════════════════════════════════════════

// StudentEnvelope wraps the student lookup response. The service returns
// {"student": null} for an unknown username rather than an error status.
type StudentEnvelope struct {
	Student *StudentDTO `json:"student"`
}

// ClassEnvelope wraps the classroom lookup response. The class key is null
// when the student has no classroom for the story; size is always present.
type ClassEnvelope struct {
	Class *ClassDTO `json:"class"`
	Size  int       `json:"size"`
}

// StoryStateEnvelope wraps the story-state read response. The state key is
// null when the student has no saved state for the story.
type StoryStateEnvelope struct {
	State map[string]interface{} `json:"state"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ENTITY DTOs
// ══════════════════════════════════════════════════════════════════════════════

// StudentDTO represents a student record as returned by the portal.
type StudentDTO struct {
	// ID is the numeric student identifier used in all persistence paths.
	ID int `json:"id"`

	// Username is the resolved login name.
	Username string `json:"username"`

	// Email is the student's email; for seeded accounts it mirrors the
	// username.
	Email string `json:"email,omitempty"`

	// InstitutionID is the owning institution, when the account has one.
	InstitutionID *int `json:"institution_id,omitempty"`
}

// ClassDTO represents a classroom record as returned by the portal.
type ClassDTO struct {
	ID   int    `json:"id"`
	Code string `json:"code,omitempty"`
	Name string `json:"name,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST DTOs
// ══════════════════════════════════════════════════════════════════════════════

// SignUpRequestDTO is the payload for creating a student account. The
// portal requires every field to be present; sessions created through the
// hub send placeholder values for the ones a seeded account does not have.
type SignUpRequestDTO struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	Institution   string `json:"institution"`
	Email         string `json:"email"`
	Age           int    `json:"age"`
	Gender        string `json:"gender"`
	ClassroomCode string `json:"classroomCode"`
}

// NewSignUpRequest builds the sign-up payload for a hub-created account:
// empty password and institution, email mirroring the username, age zero
// and gender "undefined".
func NewSignUpRequest(username, classroomCode string) SignUpRequestDTO {
	return SignUpRequestDTO{
		Username:      username,
		Password:      "",
		Institution:   "",
		Email:         username,
		Age:           0,
		Gender:        "undefined",
		ClassroomCode: classroomCode,
	}
}

// OptionWriteDTO is the payload for writing a single per-student option.
type OptionWriteDTO struct {
	Option string      `json:"option"`
	Value  interface{} `json:"value"`
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR DTOs
// ══════════════════════════════════════════════════════════════════════════════

// APIErrorDTO represents an error response from the portal.
type APIErrorDTO struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// StatusCode is the HTTP status the error arrived with. Not part of
	// the response body.
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *APIErrorDTO) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error: status %d", e.StatusCode)
}
