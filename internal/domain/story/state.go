// Package story contains the per-lesson story state: an opaque, pluggable
// record of lesson progress constructed by the Registry, plus the snapshot
// codec that converts it to and from the JSON-safe wire form.
package story

import (
	"fmt"
	"strconv"
	"sync"
)

// MCScore is a recorded multiple-choice result for one question tag.
type MCScore struct {
	Score         int `json:"score"`
	Choice        int `json:"choice"`
	Tries         int `json:"tries"`
	WrongAttempts int `json:"wrong_attempts"`
}

// State is the contract a story implementation exposes to the session
// controller. The controller treats it as opaque lesson progress: it only
// serializes it, restores it, and records scoring through it.
type State interface {
	// Name returns the story name used in persistence endpoint paths.
	Name() string

	// StageIndex returns the current stage number.
	StageIndex() int

	// SetStageIndex moves the story to the given stage.
	SetStageIndex(index int)

	// Snapshot serializes the state to a plain key-value mapping suitable
	// for the snapshot codec. An empty mapping means "nothing to persist".
	Snapshot() map[string]interface{}

	// ApplySnapshot merge-updates the state from a plain mapping: keys
	// present overwrite, keys absent leave existing fields untouched.
	ApplySnapshot(payload map[string]interface{}) error

	// RecordMCScore stores a multiple-choice result for a stage and tag.
	RecordMCScore(stageIndex int, tag string, score MCScore)

	// RecordResponse stores a free-response answer for a stage and tag.
	RecordResponse(stageIndex int, tag, response string)
}

// BaseState is the default State implementation. Story packages embed or
// wrap it and keep story-specific fields in Extra.
//
// The scoring and response collections are keyed by stringified stage index
// and then by tag; inner maps are created lazily on first write and never
// pre-allocated.
type BaseState struct {
	mu sync.RWMutex

	name       string
	stageIndex int

	mcScoring map[string]map[string]MCScore
	responses map[string]map[string]string

	// Extra holds the genuinely schema-free story-specific fields.
	extra map[string]interface{}
}

// NewBaseState creates a BaseState for the named story.
func NewBaseState(name string) *BaseState {
	return &BaseState{
		name:      name,
		mcScoring: make(map[string]map[string]MCScore),
		responses: make(map[string]map[string]string),
		extra:     make(map[string]interface{}),
	}
}

// Name implements State.
func (s *BaseState) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// StageIndex implements State.
func (s *BaseState) StageIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stageIndex
}

// SetStageIndex implements State.
func (s *BaseState) SetStageIndex(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stageIndex = index
}

// SetExtra stores a story-specific field.
func (s *BaseState) SetExtra(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extra[key] = value
}

// Extra returns a story-specific field.
func (s *BaseState) Extra(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.extra[key]
	return v, ok
}

// MCScoreFor returns the recorded result for a stage and tag.
func (s *BaseState) MCScoreFor(stageIndex int, tag string) (MCScore, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stage, ok := s.mcScoring[strconv.Itoa(stageIndex)]
	if !ok {
		return MCScore{}, false
	}
	score, ok := stage[tag]
	return score, ok
}

// ResponseFor returns the recorded answer for a stage and tag.
func (s *BaseState) ResponseFor(stageIndex int, tag string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stage, ok := s.responses[strconv.Itoa(stageIndex)]
	if !ok {
		return "", false
	}
	resp, ok := stage[tag]
	return resp, ok
}

// RecordMCScore implements State.
func (s *BaseState) RecordMCScore(stageIndex int, tag string, score MCScore) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strconv.Itoa(stageIndex)
	if _, ok := s.mcScoring[key]; !ok {
		s.mcScoring[key] = make(map[string]MCScore)
	}
	s.mcScoring[key][tag] = score
}

// RecordResponse implements State.
func (s *BaseState) RecordResponse(stageIndex int, tag, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strconv.Itoa(stageIndex)
	if _, ok := s.responses[key]; !ok {
		s.responses[key] = make(map[string]string)
	}
	s.responses[key][tag] = response
}

// Snapshot implements State.
func (s *BaseState) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.name == "" && len(s.mcScoring) == 0 && len(s.responses) == 0 && len(s.extra) == 0 {
		return map[string]interface{}{}
	}

	snap := map[string]interface{}{
		"name":        s.name,
		"stage_index": s.stageIndex,
	}

	if len(s.mcScoring) > 0 {
		scoring := make(map[string]interface{}, len(s.mcScoring))
		for stage, tags := range s.mcScoring {
			entry := make(map[string]interface{}, len(tags))
			for tag, score := range tags {
				entry[tag] = map[string]interface{}{
					"score":          score.Score,
					"choice":         score.Choice,
					"tries":          score.Tries,
					"wrong_attempts": score.WrongAttempts,
				}
			}
			scoring[stage] = entry
		}
		snap["mc_scoring"] = scoring
	}

	if len(s.responses) > 0 {
		responses := make(map[string]interface{}, len(s.responses))
		for stage, tags := range s.responses {
			entry := make(map[string]interface{}, len(tags))
			for tag, resp := range tags {
				entry[tag] = resp
			}
			responses[stage] = entry
		}
		snap["responses"] = responses
	}

	for key, value := range s.extra {
		snap[key] = EncodeValue(value)
	}

	return snap
}

// ApplySnapshot implements State. Known keys are decoded into their typed
// fields; unknown keys land in Extra so that older persisted payloads keep
// their data through a restore/write-back cycle.
func (s *BaseState) ApplySnapshot(payload map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, raw := range payload {
		switch key {
		case "name":
			// The name is the identity of the state; a persisted payload
			// never moves a state to a different story.
		case "stage_index":
			idx, ok := toInt(raw)
			if !ok {
				return fmt.Errorf("apply snapshot: stage_index: %w", errNotAnInteger)
			}
			s.stageIndex = idx
		case "mc_scoring":
			if err := s.applyScoring(raw); err != nil {
				return fmt.Errorf("apply snapshot: mc_scoring: %w", err)
			}
		case "responses":
			if err := s.applyResponses(raw); err != nil {
				return fmt.Errorf("apply snapshot: responses: %w", err)
			}
		default:
			s.extra[key] = raw
		}
	}

	return nil
}

func (s *BaseState) applyScoring(raw interface{}) error {
	stages, ok := raw.(map[string]interface{})
	if !ok {
		return errNotAMapping
	}

	for stage, tagsRaw := range stages {
		tags, ok := tagsRaw.(map[string]interface{})
		if !ok {
			return errNotAMapping
		}
		for tag, scoreRaw := range tags {
			fields, ok := scoreRaw.(map[string]interface{})
			if !ok {
				return errNotAMapping
			}
			score := MCScore{}
			if v, ok := toInt(fields["score"]); ok {
				score.Score = v
			}
			if v, ok := toInt(fields["choice"]); ok {
				score.Choice = v
			}
			if v, ok := toInt(fields["tries"]); ok {
				score.Tries = v
			}
			if v, ok := toInt(fields["wrong_attempts"]); ok {
				score.WrongAttempts = v
			}
			if _, ok := s.mcScoring[stage]; !ok {
				s.mcScoring[stage] = make(map[string]MCScore)
			}
			s.mcScoring[stage][tag] = score
		}
	}

	return nil
}

func (s *BaseState) applyResponses(raw interface{}) error {
	stages, ok := raw.(map[string]interface{})
	if !ok {
		return errNotAMapping
	}

	for stage, tagsRaw := range stages {
		tags, ok := tagsRaw.(map[string]interface{})
		if !ok {
			return errNotAMapping
		}
		for tag, respRaw := range tags {
			resp, ok := respRaw.(string)
			if !ok {
				return errNotAString
			}
			if _, ok := s.responses[stage]; !ok {
				s.responses[stage] = make(map[string]string)
			}
			s.responses[stage][tag] = resp
		}
	}

	return nil
}
