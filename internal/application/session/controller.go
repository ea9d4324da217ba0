// Package session implements the session controller: the application
// service that bootstraps a student session against the portal, owns the
// global and story state, and mediates all persistence traffic.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cosmicds/story-session-hub/config"
	appstate "github.com/cosmicds/story-session-hub/internal/domain/session"
	"github.com/cosmicds/story-session-hub/internal/domain/shared"
	"github.com/cosmicds/story-session-hub/internal/domain/story"
	"github.com/cosmicds/story-session-hub/internal/infrastructure/external/cds"
	"github.com/cosmicds/story-session-hub/internal/infrastructure/persistence/redis"
	"github.com/cosmicds/story-session-hub/internal/infrastructure/scheduler"
)

// ══════════════════════════════════════════════════════════════════════════════
// PORTAL CLIENT CONTRACT
// ══════════════════════════════════════════════════════════════════════════════

// PortalClient is the slice of the portal API the controller depends on.
// *cds.Client satisfies it; tests substitute fakes.
type PortalClient interface {
	GetStudent(ctx context.Context, username string) (*cds.StudentDTO, error)
	SignUpStudent(ctx context.Context, req cds.SignUpRequestDTO) error
	GetClassForStudentStory(ctx context.Context, studentID int, story string) (*cds.ClassDTO, int, error)
	GetOptions(ctx context.Context, studentID int) (map[string]interface{}, error)
	SetOption(ctx context.Context, studentID int, option string, value interface{}) error
	GetStoryState(ctx context.Context, studentID int, story string) (map[string]interface{}, error)
	UpdateStoryState(ctx context.Context, studentID int, story string, state map[string]interface{}) error
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ControllerConfig contains everything a Controller needs. Client, Bus,
// Registry, and Story are required; Cache is optional.
type ControllerConfig struct {
	// Story is the name of the story this session runs.
	Story string

	// Username identifies the student. When empty, FallbackUsername is
	// used; when both are empty, bootstrap fails.
	Username string

	// ClassroomCode is passed through to sign-up when the student has to
	// be created.
	ClassroomCode string

	// FallbackUsername is the demo identity used when no username is
	// supplied.
	FallbackUsername string

	// FallbackStudentID is assumed when the student remains unresolvable
	// after sign-up.
	FallbackStudentID int

	// OptionDebounce is the quiet period for option write-through.
	OptionDebounce time.Duration

	// RequestTimeout bounds the portal calls made outside Bootstrap
	// (debounced option writes, write-back).
	RequestTimeout time.Duration

	// Client is the portal API client.
	Client PortalClient

	// Bus carries the session lifecycle events.
	Bus shared.EventBus

	// Registry resolves the story name to its state factory.
	Registry *story.Registry

	// Cache mirrors portal reads; nil disables caching.
	Cache *redis.SessionCache

	// Flags control write-back, team interface, advancing, and the
	// legacy full-state restore. Nil means defaults.
	Flags *config.FeatureFlags

	// Logger for structured logging.
	Logger *slog.Logger
}

// Validate checks the required dependencies.
func (c *ControllerConfig) Validate() error {
	if c.Story == "" {
		return shared.ErrStoryNameEmpty
	}
	if c.Client == nil {
		return fmt.Errorf("controller config: client is required")
	}
	if c.Bus == nil {
		return fmt.Errorf("controller config: event bus is required")
	}
	if c.Registry == nil {
		return fmt.Errorf("controller config: story registry is required")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTROLLER
// ══════════════════════════════════════════════════════════════════════════════

// Controller owns one student session. It is created idle; Bootstrap
// resolves the student, classroom, story state, and options, after which
// the controller reacts to state mutations and write requests until Close.
type Controller struct {
	config    ControllerConfig
	logger    *slog.Logger
	client    PortalClient
	bus       shared.EventBus
	registry  *story.Registry
	cache     *redis.SessionCache
	flags     *config.FeatureFlags
	debouncer *scheduler.Debouncer

	sessionID string
	app       *appstate.State

	mu      sync.Mutex
	story   story.State
	ready   bool
	started bool
	status  string
}

// NewController creates an idle Controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OptionDebounce <= 0 {
		cfg.OptionDebounce = time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	return &Controller{
		config:   cfg,
		logger:   cfg.Logger,
		client:   cfg.Client,
		bus:      cfg.Bus,
		registry: cfg.Registry,
		cache:    cfg.Cache,
		flags:    cfg.Flags,
		debouncer: scheduler.NewDebouncer(scheduler.DebouncerConfig{
			Quiet:  cfg.OptionDebounce,
			Logger: cfg.Logger,
		}),
		sessionID: uuid.NewString(),
		app:       appstate.NewState(),
	}, nil
}

// SessionID returns the correlation id for this session's events.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// AppState returns the global session state record.
func (c *Controller) AppState() *appstate.State {
	return c.app
}

// StoryState returns the story state, nil before Bootstrap.
func (c *Controller) StoryState() story.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.story
}

// Ready reports whether Bootstrap has completed.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Status returns the last loading status message.
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetStatus records a loading status message and broadcasts it. The last
// message is authoritative; listeners overwrite, not append.
func (c *Controller) SetStatus(message string) {
	c.mu.Lock()
	c.status = message
	c.mu.Unlock()

	if err := c.bus.Publish(shared.NewStatusChangedEvent(c.sessionID, message)); err != nil {
		c.logger.Debug("status publish failed", "error", err)
	}
}

// OnStatus subscribes a plain string callback to status changes.
func (c *Controller) OnStatus(fn func(message string)) error {
	if fn == nil {
		return nil
	}
	return c.bus.Subscribe(shared.EventStatusChanged, func(e shared.Event) error {
		if evt, ok := e.(shared.StatusChangedEvent); ok {
			fn(evt.Message)
		}
		return nil
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// BOOTSTRAP
// ══════════════════════════════════════════════════════════════════════════════

// Bootstrap runs the session start-up sequence: resolve the student
// (signing up when unknown), resolve the classroom, construct the story
// state, merge saved options, optionally restore saved story state, and
// arm the write-back and option observers. It must be called exactly once;
// any error is fatal to the session.
func (c *Controller) Bootstrap(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return shared.ErrSessionAlreadyStarted
	}
	c.started = true
	c.mu.Unlock()

	if err := c.bootstrap(ctx); err != nil {
		// Distinct from the ordinary loading status so the UI can show a
		// failure state instead of a stuck progress message.
		c.SetStatus("Session failed to load")
		return err
	}
	return nil
}

func (c *Controller) bootstrap(ctx context.Context) error {
	student, username, err := c.resolveStudent(ctx)
	if err != nil {
		return err
	}

	classroom, err := c.resolveClassroom(ctx, student.ID)
	if err != nil {
		return err
	}

	c.SetStatus("Preparing story")
	st, err := c.registry.Setup(c.config.Story, c.app)
	if err != nil {
		return shared.WrapError("session", "Bootstrap", shared.ErrBootstrapFailed, "story setup failed", err)
	}
	c.mu.Lock()
	c.story = st
	c.mu.Unlock()

	c.applyFeatureFlags(student.ID, classroom.Code)
	c.mergeSavedOptions(ctx, student.ID)

	if c.legacyRestoreEnabled(student.ID, classroom.Code) {
		c.restoreStoryState(ctx, student.ID)
	}

	if err := c.bus.Subscribe(shared.EventWriteToDatabase, c.handleWriteToDatabase); err != nil {
		return shared.WrapError("session", "Bootstrap", shared.ErrBootstrapFailed, "subscribe write-back handler", err)
	}

	c.registerOptionObservers()

	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()

	if err := c.bus.Publish(shared.NewSessionReadyEvent(c.sessionID, student.ID, c.config.Story)); err != nil {
		c.logger.Warn("ready publish failed", "error", err)
	}
	c.SetStatus("Session ready")
	c.logger.Info("session ready",
		"session_id", c.sessionID,
		"student_id", student.ID,
		"username", username,
		"story", c.config.Story,
		"classroom_id", classroom.ID,
	)

	return nil
}

// resolveStudent resolves the username to a student record, signing the
// student up when the portal does not know them. Falls back to the
// configured demo id when the record stays unresolvable after sign-up.
func (c *Controller) resolveStudent(ctx context.Context) (appstate.Student, string, error) {
	username := c.config.Username
	if username == "" {
		username = c.config.FallbackUsername
	}
	if username == "" {
		return appstate.Student{}, "", shared.ErrNoUsername
	}

	c.SetStatus("Loading student information")
	dto, err := c.client.GetStudent(ctx, username)
	if err != nil {
		return appstate.Student{}, "", shared.WrapError("session", "Bootstrap", shared.ErrBootstrapFailed, "student lookup failed", err)
	}

	if dto == nil {
		c.SetStatus("Creating student account")
		if err := c.client.SignUpStudent(ctx, cds.NewSignUpRequest(username, c.config.ClassroomCode)); err != nil {
			return appstate.Student{}, "", shared.WrapError("session", "Bootstrap", shared.ErrBootstrapFailed, "student sign-up failed", err)
		}
		dto, err = c.client.GetStudent(ctx, username)
		if err != nil {
			return appstate.Student{}, "", shared.WrapError("session", "Bootstrap", shared.ErrBootstrapFailed, "student lookup after sign-up failed", err)
		}
	}

	var student appstate.Student
	if dto != nil {
		student = appstate.Student{ID: dto.ID, Username: dto.Username, Email: dto.Email}
		if c.cache != nil {
			if err := c.cache.SetStudent(ctx, student); err != nil {
				c.logger.Debug("student cache write failed", "error", err)
			}
		}
	} else {
		// The portal accepted the sign-up but still has no record.
		student = appstate.Student{ID: c.config.FallbackStudentID, Username: username}
		c.logger.Warn("student unresolved after sign-up, using fallback id",
			"username", username,
			"fallback_id", c.config.FallbackStudentID,
		)
	}

	c.app.SetStudent(student)
	return student, username, nil
}

// resolveClassroom fetches the student's classroom for the story. A
// student without a classroom gets the sentinel record with id 0 so that
// downstream consumers never see an absent classroom.
func (c *Controller) resolveClassroom(ctx context.Context, studentID int) (appstate.Classroom, error) {
	c.SetStatus("Loading classroom information")
	dto, size, err := c.client.GetClassForStudentStory(ctx, studentID, c.config.Story)
	if err != nil {
		return appstate.Classroom{}, shared.WrapError("session", "Bootstrap", shared.ErrBootstrapFailed, "classroom lookup failed", err)
	}

	classroom := appstate.Classroom{ID: 0, Size: size}
	if dto != nil {
		classroom.ID = dto.ID
		classroom.Code = dto.Code
	}
	c.app.SetClassroom(classroom)
	return classroom, nil
}

// applyFeatureFlags evaluates the session flags for the resolved student.
func (c *Controller) applyFeatureFlags(studentID int, classroomCode string) {
	if c.flags == nil {
		return
	}
	fctx := &config.FeatureContext{StudentID: studentID, Classroom: classroomCode}

	c.app.SetUpdateDB(c.flags.IsEnabled(config.FeatureSessionWriteBack, fctx))
	c.app.SetShowTeamInterface(c.flags.IsEnabled(config.FeatureSessionTeamInterface, fctx))
	c.app.SetAllowAdvancing(c.flags.IsEnabled(config.FeatureSessionAllowAdvance, fctx))
}

func (c *Controller) legacyRestoreEnabled(studentID int, classroomCode string) bool {
	if c.flags == nil {
		return false
	}
	fctx := &config.FeatureContext{StudentID: studentID, Classroom: classroomCode}
	return c.flags.IsEnabled(config.FeatureLegacyStateRestore, fctx)
}

// mergeSavedOptions fetches the saved options and merges them into the
// session state. A failed fetch is recoverable: the session continues on
// defaults, with a cache fallback when one is configured.
func (c *Controller) mergeSavedOptions(ctx context.Context, studentID int) {
	c.SetStatus("Loading saved options")

	options, err := c.client.GetOptions(ctx, studentID)
	if err != nil {
		c.logger.Warn("options fetch failed, continuing with defaults", "error", err)
		if c.cache != nil {
			cached, cerr := c.cache.GetOptions(ctx, studentID)
			if cerr == nil {
				options = cached
				c.logger.Info("options served from cache", "student_id", studentID)
			}
		}
	} else if c.cache != nil && len(options) > 0 {
		if cerr := c.cache.SetOptions(ctx, studentID, options); cerr != nil {
			c.logger.Debug("options cache write failed", "error", cerr)
		}
	}

	if len(options) > 0 {
		c.app.MergeOptions(options)
	}
}

// restoreStoryState applies the saved story state. Only runs for sessions
// with the legacy restore flag; failures are recoverable.
func (c *Controller) restoreStoryState(ctx context.Context, studentID int) {
	c.SetStatus("Restoring story state")

	state, err := c.client.GetStoryState(ctx, studentID, c.config.Story)
	if err != nil {
		c.logger.Warn("story state fetch failed, starting fresh", "error", err)
		if c.cache != nil {
			cached, cerr := c.cache.GetStoryState(ctx, studentID, c.config.Story)
			if cerr == nil {
				state = cached
				c.logger.Info("story state served from cache", "student_id", studentID)
			}
		}
	}

	if len(state) == 0 {
		return
	}
	if err := c.story.ApplySnapshot(state); err != nil {
		c.logger.Warn("saved story state not applicable, starting fresh", "error", err)
	}
}

// registerOptionObservers arms the per-field debounced write-through for
// the speech parameters. Each field gets its own debounce key, so changes
// to different options never delay one another, and each registration
// captures the value at mutation time, so the last value in a burst is the
// one written.
//
// The theme flag is a local concern: its observer announces the change for
// the UI but never writes to the portal.
func (c *Controller) registerOptionObservers() {
	fields := []string{
		appstate.FieldSpeechRate,
		appstate.FieldSpeechPitch,
		appstate.FieldSpeechAutoread,
		appstate.FieldSpeechVoice,
	}
	for _, field := range fields {
		field := field
		c.app.Observe(field, func(value interface{}) {
			c.optionChanged(field, value)
		})
	}

	c.app.Observe(appstate.FieldDarkMode, func(value interface{}) {
		if err := c.bus.Publish(shared.NewOptionChangedEvent(c.sessionID, appstate.FieldDarkMode, value)); err != nil {
			c.logger.Debug("option event publish failed", "error", err)
		}
	})
}

// optionChanged schedules the debounced write for one option field.
func (c *Controller) optionChanged(field string, value interface{}) {
	c.debouncer.Schedule(field, func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
		defer cancel()

		studentID := c.app.Student().ID
		if err := c.client.SetOption(ctx, studentID, field, value); err != nil {
			c.logger.Warn("option write failed", "option", field, "error", err)
			return
		}

		if err := c.bus.Publish(shared.NewOptionChangedEvent(c.sessionID, field, value)); err != nil {
			c.logger.Debug("option event publish failed", "error", err)
		}
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// STORY PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// SetStageIndex moves the story to a stage, announces the transition, and
// requests a write-back.
func (c *Controller) SetStageIndex(index int) error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return shared.ErrSessionNotReady
	}
	st := c.story
	c.mu.Unlock()

	st.SetStageIndex(index)
	if err := c.bus.Publish(shared.NewStateChangedEvent(c.sessionID, c.config.Story, index)); err != nil {
		c.logger.Debug("stage event publish failed", "error", err)
	}
	return c.RequestWrite()
}

// RecordMCScore records a multiple-choice result for the current stage.
func (c *Controller) RecordMCScore(tag string, score story.MCScore) error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return shared.ErrSessionNotReady
	}
	st := c.story
	c.mu.Unlock()

	index := st.StageIndex()
	st.RecordMCScore(index, tag, score)
	if err := c.bus.Publish(shared.NewMCScoreRecordedEvent(
		c.sessionID, index, tag, score.Score, score.Choice, score.Tries, score.WrongAttempts,
	)); err != nil {
		c.logger.Debug("score event publish failed", "error", err)
	}
	return c.RequestWrite()
}

// RecordResponse records a free-response answer for the current stage.
func (c *Controller) RecordResponse(tag, response string) error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return shared.ErrSessionNotReady
	}
	st := c.story
	c.mu.Unlock()

	index := st.StageIndex()
	st.RecordResponse(index, tag, response)
	if err := c.bus.Publish(shared.NewResponseRecordedEvent(c.sessionID, index, tag, response)); err != nil {
		c.logger.Debug("response event publish failed", "error", err)
	}
	return c.RequestWrite()
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITE-BACK
// ══════════════════════════════════════════════════════════════════════════════

// RequestWrite publishes a write-back request. With the synchronous bus
// the write has completed (or been skipped) when this returns. Write
// failures are logged by the handler, not surfaced here.
func (c *Controller) RequestWrite() error {
	return c.bus.Publish(shared.NewWriteToDatabaseEvent(c.sessionID))
}

// WriteToDatabase is the direct save action: same handler as the
// write-back event, but the error is returned to the caller.
func (c *Controller) WriteToDatabase(ctx context.Context) error {
	return c.writeToDatabase(ctx)
}

// NotifyStateChange announces the story's current stage on the bus and
// requests a write-back.
func (c *Controller) NotifyStateChange() error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return shared.ErrSessionNotReady
	}
	st := c.story
	c.mu.Unlock()

	if err := c.bus.Publish(shared.NewStateChangedEvent(c.sessionID, c.config.Story, st.StageIndex())); err != nil {
		c.logger.Debug("stage event publish failed", "error", err)
	}
	return c.RequestWrite()
}

// handleWriteToDatabase is the bus handler armed during Bootstrap.
func (c *Controller) handleWriteToDatabase(shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
	defer cancel()
	return c.writeToDatabase(ctx)
}

// writeToDatabase serializes the story state and PUTs it to the portal.
// The write is skipped when write-back is disabled or when serialization
// yields an empty mapping. Failures are logged and the session continues;
// the next write request retries with fresh state.
func (c *Controller) writeToDatabase(ctx context.Context) error {
	if !c.app.UpdateDB() {
		return nil
	}

	c.mu.Lock()
	st := c.story
	c.mu.Unlock()
	if st == nil {
		return nil
	}

	snapshot := story.EncodeSnapshot(st.Snapshot())
	if len(snapshot) == 0 {
		return nil
	}

	studentID := c.app.Student().ID
	if err := c.client.UpdateStoryState(ctx, studentID, st.Name(), snapshot); err != nil {
		c.logger.Error("story state write-back failed",
			"student_id", studentID,
			"story", st.Name(),
			"error", err,
		)
		return err
	}

	if c.cache != nil {
		if err := c.cache.SetStoryState(ctx, studentID, st.Name(), snapshot); err != nil {
			c.logger.Debug("story state cache write failed", "error", err)
		}
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SHUTDOWN
// ══════════════════════════════════════════════════════════════════════════════

// Close flushes pending option writes, performs a final write-back, and
// stops the debouncer. The event bus is owned by the caller and left open.
func (c *Controller) Close(ctx context.Context) error {
	c.debouncer.Flush()
	c.debouncer.Stop()

	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()
	if !ready {
		return nil
	}

	if err := c.writeToDatabase(ctx); err != nil {
		return fmt.Errorf("final write-back: %w", err)
	}
	return nil
}
