package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

// maxSaveAttempts bounds the optimistic-concurrency retry loop.
const maxSaveAttempts = 3

// AttemptStore persists attempts with optimistic versioning.
type AttemptStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	FindByUserAndTest(ctx context.Context, userID string, testID uuid.UUID) (*model.Attempt, error)
	Create(ctx context.Context, a *model.Attempt) error
	Save(ctx context.Context, a *model.Attempt) error
}

// TestProvider serves read-only test papers and access rules.
type TestProvider interface {
	GetTest(ctx context.Context, id uuid.UUID) (*model.TestPaper, error)
	HasEnrollment(ctx context.Context, userID string, testID uuid.UUID) (bool, error)
}

// ResultPublisher hands finalized attempts to the ranking side.
type ResultPublisher interface {
	PublishResult(ctx context.Context, a *model.Attempt) error
}

// AttemptNotifier tells other open streams of an attempt that it changed.
type AttemptNotifier interface {
	AttemptChanged(ctx context.Context, a *model.Attempt)
}

// EntryCodeChecker verifies a test's entry code.
type EntryCodeChecker interface {
	CheckEntryCode(hash, code string) error
}

// AttemptServiceOptions carries the optional collaborators.
type AttemptServiceOptions struct {
	Publisher ResultPublisher
	Notifier  AttemptNotifier
	// TestMode skips entry-code and enrollment checks.
	TestMode bool
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// AttemptService orchestrates the attempt engine against storage. Every call
// loads the attempt, applies the engine at the current server instant and
// persists only if the call succeeded.
type AttemptService struct {
	attempts AttemptStore
	tests    TestProvider
	codes    EntryCodeChecker
	opts     AttemptServiceOptions
	log      zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(attempts AttemptStore, tests TestProvider, codes EntryCodeChecker, opts AttemptServiceOptions, log zerolog.Logger) *AttemptService {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &AttemptService{
		attempts: attempts,
		tests:    tests,
		codes:    codes,
		opts:     opts,
		log:      log.With().Str("component", "attempt_service").Logger(),
	}
}

// AttemptView is the attempt plus what a client needs to render it.
type AttemptView struct {
	Attempt    *model.Attempt            `json:"attempt"`
	Test       *model.TestPayload        `json:"test,omitempty"`
	Responses  map[string]model.Response `json:"responses"`
	Resumed    bool                      `json:"resumed,omitempty"`
	ServerTime time.Time                 `json:"server_time"`
}

// SaveView is the outcome of a single answer write.
type SaveView struct {
	Response   *model.Response `json:"response,omitempty"`
	Attempt    *model.Attempt  `json:"attempt"`
	ServerTime time.Time       `json:"server_time"`
}

// WriteResult reports one pending response of a sync.
type WriteResult struct {
	QuestionID uuid.UUID `json:"question_id"`
	Accepted   bool      `json:"accepted"`
	Reason     string    `json:"reason,omitempty"`
}

// SyncView is the heartbeat reply: server truth for the client to adopt.
type SyncView struct {
	Attempt    *model.Attempt `json:"attempt"`
	Writes     []WriteResult  `json:"writes"`
	Drift      []engine.Drift `json:"drift,omitempty"`
	Finalized  bool           `json:"finalized"`
	ServerTime time.Time      `json:"server_time"`
}

// SubmitView is the outcome of a submit.
type SubmitView struct {
	Attempt          *model.Attempt `json:"attempt"`
	Result           *model.Result  `json:"result"`
	AlreadySubmitted bool           `json:"already_submitted"`
}

// ReviewItem joins one question with the candidate's answer and the key.
type ReviewItem struct {
	model.QuestionResult
	QuestionType   model.QuestionType `json:"question_type"`
	QuestionText   string             `json:"question_text"`
	Options        json.RawMessage    `json:"options,omitempty"`
	SelectedAnswer model.Answer       `json:"selected_answer"`
	CorrectAnswer  model.AnswerKey    `json:"correct_answer"`
	Explanation    string             `json:"explanation,omitempty"`
	Marks          model.Marks        `json:"marks"`
}

// ReviewView is the post-submission review.
type ReviewView struct {
	Attempt *model.Attempt `json:"attempt"`
	Result  *model.Result  `json:"result"`
	Items   []ReviewItem   `json:"items"`
}

// ─── Operations ──────────────────────────────────────────────────────

// StartAttempt creates the user's attempt on a test or resumes the one they
// already hold.
func (s *AttemptService) StartAttempt(ctx context.Context, userID string, testID uuid.UUID, entryCode string) (*AttemptView, error) {
	test, err := s.tests.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if test.Status != model.TestStatusPublished {
		return nil, ErrTestNotReady
	}
	if err := test.Validate(); err != nil {
		s.log.Error().Err(err).Str("test_id", testID.String()).Msg("Published test fails validation")
		return nil, fmt.Errorf("%w: %w", ErrTestNotReady, err)
	}

	existing, err := s.attempts.FindByUserAndTest(ctx, userID, testID)
	switch {
	case err == nil:
		return s.resume(ctx, userID, existing.ID)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("find attempt: %w", err)
	}

	if err := s.checkAccess(ctx, userID, test, entryCode); err != nil {
		return nil, err
	}

	eng := engine.New(test)
	now := s.opts.Clock()
	a := &model.Attempt{
		ID:       uuid.New(),
		UserID:   userID,
		TestID:   test.ID,
		SeriesID: test.SeriesID,
	}
	eng.Init(a, now)

	if err := s.attempts.Create(ctx, a); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// lost the race against a concurrent start
			existing, ferr := s.attempts.FindByUserAndTest(ctx, userID, testID)
			if ferr != nil {
				return nil, fmt.Errorf("find attempt: %w", ferr)
			}
			return s.resume(ctx, userID, existing.ID)
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	s.log.Info().
		Str("attempt_id", a.ID.String()).
		Str("test_id", testID.String()).
		Str("user_id", userID).
		Msg("Attempt started")

	return s.view(a, test, now), nil
}

func (s *AttemptService) resume(ctx context.Context, userID string, attemptID uuid.UUID) (*AttemptView, error) {
	v, err := s.GetAttempt(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	v.Resumed = true
	return v, nil
}

func (s *AttemptService) checkAccess(ctx context.Context, userID string, test *model.TestPaper, entryCode string) error {
	if s.opts.TestMode {
		s.log.Warn().Str("test_id", test.ID.String()).Str("user_id", userID).Msg("Test mode: access checks skipped")
		return nil
	}
	if test.EntryCodeHash != "" {
		if entryCode == "" || s.codes == nil {
			return ErrInvalidEntryCode
		}
		if err := s.codes.CheckEntryCode(test.EntryCodeHash, entryCode); err != nil {
			return ErrInvalidEntryCode
		}
	}
	if test.Access == model.AccessEnrolled {
		ok, err := s.tests.HasEnrollment(ctx, userID, test.ID)
		if err != nil {
			return fmt.Errorf("check enrollment: %w", err)
		}
		if !ok {
			return ErrNotEnrolled
		}
	}
	return nil
}

// GetAttempt is the resume/reload path. It applies lazy expiry and persists
// any lock or expiry it discovers.
func (s *AttemptService) GetAttempt(ctx context.Context, userID string, attemptID uuid.UUID) (*AttemptView, error) {
	var eng *engine.Engine
	a, now, err := s.mutate(ctx, userID, attemptID, func(e *engine.Engine, a *model.Attempt, now time.Time) (bool, error) {
		eng = e
		return e.Refresh(a, now), nil
	})
	if err != nil {
		return nil, err
	}
	return s.view(a, eng.Test(), now), nil
}

// SaveResponse writes one answer. On rejection the returned view carries the
// server's current state so the client can resync; nothing is persisted.
func (s *AttemptService) SaveResponse(ctx context.Context, userID string, attemptID uuid.UUID, req model.SaveResponseRequest) (*SaveView, error) {
	qid, err := uuid.Parse(req.QuestionID)
	if err != nil {
		return nil, fmt.Errorf("%w: question_id", ErrValidation)
	}
	w := engine.Write{QuestionID: qid, Answer: req.SelectedAnswer, MarkedForReview: req.MarkedForReview}

	var saved model.Response
	a, now, err := s.mutate(ctx, userID, attemptID, func(e *engine.Engine, a *model.Attempt, now time.Time) (bool, error) {
		if a.Status.IsFinal() {
			return false, ErrInvalidState
		}
		e.Refresh(a, now)
		if a.Status.IsFinal() {
			// the write arrived after the last section expired; keep the expiry
			return true, engine.ErrAttemptFinal
		}
		r, err := e.Apply(a, w, now)
		if err != nil {
			return false, err
		}
		saved = r
		return true, nil
	})
	if a == nil {
		return nil, err
	}
	view := &SaveView{Attempt: a, ServerTime: now}
	if err != nil {
		s.log.Debug().Err(err).Str("attempt_id", attemptID.String()).Str("question_id", qid.String()).Msg("Response rejected")
		return view, err
	}
	view.Response = &saved
	return view, nil
}

// SyncProgress reconciles a heartbeat. Pending responses succeed or fail one
// by one; a rejected position rejects the whole heartbeat.
func (s *AttemptService) SyncProgress(ctx context.Context, userID string, attemptID uuid.UUID, req model.SyncRequest) (*SyncView, error) {
	snap := engine.Snapshot{Position: req.Position, Sections: req.Sections}
	for _, r := range req.Responses {
		qid, err := uuid.Parse(r.QuestionID)
		if err != nil {
			return nil, fmt.Errorf("%w: question_id %q", ErrValidation, r.QuestionID)
		}
		snap.Writes = append(snap.Writes, engine.Write{QuestionID: qid, Answer: r.SelectedAnswer, MarkedForReview: r.MarkedForReview})
	}

	var out engine.SyncOutcome
	a, now, err := s.mutate(ctx, userID, attemptID, func(e *engine.Engine, a *model.Attempt, now time.Time) (bool, error) {
		if a.Status.IsFinal() {
			return false, ErrInvalidState
		}
		o, err := e.Reconcile(a, snap, now)
		if err != nil {
			return false, err
		}
		out = o
		return o.Mutated, nil
	})
	if a == nil {
		return nil, err
	}
	view := &SyncView{Attempt: a, Writes: []WriteResult{}, ServerTime: now}
	if err != nil {
		s.log.Debug().Err(err).Str("attempt_id", attemptID.String()).Msg("Sync rejected")
		return view, err
	}

	for _, d := range out.Drift {
		s.log.Warn().
			Str("attempt_id", attemptID.String()).
			Str("user_id", userID).
			Str("section_key", d.SectionKey).
			Int("client_remaining", d.ClientRemaining).
			Int("server_remaining", d.ServerRemaining).
			Bool("server_locked", d.ServerLocked).
			Msg("Client timer drift")
	}
	for _, w := range out.Writes {
		wr := WriteResult{QuestionID: w.QuestionID, Accepted: w.Accepted}
		if w.Err != nil {
			wr.Reason = ReasonCode(w.Err)
		}
		view.Writes = append(view.Writes, wr)
	}
	view.Drift = out.Drift
	view.Finalized = out.Finalized
	return view, nil
}

// TransitionSection moves to the next section, or finishes the attempt when
// to is nil.
func (s *AttemptService) TransitionSection(ctx context.Context, userID string, attemptID uuid.UUID, from string, to *string) (*AttemptView, error) {
	var eng *engine.Engine
	a, now, err := s.mutate(ctx, userID, attemptID, func(e *engine.Engine, a *model.Attempt, now time.Time) (bool, error) {
		eng = e
		if a.Status.IsFinal() {
			return false, ErrInvalidState
		}
		if err := e.Transition(a, from, to, now); err != nil {
			// an expiry discovered on the way is still worth keeping
			return errors.Is(err, engine.ErrAttemptFinal) && a.Status.IsFinal(), err
		}
		return true, nil
	})
	if a == nil {
		return nil, err
	}
	view := &AttemptView{Attempt: a, Responses: a.ResponsesByQuestion(), ServerTime: now}
	if err != nil {
		s.log.Debug().Err(err).Str("attempt_id", attemptID.String()).Msg("Transition rejected")
		return view, err
	}
	if eng != nil {
		view.Test = eng.Test().Payload()
	}
	return view, nil
}

// SubmitAttempt finalizes and scores the attempt. Submitting again returns
// the stored result without re-scoring.
func (s *AttemptService) SubmitAttempt(ctx context.Context, userID string, attemptID uuid.UUID) (*SubmitView, error) {
	already := false
	a, _, err := s.mutate(ctx, userID, attemptID, func(e *engine.Engine, a *model.Attempt, now time.Time) (bool, error) {
		if !e.Submit(a, now) {
			already = true
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !already {
		s.log.Info().
			Str("attempt_id", a.ID.String()).
			Str("status", string(a.Status)).
			Float64("total_score", a.TotalScore).
			Msg("Attempt submitted")
	}
	return &SubmitView{Attempt: a, Result: a.Result, AlreadySubmitted: already}, nil
}

// GetAttemptReview returns per-question outcomes with the answer key. Only
// available once the attempt is final.
func (s *AttemptService) GetAttemptReview(ctx context.Context, userID string, attemptID uuid.UUID) (*ReviewView, error) {
	var eng *engine.Engine
	a, _, err := s.mutate(ctx, userID, attemptID, func(e *engine.Engine, a *model.Attempt, now time.Time) (bool, error) {
		eng = e
		return e.Refresh(a, now), nil
	})
	if err != nil {
		return nil, err
	}
	if !a.Status.IsFinal() || a.Result == nil {
		return nil, ErrInvalidState
	}

	test := eng.Test()
	responses := a.ResponsesByQuestion()
	items := make([]ReviewItem, 0, len(a.Result.Questions))
	for _, qr := range a.Result.Questions {
		q, ok := test.Question(qr.QuestionID)
		if !ok {
			continue
		}
		items = append(items, ReviewItem{
			QuestionResult: qr,
			QuestionType:   q.QuestionType,
			QuestionText:   q.QuestionText,
			Options:        q.Options,
			SelectedAnswer: responses[qr.QuestionID.String()].SelectedAnswer,
			CorrectAnswer:  q.Answer,
			Explanation:    q.Explanation,
			Marks:          q.Marks,
		})
	}
	return &ReviewView{Attempt: a, Result: a.Result, Items: items}, nil
}

// ─── Plumbing ────────────────────────────────────────────────────────

type mutation func(e *engine.Engine, a *model.Attempt, now time.Time) (persist bool, err error)

// mutate runs fn against a scratch copy of the stored attempt and saves the
// copy when fn asks for it, retrying on version conflicts. When fn fails
// without asking to persist, the stored attempt is returned refreshed (but
// not saved) alongside the error so callers can hand the client server truth.
// A nil attempt means the attempt could not be loaded at all.
func (s *AttemptService) mutate(ctx context.Context, userID string, attemptID uuid.UUID, fn mutation) (*model.Attempt, time.Time, error) {
	for try := 1; ; try++ {
		stored, err := s.attempts.GetByID(ctx, attemptID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, time.Time{}, ErrNotFound
			}
			return nil, time.Time{}, fmt.Errorf("get attempt: %w", err)
		}
		if stored.UserID != userID {
			return nil, time.Time{}, ErrForbidden
		}

		test, err := s.tests.GetTest(ctx, stored.TestID)
		if err != nil {
			return nil, time.Time{}, fmt.Errorf("get test: %w", err)
		}
		eng := engine.New(test)
		if err := eng.Aligned(stored); err != nil {
			s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Attempt does not match its test")
			return nil, time.Time{}, err
		}

		now := s.opts.Clock()
		work := stored.Clone()
		persist, fnErr := fn(eng, work, now)

		if fnErr != nil && !persist {
			view := stored.Clone()
			eng.Refresh(view, now)
			return view, now, fnErr
		}
		if !persist {
			return work, now, nil
		}

		err = s.attempts.Save(ctx, work)
		if errors.Is(err, repository.ErrVersionConflict) {
			if try < maxSaveAttempts {
				s.log.Debug().Str("attempt_id", attemptID.String()).Int("try", try).Msg("Version conflict, retrying")
				continue
			}
			return nil, time.Time{}, ErrBusy
		}
		if err != nil {
			s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to save attempt")
			return nil, time.Time{}, fmt.Errorf("save attempt: %w", err)
		}

		s.afterSave(ctx, stored, work)
		return work, now, fnErr
	}
}

func (s *AttemptService) afterSave(ctx context.Context, before, after *model.Attempt) {
	if s.opts.Notifier != nil {
		s.opts.Notifier.AttemptChanged(ctx, after)
	}
	if before.Status.IsFinal() || !after.Status.IsFinal() {
		return
	}
	if s.opts.Publisher == nil {
		return
	}
	if err := s.opts.Publisher.PublishResult(ctx, after); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", after.ID.String()).Msg("Failed to queue attempt for ranking")
	}
}

func (s *AttemptService) view(a *model.Attempt, test *model.TestPaper, now time.Time) *AttemptView {
	return &AttemptView{
		Attempt:    a,
		Test:       test.Payload(),
		Responses:  a.ResponsesByQuestion(),
		ServerTime: now,
	}
}

// ReasonCode names an engine or service rejection for per-item reporting.
func ReasonCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrSectionLocked):
		return "SECTION_LOCKED"
	case errors.Is(err, engine.ErrSectionUnresolvable):
		return "SECTION_UNRESOLVABLE"
	case errors.Is(err, engine.ErrUnknownQuestion):
		return "NOT_FOUND"
	case errors.Is(err, engine.ErrInvalidAnswer):
		return "VALIDATION_ERROR"
	case errors.Is(err, engine.ErrAttemptFinal), errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, engine.ErrInvalidNavigation):
		return "INVALID_NAVIGATION"
	}
	return "INTERNAL_ERROR"
}
