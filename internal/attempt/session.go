package attempt

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/lingua-attempt/internal/clock"
	"github.com/stemsi/lingua-attempt/internal/draft"
	"github.com/stemsi/lingua-attempt/internal/metrics"
	"github.com/stemsi/lingua-attempt/internal/model"
	"github.com/stemsi/lingua-attempt/internal/response"
	"github.com/stemsi/lingua-attempt/internal/shuffle"
)

// StartOptions are the per-attempt settings requested when a fresh draft is
// created. A stored draft keeps the options it was created with.
type StartOptions struct {
	TimeLimitMinutes int
	Shuffle          bool
}

// OptionsFromExam returns the exam's own time limit and shuffle setting.
func OptionsFromExam(e *model.Exam) StartOptions {
	return StartOptions{TimeLimitMinutes: e.TimeLimitMinutes, Shuffle: e.ShuffleQuestions}
}

// Options configures a Session.
type Options struct {
	// UserID is the authenticated learner. Zero means signed out.
	UserID int
	Logger zerolog.Logger

	Now          func() time.Time
	TickInterval time.Duration
	NewTicker    clock.TickerFunc

	OnEvent func(Event)
}

// QuestionView is one question as presented in display order.
type QuestionView struct {
	Question model.Question
	Position int // display position
	Original int // index into the exam's question list and the answers
	Total    int
	Answer   model.Answer
}

// Session owns the lifecycle of a single attempt. It is created per mounted
// attempt and torn down with Close.
type Session struct {
	svc    Service
	drafts DraftStore
	opts   Options
	log    zerolog.Logger

	started    atomic.Bool
	submitting atomic.Bool

	mu      sync.Mutex
	state   State
	closed  bool
	baseCtx context.Context
	exam    *model.Exam
	attempt *model.Attempt
	answers []model.Answer
	order   []int
	index   int
	clk     *clock.Clock
	final   *clock.Snapshot
	result  *model.Attempt

	syncs sync.WaitGroup
}

// New creates a Session in the loading state.
func New(svc Service, drafts DraftStore, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{
		svc:     svc,
		drafts:  drafts,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "attempt_session").Int("user_id", opts.UserID).Logger(),
		state:   StateLoading,
		baseCtx: context.Background(),
	}
}

// CheckCanStartExam asks the service whether a new attempt may be created.
// Any failure to get an answer is reported as "cannot start".
func (s *Session) CheckCanStartExam(ctx context.Context, examID uuid.UUID) model.Eligibility {
	if s.opts.UserID == 0 {
		return model.Eligibility{Message: response.GetMessage(response.ErrNotAuthenticated)}
	}

	el, err := s.svc.CanCreateAttempt(ctx, s.opts.UserID, examID)
	if err != nil || el == nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Eligibility check failed")
		return model.Eligibility{Message: response.GetMessage(response.ErrEligibilityUnavailable)}
	}
	if !el.CanCreate && el.Message == "" {
		el.Message = response.GetMessage(response.ErrAttemptLimitReached)
	}
	return *el
}

// StartExam checks eligibility, creates a remote attempt and initializes
// local state. On error nothing is persisted and no clock runs.
func (s *Session) StartExam(ctx context.Context, exam *model.Exam, opts StartOptions) error {
	if s.opts.UserID == 0 {
		return ErrNotAuthenticated
	}
	if exam == nil || exam.QuestionCount() == 0 {
		return ErrNoQuestions
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	committed := false
	defer func() {
		if !committed {
			s.started.Store(false)
		}
	}()

	el := s.CheckCanStartExam(ctx, exam.ID)
	if !el.CanCreate {
		return &EligibilityError{Message: el.Message}
	}

	att, err := s.svc.CreateAttempt(ctx, model.CreateAttemptRequest{UserID: s.opts.UserID, ExamID: exam.ID})
	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}

	d := freshDraft(att.StartedAt, exam.QuestionCount(), opts)
	s.mu.Lock()
	s.saveDraftLocked(ctx, exam.ID, att.ID, draft.Full(d))
	s.mu.Unlock()

	s.activate(ctx, exam, att, d)
	committed = true

	s.log.Info().
		Str("exam_id", exam.ID.String()).
		Str("attempt_id", att.ID.String()).
		Int("attempt_number", att.AttemptNumber).
		Int("time_limit_minutes", d.TimeLimitMinutes).
		Bool("shuffle", d.ShuffleQuestions).
		Msg("Attempt started")
	return nil
}

// Resume mounts an existing attempt. A stored draft is authoritative for
// local progress; without one a fresh draft is seeded from the remote start
// time and opts. A terminal attempt is loaded read-only.
func (s *Session) Resume(ctx context.Context, examID, attemptID uuid.UUID, opts StartOptions) error {
	if s.opts.UserID == 0 {
		return ErrNotAuthenticated
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	committed := false
	defer func() {
		if !committed {
			s.started.Store(false)
		}
	}()

	exam, err := s.svc.GetExam(ctx, examID)
	if err != nil {
		return fmt.Errorf("get exam: %w", err)
	}
	att, err := s.svc.GetAttempt(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("get attempt: %w", err)
	}
	if att.ExamID != exam.ID {
		return ErrExamMismatch
	}

	n := exam.QuestionCount()
	if att.IsTerminal() {
		s.mu.Lock()
		s.exam, s.attempt, s.result = exam, att, att
		s.answers = model.RecordedAnswers(exam, att.Answers)
		s.order = shuffle.Identity(n)
		s.state = StateSubmitted
		s.mu.Unlock()
		s.submitting.Store(true)
		committed = true

		if err := s.drafts.Clear(ctx, examID, attemptID); err != nil {
			s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to clear draft of finished attempt")
		}
		return nil
	}
	if n == 0 {
		return ErrNoQuestions
	}

	d, err := s.drafts.Load(ctx, examID, attemptID, n)
	if err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Draft unavailable, starting fresh")
		d = nil
	}

	restored := d != nil
	if restored {
		if d.StartedAt.IsZero() {
			d.StartedAt = att.StartedAt
		}
	} else {
		d = freshDraft(att.StartedAt, n, opts)
		s.mu.Lock()
		s.saveDraftLocked(ctx, examID, attemptID, draft.Full(d))
		s.mu.Unlock()
	}

	s.activate(ctx, exam, att, d)
	committed = true

	s.log.Info().
		Str("exam_id", examID.String()).
		Str("attempt_id", attemptID.String()).
		Bool("from_draft", restored).
		Int("current_index", d.CurrentQuestionIndex).
		Msg("Attempt resumed")
	return nil
}

func freshDraft(startedAt time.Time, n int, opts StartOptions) *model.Draft {
	d := &model.Draft{
		StartedAt:        startedAt,
		Answers:          model.NewAnswers(n),
		TimeLimitMinutes: max(opts.TimeLimitMinutes, 0),
		ShuffleQuestions: opts.Shuffle,
	}
	if opts.Shuffle {
		d.ShuffledOrder = shuffle.Order(n)
	}
	return d
}

func (s *Session) activate(ctx context.Context, exam *model.Exam, att *model.Attempt, d *model.Draft) {
	s.mu.Lock()
	s.baseCtx = context.WithoutCancel(ctx)
	s.exam = exam
	s.attempt = att
	s.answers = slices.Clone(d.Answers)
	s.order = slices.Clone(d.DisplayOrder())
	s.index = d.CurrentQuestionIndex
	s.clk = clock.New(d.StartedAt, clock.Limit(d.TimeLimitMinutes), clock.Options{
		Interval:  s.opts.TickInterval,
		Now:       s.opts.Now,
		NewTicker: s.opts.NewTicker,
		OnTick:    s.onTick,
		OnExpire:  s.onExpire,
	})
	s.state = StateActive
	clk := s.clk
	s.mu.Unlock()

	clk.Start()
}

// SubmitAnswer records answer locally and in the draft, then syncs it to
// the service in the background. Sync failures never undo the local answer.
func (s *Session) SubmitAnswer(ctx context.Context, questionID uuid.UUID, answer model.Answer) error {
	s.mu.Lock()
	if s.state != StateActive {
		st := s.state
		s.mu.Unlock()
		return inactiveErr(st)
	}
	if s.timeUpLocked() {
		s.mu.Unlock()
		return ErrTimeUp
	}
	pos, ok := s.exam.QuestionIndex(questionID)
	if !ok {
		s.mu.Unlock()
		return ErrUnknownQuestion
	}
	s.answers[pos] = answer
	attemptID := s.attempt.ID
	s.saveDraftLocked(ctx, s.exam.ID, attemptID, draft.Patch{Answers: s.answers})
	s.mu.Unlock()

	s.syncs.Add(1)
	go s.syncAnswer(context.WithoutCancel(ctx), attemptID, questionID, answer)
	return nil
}

func (s *Session) syncAnswer(ctx context.Context, attemptID, questionID uuid.UUID, answer model.Answer) {
	defer s.syncs.Done()

	err := s.svc.SubmitAnswer(ctx, attemptID, model.SubmitAnswerRequest{QuestionID: questionID, Answer: answer})
	if err == nil {
		return
	}

	metrics.AnswerSyncFailures.Inc()
	s.log.Warn().
		Err(err).
		Str("attempt_id", attemptID.String()).
		Str("question_id", questionID.String()).
		Msg("Answer sync failed")
	s.emit(Event{Type: EventAnswerSyncFailed, QuestionID: questionID, Err: err})
}

// Next moves to the following question in display order.
func (s *Session) Next(ctx context.Context) (int, error) {
	return s.move(ctx, func(i int) int { return i + 1 })
}

// Previous moves to the preceding question in display order.
func (s *Session) Previous(ctx context.Context) (int, error) {
	return s.move(ctx, func(i int) int { return i - 1 })
}

// GoTo jumps to display position i, clamped to the question range.
func (s *Session) GoTo(ctx context.Context, i int) (int, error) {
	return s.move(ctx, func(int) int { return i })
}

func (s *Session) move(ctx context.Context, step func(int) int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return s.index, inactiveErr(s.state)
	}
	if s.timeUpLocked() {
		return s.index, ErrTimeUp
	}
	next := clampIndex(step(s.index), len(s.order))
	if next == s.index {
		return next, nil
	}
	s.index = next
	s.saveDraftLocked(ctx, s.exam.ID, s.attempt.ID, draft.Patch{CurrentQuestionIndex: &next})
	return next, nil
}

// timeUpLocked reports whether the time limit has passed. Once it has, the
// answers are frozen at their state at expiry until Finish succeeds.
func (s *Session) timeUpLocked() bool {
	return s.clk != nil && (s.clk.Expired() || s.clk.Snapshot().Expired)
}

func clampIndex(i, n int) int {
	if n == 0 || i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Finish submits the complete answer set once. Concurrent or repeated calls
// observe the latch and return without contacting the service. On failure
// the session returns to active with its draft intact, so Finish may be
// retried. After the time limit the retry sends the answers as they stood
// at expiry, since edits return ErrTimeUp.
func (s *Session) Finish(ctx context.Context, trigger Trigger) (*model.Attempt, error) {
	if !s.submitting.CompareAndSwap(false, true) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == StateSubmitted {
			return s.result, ErrAlreadySubmitted
		}
		return nil, ErrSubmissionInProgress
	}

	s.mu.Lock()
	if s.state != StateActive {
		st := s.state
		s.mu.Unlock()
		if st != StateSubmitted {
			s.submitting.Store(false)
		}
		return nil, inactiveErr(st)
	}
	s.state = trigger.submittingState()
	clk := s.clk
	exam, att := s.exam, s.attempt
	answers := model.SubmissionStrings(s.answers)
	s.mu.Unlock()

	clk.Stop()

	log := s.log.With().
		Str("attempt_id", att.ID.String()).
		Str("trigger", trigger.String()).
		Logger()

	result, err := s.svc.SubmitAttempt(ctx, att.ID, answers)
	if errors.Is(err, ErrAlreadySubmitted) {
		// An earlier submission landed but its response was lost.
		if remote, gerr := s.svc.GetAttempt(ctx, att.ID); gerr == nil && remote.IsTerminal() {
			log.Info().Msg("Attempt was already submitted, adopting remote state")
			result, err = remote, nil
		}
	}
	if err != nil {
		metrics.SubmitFailures.Inc()
		log.Error().Err(err).Int("answers", len(answers)).Msg("Final submission failed")

		s.mu.Lock()
		s.state = StateActive
		closed := s.closed
		s.mu.Unlock()
		s.submitting.Store(false)

		if !closed {
			clk.Start()
		}
		s.emit(Event{Type: EventSubmitFailed, Trigger: trigger, Clock: clk.Snapshot(), Err: err})
		return nil, fmt.Errorf("submit attempt: %w", err)
	}

	if result == nil {
		submitted := *att
		now := s.opts.Now()
		submitted.SubmittedAt = &now
		submitted.Status = model.AttemptStatusSubmitted
		result = &submitted
	}

	if err := s.drafts.Clear(ctx, exam.ID, att.ID); err != nil {
		log.Warn().Err(err).Msg("Failed to clear draft after submission")
	}

	snap := clk.Snapshot()
	s.mu.Lock()
	s.state = StateSubmitted
	s.result = result
	s.attempt = result
	s.final = &snap
	s.mu.Unlock()

	metrics.AttemptsSubmitted.WithLabelValues(trigger.String()).Inc()
	log.Info().Str("status", string(result.Status)).Msg("Attempt submitted")
	s.emit(Event{Type: EventSubmitted, Trigger: trigger, Clock: snap, Attempt: result})
	return result, nil
}

func (s *Session) onTick(snap clock.Snapshot) {
	s.emit(Event{Type: EventTick, Clock: snap})
}

func (s *Session) onExpire(snap clock.Snapshot) {
	s.mu.Lock()
	closed := s.closed
	ctx := s.baseCtx
	s.mu.Unlock()
	if closed {
		return
	}

	s.log.Info().Dur("elapsed", snap.Elapsed).Msg("Time limit reached, submitting")
	s.emit(Event{Type: EventExpired, Clock: snap, Trigger: TriggerExpired})

	// Errors are logged and reported through EventSubmitFailed.
	_, _ = s.Finish(ctx, TriggerExpired)
}

func inactiveErr(st State) error {
	switch st {
	case StateLoading:
		return ErrNotStarted
	case StateAutoSubmitting, StateUserSubmitting:
		return ErrSubmissionInProgress
	case StateSubmitted:
		return ErrAlreadySubmitted
	default:
		return ErrNotActive
	}
}

// saveDraftLocked writes the patch synchronously. Failures are logged; the
// in-memory state stays authoritative for the running session.
func (s *Session) saveDraftLocked(ctx context.Context, examID, attemptID uuid.UUID, p draft.Patch) {
	if err := s.drafts.Save(ctx, examID, attemptID, p); err != nil {
		s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Failed to save draft")
	}
}

func (s *Session) emit(e Event) {
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(e)
	}
}

// Close stops the clock. A tick already in flight will not auto-submit.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	clk := s.clk
	s.mu.Unlock()

	if clk != nil {
		clk.Stop()
	}
}

// Wait blocks until the clock goroutine and every background answer sync
// have returned.
func (s *Session) Wait() {
	s.mu.Lock()
	clk := s.clk
	s.mu.Unlock()

	if clk != nil {
		clk.Wait()
	}
	s.syncs.Wait()
}

// ─── Read-only views ──────────────────────────────────────────────────

// State returns the lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Exam returns the mounted exam, or nil before start.
func (s *Session) Exam() *model.Exam {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exam
}

// Attempt returns the current attempt record, or nil before start.
func (s *Session) Attempt() *model.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// Answers returns a copy of the answers in original question order.
func (s *Session) Answers() []model.Answer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.answers)
}

// DisplayOrder returns a copy of the original positions in display order.
func (s *Session) DisplayOrder() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order)
}

// CurrentIndex returns the current display position.
func (s *Session) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

// AnsweredCount returns how many questions have a non-blank answer.
func (s *Session) AnsweredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answeredLocked()
}

func (s *Session) answeredLocked() int {
	n := 0
	for _, a := range s.answers {
		if a.IsAnswered() {
			n++
		}
	}
	return n
}

// IsQuestionAnswered reports whether the question at original position i
// has a non-blank answer.
func (s *Session) IsQuestionAnswered(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.answers) {
		return false
	}
	return s.answers[i].IsAnswered()
}

// ProgressPercentage returns answered questions as a percentage of all.
func (s *Session) ProgressPercentage() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.answers) == 0 {
		return 0
	}
	return float64(s.answeredLocked()) * 100 / float64(len(s.answers))
}

// CurrentQuestion returns the question at the current display position.
func (s *Session) CurrentQuestion() (QuestionView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked(s.index)
}

// QuestionAt returns the question at display position pos.
func (s *Session) QuestionAt(pos int) (QuestionView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked(pos)
}

func (s *Session) viewLocked(pos int) (QuestionView, bool) {
	if s.exam == nil || pos < 0 || pos >= len(s.order) {
		return QuestionView{}, false
	}
	orig := s.order[pos]
	if orig >= len(s.exam.Questions) {
		return QuestionView{}, false
	}
	return QuestionView{
		Question: s.exam.Questions[orig],
		Position: pos,
		Original: orig,
		Total:    len(s.order),
		Answer:   s.answers[orig],
	}, true
}

// Snapshot returns the clock view. After submission it is frozen at the
// moment the attempt was submitted.
func (s *Session) Snapshot() clock.Snapshot {
	s.mu.Lock()
	clk, final := s.clk, s.final
	s.mu.Unlock()

	switch {
	case final != nil:
		return *final
	case clk != nil:
		return clk.Snapshot()
	default:
		return clock.Snapshot{}
	}
}

// Result returns the terminal attempt once submitted.
func (s *Session) Result() (*model.Attempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.result != nil
}

// History lists the learner's attempts for the mounted exam.
func (s *Session) History(ctx context.Context) ([]model.Attempt, error) {
	if s.opts.UserID == 0 {
		return nil, ErrNotAuthenticated
	}
	exam := s.Exam()
	if exam == nil {
		return nil, ErrNotStarted
	}
	attempts, err := s.svc.GetAttemptsByUserAndExam(ctx, s.opts.UserID, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("get attempt history: %w", err)
	}
	return attempts, nil
}

// Stats returns the learner's aggregate statistics.
func (s *Session) Stats(ctx context.Context) (*model.Stats, error) {
	if s.opts.UserID == 0 {
		return nil, ErrNotAuthenticated
	}
	stats, err := s.svc.GetUserStats(ctx, s.opts.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user stats: %w", err)
	}
	return stats, nil
}
