package attempt

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/lingua-attempt/internal/clock"
	"github.com/stemsi/lingua-attempt/internal/draft"
	"github.com/stemsi/lingua-attempt/internal/model"
)

// ─── Fakes ────────────────────────────────────────────────────────────

type fakeTime struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type fakeTicker struct{ ch chan time.Time }

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               {}

type fakeService struct {
	mu sync.Mutex

	now      func() time.Time
	exam     *model.Exam
	attempts map[uuid.UUID]*model.Attempt

	eligibility *model.Eligibility
	eligErr     error
	createErr   error
	answerErr   error
	submitErr   error
	// lostResponse records the submission but reports it as a conflict.
	lostResponse bool

	// submitEntered receives once per SubmitAttempt call; submitGate, when
	// set, holds the call until closed.
	submitEntered chan struct{}
	submitGate    chan struct{}

	createCalls int
	answerCalls []model.SubmitAnswerRequest
	submitCalls [][]string
}

func newFakeService(exam *model.Exam, now func() time.Time) *fakeService {
	return &fakeService{
		now:         now,
		exam:        exam,
		attempts:    make(map[uuid.UUID]*model.Attempt),
		eligibility: &model.Eligibility{CanCreate: true},
	}
}

func (f *fakeService) CanCreateAttempt(_ context.Context, _ int, _ uuid.UUID) (*model.Eligibility, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.eligErr != nil {
		return nil, f.eligErr
	}
	el := *f.eligibility
	return &el, nil
}

func (f *fakeService) CreateAttempt(_ context.Context, req model.CreateAttemptRequest) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	a := &model.Attempt{
		ID:            uuid.New(),
		ExamID:        req.ExamID,
		UserID:        req.UserID,
		AttemptNumber: f.createCalls,
		StartedAt:     f.now(),
		Status:        model.AttemptStatusInProgress,
	}
	f.attempts[a.ID] = a
	cp := *a
	return &cp, nil
}

func (f *fakeService) addAttempt(a *model.Attempt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[a.ID] = a
}

func (f *fakeService) GetAttempt(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.attempts[id]
	if !ok {
		return nil, errors.New("attempt not found")
	}
	cp := *a
	return &cp, nil
}

func (f *fakeService) GetExam(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	if f.exam == nil || f.exam.ID != id {
		return nil, errors.New("exam not found")
	}
	return f.exam, nil
}

func (f *fakeService) SubmitAnswer(_ context.Context, _ uuid.UUID, req model.SubmitAnswerRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answerCalls = append(f.answerCalls, req)
	return f.answerErr
}

func (f *fakeService) SubmitAttempt(_ context.Context, id uuid.UUID, answers []string) (*model.Attempt, error) {
	f.mu.Lock()
	f.submitCalls = append(f.submitCalls, answers)
	entered, gate := f.submitEntered, f.submitGate
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	a, ok := f.attempts[id]
	if !ok {
		return nil, errors.New("attempt not found")
	}
	now := f.now()
	a.SubmittedAt = &now
	a.Status = model.AttemptStatusSubmitted
	if f.lostResponse {
		return nil, fmt.Errorf("conflict: %w", ErrAlreadySubmitted)
	}
	cp := *a
	return &cp, nil
}

func (f *fakeService) GetAttemptsByUserAndExam(_ context.Context, userID int, examID uuid.UUID) ([]model.Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Attempt
	for _, a := range f.attempts {
		if a.UserID == userID && a.ExamID == examID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeService) GetUserStats(_ context.Context, userID int) (*model.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &model.Stats{UserID: userID, TotalAttempts: len(f.attempts)}, nil
}

func (f *fakeService) submits() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.submitCalls...)
}

// ─── Helpers ──────────────────────────────────────────────────────────

func newExam(n, limitMinutes int, shuffle bool) *model.Exam {
	e := &model.Exam{
		ID:               uuid.New(),
		Title:            "Placement test",
		TimeLimitMinutes: limitMinutes,
		ShuffleQuestions: shuffle,
		Status:           model.ExamStatusPublished,
	}
	for i := 0; i < n; i++ {
		e.Questions = append(e.Questions, model.Question{
			ID:           uuid.New(),
			ExamID:       e.ID,
			Prompt:       fmt.Sprintf("Question %d", i+1),
			QuestionType: model.QuestionTypeFreeText,
			OrderNum:     i + 1,
		})
	}
	return e
}

type harness struct {
	ft     *fakeTime
	ticker *fakeTicker
	svc    *fakeService
	drafts *draft.Store
	events chan Event
	sess   *Session
}

func newHarness(t *testing.T, exam *model.Exam) *harness {
	t.Helper()
	h := &harness{
		ft:     &fakeTime{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		ticker: &fakeTicker{ch: make(chan time.Time)},
		drafts: draft.NewMemoryStore(),
		events: make(chan Event, 256),
	}
	h.svc = newFakeService(exam, h.ft.Now)
	h.sess = New(h.svc, h.drafts, Options{
		UserID:    7,
		Now:       h.ft.Now,
		NewTicker: func(time.Duration) clock.Ticker { return h.ticker },
		OnEvent: func(e Event) {
			if e.Type == EventTick {
				return
			}
			select {
			case h.events <- e:
			default:
			}
		},
	})
	t.Cleanup(func() {
		h.sess.Close()
		h.sess.Wait()
	})
	return h
}

func (h *harness) waitEvent(t *testing.T, typ EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-h.events:
			if e.Type == typ {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func (h *harness) loadDraft(t *testing.T, exam *model.Exam) *model.Draft {
	t.Helper()
	att := h.sess.Attempt()
	d, err := h.drafts.Load(context.Background(), exam.ID, att.ID, exam.QuestionCount())
	if err != nil {
		t.Fatalf("load draft: %v", err)
	}
	return d
}

// ─── Tests ────────────────────────────────────────────────────────────

func TestCheckCanStartExamFailsClosed(t *testing.T) {
	exam := newExam(2, 0, false)
	h := newHarness(t, exam)
	h.svc.eligErr = errors.New("connection refused")

	el := h.sess.CheckCanStartExam(context.Background(), exam.ID)
	if el.CanCreate {
		t.Fatal("eligibility error must not allow starting")
	}
	if el.Message == "" {
		t.Fatal("expected a user-visible message")
	}

	signedOut := New(h.svc, h.drafts, Options{})
	if el := signedOut.CheckCanStartExam(context.Background(), exam.ID); el.CanCreate {
		t.Fatal("signed-out learner allowed to start")
	}
}

func TestStartExamRequiresAuthentication(t *testing.T) {
	exam := newExam(2, 0, false)
	svc := newFakeService(exam, time.Now)
	s := New(svc, draft.NewMemoryStore(), Options{})

	if err := s.StartExam(context.Background(), exam, StartOptions{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("err = %v, want ErrNotAuthenticated", err)
	}
	if svc.createCalls != 0 {
		t.Fatal("attempt created without a user")
	}
}

func TestStartExamNotEligible(t *testing.T) {
	exam := newExam(2, 5, false)
	h := newHarness(t, exam)
	h.svc.eligibility = &model.Eligibility{CanCreate: false, Message: "3 of 3 attempts used"}

	err := h.sess.StartExam(context.Background(), exam, StartOptions{TimeLimitMinutes: 5})
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("err = %v, want ErrNotEligible", err)
	}
	var ee *EligibilityError
	if !errors.As(err, &ee) || ee.Message != "3 of 3 attempts used" {
		t.Fatalf("eligibility message lost: %v", err)
	}
	if h.svc.createCalls != 0 {
		t.Fatal("attempt created despite refusal")
	}
	if h.sess.State() != StateLoading {
		t.Fatalf("state = %s, want loading", h.sess.State())
	}
	if h.sess.Snapshot() != (clock.Snapshot{}) {
		t.Fatal("clock running after refused start")
	}
}

func TestStartExamCreateFailureCanBeRetried(t *testing.T) {
	exam := newExam(2, 0, false)
	h := newHarness(t, exam)
	h.svc.createErr = errors.New("503")

	if err := h.sess.StartExam(context.Background(), exam, StartOptions{}); err == nil {
		t.Fatal("expected create failure")
	}
	if h.sess.State() != StateLoading || h.sess.Attempt() != nil {
		t.Fatal("failed start left state behind")
	}

	h.svc.createErr = nil
	if err := h.sess.StartExam(context.Background(), exam, StartOptions{}); err != nil {
		t.Fatalf("retry StartExam: %v", err)
	}
	if h.sess.State() != StateActive {
		t.Fatalf("state = %s, want active", h.sess.State())
	}
	if err := h.sess.StartExam(context.Background(), exam, StartOptions{}); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start err = %v", err)
	}
}

func TestTwoQuestionSubmitCoercesAnswers(t *testing.T) {
	exam := newExam(2, 0, false)
	exam.Questions[1].QuestionType = model.QuestionTypeMultipleChoice
	exam.Questions[1].Options = []string{"red", "green", "blue"}
	h := newHarness(t, exam)
	ctx := context.Background()

	if err := h.sess.StartExam(ctx, exam, StartOptions{}); err != nil {
		t.Fatalf("StartExam: %v", err)
	}
	if err := h.sess.SubmitAnswer(ctx, exam.Questions[0].ID, model.TextAnswer("blue")); err != nil {
		t.Fatalf("SubmitAnswer Q1: %v", err)
	}
	if idx, err := h.sess.Next(ctx); err != nil || idx != 1 {
		t.Fatalf("Next = %d, %v", idx, err)
	}
	if err := h.sess.SubmitAnswer(ctx, exam.Questions[1].ID, model.ChoiceAnswer(2)); err != nil {
		t.Fatalf("SubmitAnswer Q2: %v", err)
	}

	res, err := h.sess.Finish(ctx, TriggerUser)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if res.Status != model.AttemptStatusSubmitted {
		t.Fatalf("result status = %s", res.Status)
	}

	calls := h.svc.submits()
	if len(calls) != 1 || !reflect.DeepEqual(calls[0], []string{"blue", "2"}) {
		t.Fatalf("SubmitAttempt calls = %v, want [[blue 2]]", calls)
	}
	if d := h.loadDraft(t, exam); d != nil {
		t.Fatalf("draft survived submission: %+v", d)
	}
	if h.sess.State() != StateSubmitted {
		t.Fatalf("state = %s", h.sess.State())
	}

	h.sess.Wait()
	if len(h.svc.answerCalls) != 2 {
		t.Fatalf("answer syncs = %d, want 2", len(h.svc.answerCalls))
	}
}

func TestTimedShuffledExamAutoSubmitsOnce(t *testing.T) {
	exam := newExam(5, 1, true)
	h := newHarness(t, exam)
	ctx := context.Background()

	if err := h.sess.StartExam(ctx, exam, OptionsFromExam(exam)); err != nil {
		t.Fatalf("StartExam: %v", err)
	}

	order := h.sess.DisplayOrder()
	seen := make(map[int]bool)
	for _, o := range order {
		seen[o] = true
	}
	if len(order) != 5 || len(seen) != 5 {
		t.Fatalf("display order %v is not a permutation of 5", order)
	}

	// Once expired the clock stops reading ticks, so each send also listens
	// for session events.
	submitted := false
	for i := 0; i < 61 && !submitted; i++ {
		h.ft.Advance(time.Second)
		select {
		case h.ticker.ch <- h.ft.Now():
		case e := <-h.events:
			submitted = e.Type == EventSubmitted
		}
	}
	if !submitted {
		h.waitEvent(t, EventSubmitted)
	}

	calls := h.svc.submits()
	if len(calls) != 1 {
		t.Fatalf("SubmitAttempt called %d times, want 1", len(calls))
	}
	if !reflect.DeepEqual(calls[0], []string{"", "", "", "", ""}) {
		t.Fatalf("submitted %q, want five empty strings", calls[0])
	}
	if d := h.loadDraft(t, exam); d != nil {
		t.Fatal("draft survived auto-submission")
	}

	snap := h.sess.Snapshot()
	if snap.Remaining != 0 || snap.Elapsed != time.Minute {
		t.Fatalf("final snapshot = %+v", snap)
	}

	if _, err := h.sess.Finish(ctx, TriggerUser); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("late Finish err = %v", err)
	}
	if n := len(h.svc.submits()); n != 1 {
		t.Fatalf("SubmitAttempt called %d times after late click", n)
	}
}

func TestResumeRestoresShuffledPosition(t *testing.T) {
	exam := newExam(5, 0, true)
	h := newHarness(t, exam)
	ctx := context.Background()

	att := &model.Attempt{
		ID:        uuid.New(),
		ExamID:    exam.ID,
		UserID:    7,
		StartedAt: h.ft.Now().Add(-3 * time.Minute),
		Status:    model.AttemptStatusInProgress,
	}
	h.svc.addAttempt(att)

	answers := model.NewAnswers(5)
	answers[3] = model.TextAnswer("first shown")
	index := 2
	on := true
	err := h.drafts.Save(ctx, exam.ID, att.ID, draft.Patch{
		StartedAt:            &att.StartedAt,
		Answers:              answers,
		ShuffleQuestions:     &on,
		ShuffledOrder:        []int{3, 0, 4, 1, 2},
		CurrentQuestionIndex: &index,
	})
	if err != nil {
		t.Fatalf("seed draft: %v", err)
	}

	if err := h.sess.Resume(ctx, exam.ID, att.ID, StartOptions{Shuffle: true}); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	q, ok := h.sess.CurrentQuestion()
	if !ok {
		t.Fatal("no current question")
	}
	if q.Original != 4 || q.Question.ID != exam.Questions[4].ID || q.Position != 2 {
		t.Fatalf("current question = %+v, want original 4 at position 2", q)
	}
	if !reflect.DeepEqual(h.sess.DisplayOrder(), []int{3, 0, 4, 1, 2}) {
		t.Fatalf("display order = %v", h.sess.DisplayOrder())
	}
	if !h.sess.IsQuestionAnswered(3) || h.sess.AnsweredCount() != 1 {
		t.Fatal("restored answers lost")
	}
}

func TestResumeWithoutDraftSeedsFromRemoteStart(t *testing.T) {
	exam := newExam(3, 10, false)
	h := newHarness(t, exam)
	ctx := context.Background()

	started := h.ft.Now().Add(-4 * time.Minute)
	att := &model.Attempt{ID: uuid.New(), ExamID: exam.ID, UserID: 7, StartedAt: started, Status: model.AttemptStatusInProgress}
	h.svc.addAttempt(att)

	if err := h.sess.Resume(ctx, exam.ID, att.ID, StartOptions{TimeLimitMinutes: 10}); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	d := h.loadDraft(t, exam)
	if d == nil || !d.StartedAt.Equal(started) {
		t.Fatalf("draft = %+v, want startedAt %v", d, started)
	}
	if snap := h.sess.Snapshot(); snap.Remaining != 6*time.Minute {
		t.Fatalf("remaining = %v, want 6m", snap.Remaining)
	}
}

func TestResumeTerminalAttemptIsReadOnly(t *testing.T) {
	exam := newExam(2, 0, false)
	h := newHarness(t, exam)
	ctx := context.Background()

	done := h.ft.Now()
	score := 80.0
	att := &model.Attempt{
		ID: uuid.New(), ExamID: exam.ID, UserID: 7, StartedAt: done.Add(-time.Hour),
		SubmittedAt: &done, Status: model.AttemptStatusGraded, Score: &score,
		Answers: []model.AttemptAnswer{
			{QuestionID: exam.Questions[1].ID, Answer: "went"},
			{QuestionID: exam.Questions[0].ID, Answer: ""},
		},
	}
	h.svc.addAttempt(att)

	if err := h.sess.Resume(ctx, exam.ID, att.ID, StartOptions{}); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if h.sess.State() != StateSubmitted {
		t.Fatalf("state = %s", h.sess.State())
	}
	if res, ok := h.sess.Result(); !ok || res.Score == nil || *res.Score != 80 {
		t.Fatalf("Result = %+v, %v", res, ok)
	}
	if h.sess.AnsweredCount() != 1 || !h.sess.IsQuestionAnswered(1) || h.sess.IsQuestionAnswered(0) {
		t.Fatalf("recorded answers not shown: %v", h.sess.Answers())
	}
	if q, ok := h.sess.QuestionAt(1); !ok || q.Answer != model.TextAnswer("went") {
		t.Fatalf("QuestionAt(1) = %+v, %v", q, ok)
	}
	if got := h.sess.ProgressPercentage(); got != 50 {
		t.Fatalf("ProgressPercentage = %v, want 50", got)
	}
	if err := h.sess.SubmitAnswer(ctx, exam.Questions[0].ID, model.TextAnswer("x")); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("SubmitAnswer err = %v", err)
	}
	if _, err := h.sess.Finish(ctx, TriggerUser); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("Finish err = %v", err)
	}
	if len(h.svc.submits()) != 0 {
		t.Fatal("read-only attempt was submitted")
	}
}

func TestConcurrentFinishSubmitsOnce(t *testing.T) {
	exam := newExam(3, 0, false)
	h := newHarness(t, exam)
	ctx := context.Background()

	if err := h.sess.StartExam(ctx, exam, StartOptions{}); err != nil {
		t.Fatalf("StartExam: %v", err)
	}

	h.svc.submitEntered = make(chan struct{}, 1)
	h.svc.submitGate = make(chan struct{})

	first := make(chan error, 1)
	go func() {
		_, err := h.sess.Finish(ctx, TriggerUser)
		first <- err
	}()
	<-h.svc.submitEntered

	if _, err := h.sess.Finish(ctx, TriggerExpired); !errors.Is(err, ErrSubmissionInProgress) {
		t.Fatalf("second Finish err = %v, want ErrSubmissionInProgress", err)
	}
	if st := h.sess.State(); st != StateUserSubmitting {
		t.Fatalf("state during submit = %s", st)
	}
	if err := h.sess.SubmitAnswer(ctx, exam.Questions[0].ID, model.TextAnswer("late")); !errors.Is(err, ErrSubmissionInProgress) {
		t.Fatalf("answer during submit err = %v", err)
	}

	close(h.svc.submitGate)
	if err := <-first; err != nil {
		t.Fatalf("first Finish: %v", err)
	}
	if _, err := h.sess.Finish(ctx, TriggerUser); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("third Finish err = %v", err)
	}
	if n := len(h.svc.submits()); n != 1 {
		t.Fatalf("SubmitAttempt called %d times, want 1", n)
	}
}

func TestFailedSubmitKeepsDraftAndAllowsRetry(t *testing.T) {
	exam := newExam(2, 0, false)
	h := newHarness(t, exam)
	ctx := context.Background()

	if err := h.sess.StartExam(ctx, exam, StartOptions{}); err != nil {
		t.Fatalf("StartExam: %v", err)
	}
	_ = h.sess.SubmitAnswer(ctx, exam.Questions[0].ID, model.TextAnswer("kept"))

	h.svc.submitErr = errors.New("gateway timeout")
	if _, err := h.sess.Finish(ctx, TriggerUser); err == nil {
		t.Fatal("expected submit failure")
	}
	h.waitEvent(t, EventSubmitFailed)

	if h.sess.State() != StateActive {
		t.Fatalf("state after failure = %s, want active", h.sess.State())
	}
	d := h.loadDraft(t, exam)
	if d == nil {
		t.Fatal("draft cleared after failed submission")
	}
	if got, _ := d.Answers[0].Text(); got != "kept" {
		t.Fatalf("draft answer = %q", got)
	}

	h.svc.submitErr = nil
	if _, err := h.sess.Finish(ctx, TriggerUser); err != nil {
		t.Fatalf("retry Finish: %v", err)
	}
	if calls := h.svc.submits(); len(calls) != 2 || !reflect.DeepEqual(calls[1], []string{"kept", ""}) {
		t.Fatalf("SubmitAttempt calls = %v", calls)
	}
	if h.loadDraft(t, exam) != nil {
		t.Fatal("draft survived successful retry")
	}
}

func TestFailedAutoSubmitFreezesAnswersAtExpiry(t *testing.T) {
	exam := newExam(2, 1, false)
	h := newHarness(t, exam)
	ctx := context.Background()

	if err := h.sess.StartExam(ctx, exam, OptionsFromExam(exam)); err != nil {
		t.Fatalf("StartExam: %v", err)
	}
	if err := h.sess.SubmitAnswer(ctx, exam.Questions[0].ID, model.TextAnswer("in time")); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}

	h.svc.mu.Lock()
	h.svc.submitErr = errors.New("offline")
	h.svc.mu.Unlock()

	failed := false
	for i := 0; i < 61 && !failed; i++ {
		h.ft.Advance(time.Second)
		select {
		case h.ticker.ch <- h.ft.Now():
		case e := <-h.events:
			if e.Type == EventSubmitFailed {
				if e.Trigger != TriggerExpired {
					t.Fatalf("submit_failed trigger = %s", e.Trigger)
				}
				failed = true
			}
		}
	}
	if !failed {
		if e := h.waitEvent(t, EventSubmitFailed); e.Trigger != TriggerExpired {
			t.Fatalf("submit_failed trigger = %s", e.Trigger)
		}
	}

	if st := h.sess.State(); st != StateActive {
		t.Fatalf("state after failed auto-submit = %s, want active", st)
	}
	if snap := h.sess.Snapshot(); !snap.Expired || snap.Remaining != 0 {
		t.Fatalf("snapshot = %+v, want expired", snap)
	}
	if d := h.loadDraft(t, exam); d == nil {
		t.Fatal("draft cleared after failed auto-submit")
	} else if got, _ := d.Answers[0].Text(); got != "in time" {
		t.Fatalf("draft answer = %q", got)
	}

	if err := h.sess.SubmitAnswer(ctx, exam.Questions[1].ID, model.TextAnswer("too late")); !errors.Is(err, ErrTimeUp) {
		t.Fatalf("SubmitAnswer after expiry err = %v, want ErrTimeUp", err)
	}
	if _, err := h.sess.Next(ctx); !errors.Is(err, ErrTimeUp) {
		t.Fatalf("Next after expiry err = %v, want ErrTimeUp", err)
	}
	if h.sess.IsQuestionAnswered(1) {
		t.Fatal("late answer was recorded")
	}

	h.svc.mu.Lock()
	h.svc.submitErr = nil
	h.svc.mu.Unlock()

	if _, err := h.sess.Finish(ctx, TriggerUser); err != nil {
		t.Fatalf("retry Finish: %v", err)
	}
	calls := h.svc.submits()
	if len(calls) != 2 {
		t.Fatalf("SubmitAttempt called %d times, want 2", len(calls))
	}
	if !reflect.DeepEqual(calls[1], []string{"in time", ""}) {
		t.Fatalf("retry submitted %q, want answers as of expiry", calls[1])
	}
	if h.sess.State() != StateSubmitted {
		t.Fatalf("state = %s", h.sess.State())
	}
}

func TestFinishAdoptsSubmissionWhoseResponseWasLost(t *testing.T) {
	exam := newExam(1, 0, false)
	h := newHarness(t, exam)
	ctx := context.Background()

	if err := h.sess.StartExam(ctx, exam, StartOptions{}); err != nil {
		t.Fatalf("StartExam: %v", err)
	}
	h.svc.lostResponse = true

	res, err := h.sess.Finish(ctx, TriggerUser)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if res.Status != model.AttemptStatusSubmitted || res.SubmittedAt == nil {
		t.Fatalf("result = %+v", res)
	}
	if h.sess.State() != StateSubmitted {
		t.Fatalf("state = %s", h.sess.State())
	}
}

func TestAnswerSyncFailureIsNonFatal(t *testing.T) {
	exam := newExam(2, 0, false)
	h := newHarness(t, exam)
	ctx := context.Background()

	if err := h.sess.StartExam(ctx, exam, StartOptions{}); err != nil {
		t.Fatalf("StartExam: %v", err)
	}
	h.svc.mu.Lock()
	h.svc.answerErr = errors.New("offline")
	h.svc.mu.Unlock()

	if err := h.sess.SubmitAnswer(ctx, exam.Questions[1].ID, model.TextAnswer("still here")); err != nil {
		t.Fatalf("SubmitAnswer surfaced sync error: %v", err)
	}
	e := h.waitEvent(t, EventAnswerSyncFailed)
	if e.QuestionID != exam.Questions[1].ID {
		t.Fatalf("event question = %s", e.QuestionID)
	}

	if !h.sess.IsQuestionAnswered(1) {
		t.Fatal("local answer rolled back")
	}
	if d := h.loadDraft(t, exam); d == nil || !d.Answers[1].IsAnswered() {
		t.Fatal("draft lost the answer")
	}
}

func TestSubmitAnswerRejectsUnknownQuestion(t *testing.T) {
	exam := newExam(2, 0, false)
	h := newHarness(t, exam)
	ctx := context.Background()
	_ = h.sess.StartExam(ctx, exam, StartOptions{})

	if err := h.sess.SubmitAnswer(ctx, uuid.New(), model.TextAnswer("x")); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("err = %v", err)
	}
}

func TestNavigationClampsAndPersists(t *testing.T) {
	exam := newExam(4, 0, false)
	h := newHarness(t, exam)
	ctx := context.Background()

	if _, err := h.sess.Next(ctx); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Next before start err = %v", err)
	}
	_ = h.sess.StartExam(ctx, exam, StartOptions{})

	steps := []struct {
		name string
		do   func() (int, error)
		want int
	}{
		{"previous at start", func() (int, error) { return h.sess.Previous(ctx) }, 0},
		{"next", func() (int, error) { return h.sess.Next(ctx) }, 1},
		{"goto past end", func() (int, error) { return h.sess.GoTo(ctx, 10) }, 3},
		{"next at end", func() (int, error) { return h.sess.Next(ctx) }, 3},
		{"goto negative", func() (int, error) { return h.sess.GoTo(ctx, -2) }, 0},
		{"goto middle", func() (int, error) { return h.sess.GoTo(ctx, 2) }, 2},
	}
	for _, st := range steps {
		got, err := st.do()
		if err != nil || got != st.want {
			t.Fatalf("%s = %d, %v; want %d", st.name, got, err, st.want)
		}
	}

	if d := h.loadDraft(t, exam); d == nil || d.CurrentQuestionIndex != 2 {
		t.Fatalf("persisted index = %+v, want 2", d)
	}
}

func TestProgressViews(t *testing.T) {
	exam := newExam(4, 0, false)
	h := newHarness(t, exam)
	ctx := context.Background()
	_ = h.sess.StartExam(ctx, exam, StartOptions{})

	_ = h.sess.SubmitAnswer(ctx, exam.Questions[0].ID, model.TextAnswer("  "))
	_ = h.sess.SubmitAnswer(ctx, exam.Questions[1].ID, model.ChoiceAnswer(0))
	_ = h.sess.SubmitAnswer(ctx, exam.Questions[2].ID, model.TextAnswer("hola"))

	if got := h.sess.AnsweredCount(); got != 2 {
		t.Fatalf("AnsweredCount = %d, want 2", got)
	}
	if h.sess.IsQuestionAnswered(0) {
		t.Fatal("whitespace answer counted as answered")
	}
	if !h.sess.IsQuestionAnswered(1) {
		t.Fatal("choice 0 not counted as answered")
	}
	if h.sess.IsQuestionAnswered(9) {
		t.Fatal("out-of-range question answered")
	}
	if got := h.sess.ProgressPercentage(); got != 50 {
		t.Fatalf("ProgressPercentage = %v, want 50", got)
	}
}

func TestHistoryAndStats(t *testing.T) {
	exam := newExam(1, 0, false)
	h := newHarness(t, exam)
	ctx := context.Background()

	if _, err := h.sess.History(ctx); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("History before start err = %v", err)
	}
	_ = h.sess.StartExam(ctx, exam, StartOptions{})

	hist, err := h.sess.History(ctx)
	if err != nil || len(hist) != 1 {
		t.Fatalf("History = %v, %v", hist, err)
	}
	stats, err := h.sess.Stats(ctx)
	if err != nil || stats.UserID != 7 || stats.TotalAttempts != 1 {
		t.Fatalf("Stats = %+v, %v", stats, err)
	}
}

func TestCloseStopsClock(t *testing.T) {
	exam := newExam(2, 1, false)
	h := newHarness(t, exam)
	ctx := context.Background()
	_ = h.sess.StartExam(ctx, exam, StartOptions{TimeLimitMinutes: 1})

	h.sess.Close()
	h.sess.Wait()

	// No tick is consumed once closed.
	select {
	case h.ticker.ch <- h.ft.Now():
		t.Fatal("clock still receiving ticks after Close")
	case <-time.After(50 * time.Millisecond):
	}
	if len(h.svc.submits()) != 0 {
		t.Fatal("closed session submitted")
	}
}
