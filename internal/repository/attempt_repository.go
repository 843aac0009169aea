package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/lingua-attempt/internal/model"
)

var (
	// ErrAttemptNotInProgress is returned by Submit when the attempt was
	// already submitted (or graded) by an earlier request.
	ErrAttemptNotInProgress = errors.New("attempt is not in progress")
	// ErrAttemptNumberTaken is returned by Create when a concurrent request
	// claimed the same attempt number first.
	ErrAttemptNumberTaken = errors.New("attempt number already taken")
)

// AttemptRepository handles attempt and attempt answer data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

const attemptColumns = `id, exam_id, user_id, attempt_number, status, started_at, submitted_at,
	duration_seconds, score, passed, cefr_estimated, ai_evaluation`

func scanAttempt(row pgx.Row, a *model.Attempt) error {
	return row.Scan(&a.ID, &a.ExamID, &a.UserID, &a.AttemptNumber, &a.Status, &a.StartedAt, &a.SubmittedAt,
		&a.DurationSeconds, &a.Score, &a.Passed, &a.CEFREstimated, &a.AIEvaluation)
}

// CountByUserAndExam returns how many attempts a learner has made on an exam.
func (r *AttemptRepository) CountByUserAndExam(ctx context.Context, userID int, examID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE user_id = $1 AND exam_id = $2`,
		userID, examID,
	).Scan(&n)
	return n, err
}

// Create inserts a new in-progress attempt numbered after the learner's
// previous attempts on the exam. started_at is set by the database.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO attempts (exam_id, user_id, attempt_number, status)
		 SELECT $1::uuid, $2::int, COALESCE(MAX(attempt_number), 0) + 1, $3
		 FROM attempts WHERE exam_id = $1::uuid AND user_id = $2::int
		 RETURNING id, attempt_number, status, started_at`,
		a.ExamID, a.UserID, model.AttemptStatusInProgress,
	).Scan(&a.ID, &a.AttemptNumber, &a.Status, &a.StartedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAttemptNumberTaken
	}
	if err != nil {
		return err
	}
	a.Answers = []model.AttemptAnswer{}
	return nil
}

// GetByID retrieves an attempt together with its recorded answers.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a := &model.Attempt{}
	if err := scanAttempt(r.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = $1`, id), a); err != nil {
		return nil, err
	}

	attempts := []model.Attempt{*a}
	if err := r.attachAnswers(ctx, attempts); err != nil {
		return nil, err
	}
	return &attempts[0], nil
}

// ListByUserAndExam returns a learner's attempts on an exam, newest first.
func (r *AttemptRepository) ListByUserAndExam(ctx context.Context, userID int, examID uuid.UUID) ([]model.Attempt, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+attemptColumns+` FROM attempts
		 WHERE user_id = $1 AND exam_id = $2
		 ORDER BY attempt_number DESC`, userID, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := []model.Attempt{}
	for rows.Next() {
		var a model.Attempt
		if err := scanAttempt(rows, &a); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.attachAnswers(ctx, attempts); err != nil {
		return nil, err
	}
	return attempts, nil
}

// attachAnswers loads the answers of every attempt in one query, ordered by
// the questions' original position.
func (r *AttemptRepository) attachAnswers(ctx context.Context, attempts []model.Attempt) error {
	if len(attempts) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(attempts))
	index := make(map[uuid.UUID]int, len(attempts))
	for i := range attempts {
		ids[i] = attempts[i].ID
		index[attempts[i].ID] = i
		attempts[i].Answers = []model.AttemptAnswer{}
	}

	rows, err := r.pool.Query(ctx,
		`SELECT aa.attempt_id, aa.question_id, aa.answer, aa.is_correct, aa.score
		 FROM attempt_answers aa
		 JOIN questions q ON q.id = aa.question_id
		 WHERE aa.attempt_id = ANY($1::uuid[])
		 ORDER BY q.order_num`, ids,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var attemptID uuid.UUID
		var ans model.AttemptAnswer
		if err := rows.Scan(&attemptID, &ans.QuestionID, &ans.Answer, &ans.IsCorrect, &ans.Score); err != nil {
			return err
		}
		if i, ok := index[attemptID]; ok {
			attempts[i].Answers = append(attempts[i].Answers, ans)
		}
	}
	return rows.Err()
}

// Submit finalizes an in-progress attempt and records its complete answer
// set in one transaction. A second submission gets ErrAttemptNotInProgress.
func (r *AttemptRepository) Submit(ctx context.Context, id uuid.UUID, answers []model.AttemptAnswer) (*model.Attempt, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin submit: %w", err)
	}
	defer tx.Rollback(ctx)

	a := &model.Attempt{}
	err = scanAttempt(tx.QueryRow(ctx,
		`UPDATE attempts
		 SET status = $2,
		     submitted_at = NOW(),
		     duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM (NOW() - started_at)))::int
		 WHERE id = $1 AND status = $3
		 RETURNING `+attemptColumns,
		id, model.AttemptStatusSubmitted, model.AttemptStatusInProgress,
	), a)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAttemptNotInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("mark submitted: %w", err)
	}

	questionIDs := make([]uuid.UUID, len(answers))
	values := make([]string, len(answers))
	for i, ans := range answers {
		questionIDs[i] = ans.QuestionID
		values[i] = ans.Answer
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, answer)
		 SELECT $1, u.question_id, u.answer
		 FROM UNNEST($2::uuid[], $3::text[]) AS u (question_id, answer)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET answer = EXCLUDED.answer, updated_at = NOW()`,
		id, questionIDs, values,
	)
	if err != nil {
		return nil, fmt.Errorf("store answers: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit submit: %w", err)
	}

	a.Answers = answers
	return a, nil
}

// UpsertAnswers writes in-flight answer syncs in bulk. Rows for attempts
// that are no longer in progress are skipped so a late sync can never
// overwrite a submitted answer. Duplicate (attempt, question) pairs must be
// collapsed by the caller.
func (r *AttemptRepository) UpsertAnswers(ctx context.Context, syncs []model.AnswerSync) error {
	if len(syncs) == 0 {
		return nil
	}

	attemptIDs := make([]uuid.UUID, len(syncs))
	questionIDs := make([]uuid.UUID, len(syncs))
	values := make([]string, len(syncs))
	for i, s := range syncs {
		attemptIDs[i] = s.AttemptID
		questionIDs[i] = s.QuestionID
		values[i] = s.Answer
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, answer)
		 SELECT u.attempt_id, u.question_id, u.answer
		 FROM UNNEST($1::uuid[], $2::uuid[], $3::text[]) AS u (attempt_id, question_id, answer), attempts a
		 WHERE a.id = u.attempt_id AND a.status = $4
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET answer = EXCLUDED.answer, updated_at = NOW()`,
		attemptIDs, questionIDs, values, model.AttemptStatusInProgress,
	)
	return err
}

// ApplyGrades moves submitted attempts to graded and records per-answer
// verdicts. It returns the IDs of the attempts that changed; results for
// attempts that are not in the submitted state are ignored.
func (r *AttemptRepository) ApplyGrades(ctx context.Context, results []model.GradeResult) ([]uuid.UUID, error) {
	if len(results) == 0 {
		return nil, nil
	}

	n := len(results)
	attemptIDs := make([]uuid.UUID, 0, n)
	scores := make([]float64, 0, n)
	cefrs := make([]string, 0, n)
	evals := make([]string, 0, n)

	var ansAttempts, ansQuestions []uuid.UUID
	var ansCorrect []bool
	var ansScores []float64

	for _, res := range results {
		attemptIDs = append(attemptIDs, res.AttemptID)
		scores = append(scores, res.Score)
		cefrs = append(cefrs, res.CEFREstimated)

		eval := ""
		if res.AIEvaluation != nil {
			raw, err := json.Marshal(res.AIEvaluation)
			if err != nil {
				return nil, err
			}
			eval = string(raw)
		}
		evals = append(evals, eval)

		for _, g := range res.Answers {
			ansAttempts = append(ansAttempts, res.AttemptID)
			ansQuestions = append(ansQuestions, g.QuestionID)
			ansCorrect = append(ansCorrect, g.IsCorrect)
			ansScores = append(ansScores, g.Score)
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`UPDATE attempts AS a
		 SET status = $5,
		     score = t.score,
		     passed = t.score >= e.passing_score,
		     cefr_estimated = NULLIF(t.cefr, ''),
		     ai_evaluation = NULLIF(t.eval, '')::jsonb,
		     graded_at = NOW()
		 FROM UNNEST($1::uuid[], $2::float8[], $3::text[], $4::text[]) AS t (attempt_id, score, cefr, eval),
		      exams e
		 WHERE a.id = t.attempt_id
		   AND e.id = a.exam_id
		   AND a.status = $6
		 RETURNING a.id`,
		attemptIDs, scores, cefrs, evals, model.AttemptStatusGraded, model.AttemptStatusSubmitted,
	)
	if err != nil {
		return nil, err
	}
	graded, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, err
	}

	if len(ansAttempts) > 0 && len(graded) > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE attempt_answers AS aa
			 SET is_correct = t.is_correct,
			     score = t.score,
			     updated_at = NOW()
			 FROM UNNEST($1::uuid[], $2::uuid[], $3::bool[], $4::float8[]) AS t (attempt_id, question_id, is_correct, score)
			 WHERE aa.attempt_id = t.attempt_id
			   AND aa.question_id = t.question_id
			   AND aa.attempt_id = ANY($5::uuid[])`,
			ansAttempts, ansQuestions, ansCorrect, ansScores, graded,
		)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return graded, nil
}

// Stats aggregates a learner's attempts across all exams.
func (r *AttemptRepository) Stats(ctx context.Context, userID int) (*model.Stats, error) {
	s := &model.Stats{UserID: userID}
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'in-progress'),
		        COUNT(*) FILTER (WHERE status = 'submitted'),
		        COUNT(*) FILTER (WHERE status = 'graded'),
		        COUNT(*) FILTER (WHERE passed),
		        AVG(score) FILTER (WHERE status = 'graded'),
		        MAX(score) FILTER (WHERE status = 'graded'),
		        MAX(started_at)
		 FROM attempts WHERE user_id = $1`, userID,
	).Scan(&s.TotalAttempts, &s.InProgress, &s.Submitted, &s.Graded, &s.Passed,
		&s.AverageScore, &s.BestScore, &s.LastAttemptAt)
	if err != nil {
		return nil, err
	}

	var cefr string
	err = r.pool.QueryRow(ctx,
		`SELECT cefr_estimated FROM attempts
		 WHERE user_id = $1 AND status = 'graded' AND cefr_estimated IS NOT NULL
		 ORDER BY graded_at DESC
		 LIMIT 1`, userID,
	).Scan(&cefr)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		s.LatestCEFR = &cefr
	}
	return s, nil
}
