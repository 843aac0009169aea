package config

type WorkerKeyStruct struct {
	// PersistAnswersQueue carries per-answer syncs to be written to PostgreSQL.
	PersistAnswersQueue string
	// GradeRequestsQueue is consumed by the external grading service.
	GradeRequestsQueue string
	// AttemptGradesQueue carries grading results back from the grading service.
	AttemptGradesQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAnswersQueue: "persist_answers_queue",
	GradeRequestsQueue:  "grade_requests_queue",
	AttemptGradesQueue:  "attempt_grades_queue",
}
