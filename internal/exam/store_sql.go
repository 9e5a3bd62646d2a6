package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/mind-engage/mindengage-quiz/internal/quiz"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) PutQuiz(ctx context.Context, qz quiz.Quiz) error {
	qj, err := json.Marshal(qz)
	if err != nil {
		return errors.Wrap(err, "encode quiz")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO quizzes (id,title,quiz_json,created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, quiz_json=EXCLUDED.quiz_json`,
		qz.ID, qz.Title, string(qj), time.Now().Unix())
	return errors.Wrapf(err, "put quiz %s", qz.ID)
}

func (s *SQLStore) GetQuiz(ctx context.Context, id string) (quiz.Quiz, error) {
	row := s.db.QueryRowContext(ctx, `SELECT quiz_json FROM quizzes WHERE id=$1`, id)
	var qjson string
	if err := row.Scan(&qjson); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return quiz.Quiz{}, errors.Wrapf(ErrNotFound, "quiz %s", id)
		}
		return quiz.Quiz{}, errors.Wrapf(err, "get quiz %s", id)
	}
	var qz quiz.Quiz
	if err := json.Unmarshal([]byte(qjson), &qz); err != nil {
		return quiz.Quiz{}, errors.Wrapf(err, "decode quiz %s", id)
	}
	qz.Normalize()
	return qz, nil
}

func (s *SQLStore) ListQuizzes(ctx context.Context, opts ListOpts) ([]QuizSummary, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT quiz_json, created_at FROM quizzes
		WHERE LOWER(title) LIKE $1
		ORDER BY created_at DESC, id ASC
		LIMIT $2 OFFSET $3`,
		"%"+strings.ToLower(opts.Q)+"%", limit, opts.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "list quizzes")
	}
	defer rows.Close()

	out := []QuizSummary{}
	for rows.Next() {
		var (
			qjson     string
			createdAt int64
		)
		if err := rows.Scan(&qjson, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan quiz")
		}
		var qz quiz.Quiz
		if err := json.Unmarshal([]byte(qjson), &qz); err != nil {
			continue
		}
		out = append(out, summarize(qz, createdAt))
	}
	return out, errors.Wrap(rows.Err(), "list quizzes")
}

func (s *SQLStore) CreateAttempt(ctx context.Context, a Attempt) error {
	var exist int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM quizzes WHERE id=$1`, a.QuizID).Scan(&exist); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errors.Wrapf(ErrNotFound, "quiz %s", a.QuizID)
		}
		return errors.Wrap(err, "check quiz")
	}
	aj, err := json.Marshal(answersOrEmpty(a.Answers))
	if err != nil {
		return errors.Wrap(err, "encode answers")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO attempts (id,quiz_id,user_id,status,score,passed,unreviewed,answers_json,started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.QuizID, a.UserID, a.Status, a.Score, a.Passed, a.HasUnreviewedQuestions, string(aj), a.StartedAt.Unix())
	return errors.Wrapf(err, "create attempt %s", a.ID)
}

func (s *SQLStore) UpdateAttempt(ctx context.Context, a Attempt) error {
	aj, err := json.Marshal(answersOrEmpty(a.Answers))
	if err != nil {
		return errors.Wrap(err, "encode answers")
	}
	var submitted sql.NullInt64
	if a.SubmittedAt != nil {
		submitted = sql.NullInt64{Int64: a.SubmittedAt.Unix(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `UPDATE attempts
		SET status=$1, score=$2, passed=$3, unreviewed=$4, answers_json=$5, submitted_at=$6
		WHERE id=$7`,
		a.Status, a.Score, a.Passed, a.HasUnreviewedQuestions, string(aj), submitted, a.ID)
	if err != nil {
		return errors.Wrapf(err, "update attempt %s", a.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrNotFound, "attempt %s", a.ID)
	}
	return nil
}

const attemptCols = `id,quiz_id,user_id,status,score,passed,unreviewed,answers_json,started_at,submitted_at`

type scanner interface{ Scan(dest ...any) error }

func scanAttempt(sc scanner) (Attempt, error) {
	var (
		a         Attempt
		ajson     string
		started   int64
		submitted sql.NullInt64
	)
	if err := sc.Scan(&a.ID, &a.QuizID, &a.UserID, &a.Status, &a.Score, &a.Passed, &a.HasUnreviewedQuestions, &ajson, &started, &submitted); err != nil {
		return Attempt{}, err
	}
	a.StartedAt = time.Unix(started, 0).UTC()
	if submitted.Valid {
		t := time.Unix(submitted.Int64, 0).UTC()
		a.SubmittedAt = &t
	}
	if err := json.Unmarshal([]byte(ajson), &a.Answers); err != nil || a.Answers == nil {
		a.Answers = map[string]quiz.GradedAnswer{}
	}
	return a, nil
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptCols+` FROM attempts WHERE id=$1`, id)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, errors.Wrapf(ErrNotFound, "attempt %s", id)
		}
		return Attempt{}, errors.Wrapf(err, "get attempt %s", id)
	}
	return a, nil
}

func (s *SQLStore) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if opts.QuizID != "" {
		add("quiz_id = ?", opts.QuizID)
	}
	if opts.UserID != "" {
		add("user_id = ?", opts.UserID)
	}
	if opts.Status != "" {
		add("status = ?", opts.Status)
	}
	q := `SELECT ` + attemptCols + ` FROM attempts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, opts.Offset)
	q += " ORDER BY started_at DESC, id ASC LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list attempts")
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan attempt")
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "list attempts")
}

func answersOrEmpty(in map[string]quiz.GradedAnswer) map[string]quiz.GradedAnswer {
	if in == nil {
		return map[string]quiz.GradedAnswer{}
	}
	return in
}
