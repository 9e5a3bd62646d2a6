package exam

import (
	"errors"
	"time"

	"github.com/mind-engage/mindengage-quiz/internal/quiz"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("attempt belongs to another user")
	ErrAttemptClosed = errors.New("attempt already submitted")
	ErrAttemptOpen   = errors.New("attempt is still in progress")
	ErrAttemptLimit  = errors.New("no attempts left for this quiz")
	ErrIncomplete    = errors.New("every question must be answered before finalizing")
	ErrInvalidGrade  = errors.New("manual points out of range")

	// ErrFeedbackDisabled rejects single-answer grading on quizzes that only
	// reveal results after submission.
	ErrFeedbackDisabled = errors.New("instant feedback is disabled for this quiz")
)

type Attempt struct {
	ID                     string                       `json:"id"`
	QuizID                 string                       `json:"quiz_id"`
	UserID                 string                       `json:"user_id"`
	Status                 string                       `json:"status"` // in_progress|submitted|finalized|abandoned
	Score                  int                          `json:"score"`
	Passed                 bool                         `json:"passed"`
	HasUnreviewedQuestions bool                         `json:"has_unreviewed_questions"`
	Answers                map[string]quiz.GradedAnswer `json:"answers"`
	StartedAt              time.Time                    `json:"started_at"`
	SubmittedAt            *time.Time                   `json:"submitted_at,omitempty"`
}

func (a Attempt) Closed() bool { return a.Status != quiz.AttemptInProgress }

func (a Attempt) Summary() quiz.AttemptSummary {
	return quiz.AttemptSummary{
		ID:          a.ID,
		Status:      a.Status,
		Score:       a.Score,
		Passed:      a.Passed,
		StartedAt:   a.StartedAt,
		SubmittedAt: a.SubmittedAt,
	}
}

// Result renders the attempt with answers in quiz order.
func (a Attempt) Result(qz quiz.Quiz) quiz.AttemptResult {
	out := quiz.AttemptResult{
		AttemptID:              a.ID,
		Score:                  a.Score,
		Passed:                 a.Passed,
		HasUnreviewedQuestions: a.HasUnreviewedQuestions,
		Answers:                make([]quiz.GradedAnswer, 0, len(a.Answers)),
		Quiz:                   qz,
	}
	for _, q := range qz.Questions {
		if ga, ok := a.Answers[q.ID]; ok {
			out.Answers = append(out.Answers, ga)
		}
	}
	return out
}

type QuizSummary struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	QuizType      quiz.QuizType `json:"quiz_type,omitempty"`
	QuestionCount int           `json:"question_count"`
	TimeLimit     *int          `json:"time_limit,omitempty"`
	CreatedAt     int64         `json:"created_at,omitempty"`
}

func summarize(qz quiz.Quiz, createdAt int64) QuizSummary {
	return QuizSummary{
		ID:            qz.ID,
		Title:         qz.Title,
		QuizType:      qz.QuizType,
		QuestionCount: len(qz.Questions),
		TimeLimit:     qz.TimeLimit,
		CreatedAt:     createdAt,
	}
}

type ManualGradeInput struct {
	ManualPoints int    `json:"manual_points"`
	Comment      string `json:"comment,omitempty"`
}
