// Package player drives a single student's run through a quiz: mode
// selection, resume, answering, navigation, timing, auto-save and
// submission.
package player

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/mind-engage/mindengage-quiz/internal/grading"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/snapshot"
	"github.com/mind-engage/mindengage-quiz/internal/timer"
)

const DefaultAutoSaveInterval = 5 * time.Second

var (
	ErrBusy             = errors.New("a submission is already in flight")
	ErrNotInProgress    = errors.New("no attempt in progress")
	ErrWrongPhase       = errors.New("operation not allowed in the current phase")
	ErrQuestionPending  = errors.New("question is still being graded")
	ErrIncomplete       = errors.New("every question must be answered before finalizing")
	ErrNoQuiz           = errors.New("no quiz data available")
	ErrPracticeDisabled = errors.New("practice mode is not available for this quiz")
)

type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseModeSelection Phase = "mode_selection"
	PhaseResumePending Phase = "resume_pending"
	PhaseInProgress    Phase = "in_progress"
	PhaseSubmitting    Phase = "submitting"
	PhaseCompleted     Phase = "completed"
)

// QuizService is the remote side of an attempt.
type QuizService interface {
	GetQuizForTaking(ctx context.Context, quizID string) (quiz.ForTaking, error)
	// StartAttempt continues the user's open attempt unless fresh is set,
	// in which case the server abandons it and opens a new one.
	StartAttempt(ctx context.Context, quizID string, fresh bool) (string, error)
	SubmitAnswer(ctx context.Context, quizID, attemptID, questionID string, a quiz.Answer) (quiz.AnswerFeedback, error)
	SubmitAttempt(ctx context.Context, quizID, attemptID string, answers []quiz.SubmittedAnswer) (quiz.AttemptResult, error)
	FinalizeAttempt(ctx context.Context, quizID, attemptID string) (quiz.AttemptResult, error)
}

type Config struct {
	QuizID          string
	UserID          string
	InitialQuizData *quiz.Quiz
	// InitialMode skips the mode chooser when no resumable attempt exists.
	InitialMode      quiz.Mode
	AutoSaveInterval time.Duration
	TickInterval     time.Duration
	Clock            clock.WithTicker
	Logger           logrus.FieldLogger
}

// Deps are the collaborators of a Machine. A nil Service grades locally and
// never talks to a server; a nil Store keeps snapshots in memory.
type Deps struct {
	Service QuizService
	Store   *snapshot.Store
}

// Callbacks are invoked without the machine lock held.
type Callbacks struct {
	OnQuizComplete func(Results)
	OnTimeUp       func()
	OnChange       func()
}

// Feedback is what a practice-mode student sees right after answering.
type Feedback struct {
	IsCorrect         *bool       `json:"isCorrect"`
	CorrectAnswer     string      `json:"correctAnswer,omitempty"`
	Explanation       string      `json:"explanation,omitempty"`
	PointsEarned      int         `json:"pointsEarned"`
	CurrentScore      int         `json:"currentScore"`
	SelectedAnswer    quiz.Answer `json:"selectedAnswer"`
	AnsweredQuestions int         `json:"answeredQuestions"`
	TotalQuestions    int         `json:"totalQuestions"`
	// Confirmed is set once the server graded the answer.
	Confirmed bool `json:"confirmed"`
}

type Results struct {
	AttemptID              string                            `json:"attemptId,omitempty"`
	Mode                   quiz.Mode                         `json:"mode"`
	Score                  int                               `json:"score"`
	Passed                 bool                              `json:"passed"`
	HasUnreviewedQuestions bool                              `json:"hasUnreviewedQuestions"`
	Answers                quiz.Answers                      `json:"answers"`
	Graded                 []quiz.GradedAnswer               `json:"graded,omitempty"`
	Analytics              map[string]quiz.QuestionAnalytics `json:"analytics"`
	TimeSpent              int                               `json:"timeSpent"` // seconds
	// Local is true when the score was computed without a server.
	Local bool `json:"local"`
}

// View is an immutable copy of the machine state for rendering.
type View struct {
	Phase                Phase
	Quiz                 *quiz.Quiz
	Attempts             []quiz.AttemptSummary
	Mode                 quiz.Mode
	AttemptID            string
	CurrentQuestionIndex int
	Answers              quiz.Answers
	Flagged              []string
	Analytics            map[string]quiz.QuestionAnalytics
	Feedback             map[string]Feedback
	PendingQuestions     []string
	StartedAt            time.Time
	Timer                timer.State
	IsLowTime            bool
	IsCriticalTime       bool
	AnsweredCount        int
	LocalScore           grading.ScoreResult
	// Resumable is the saved attempt offered while the phase is ResumePending.
	Resumable *snapshot.Snapshot
	Results   *Results
	Error     string
	Busy      bool
}

// CurrentQuestion returns the question at the current index.
func (v View) CurrentQuestion() (quiz.Question, bool) {
	if v.Quiz == nil || v.CurrentQuestionIndex < 0 || v.CurrentQuestionIndex >= len(v.Quiz.Questions) {
		return quiz.Question{}, false
	}
	return v.Quiz.Questions[v.CurrentQuestionIndex], true
}

func (v View) IsFlagged(questionID string) bool {
	for _, id := range v.Flagged {
		if id == questionID {
			return true
		}
	}
	return false
}

func (v View) IsPending(questionID string) bool {
	for _, id := range v.PendingQuestions {
		if id == questionID {
			return true
		}
	}
	return false
}
