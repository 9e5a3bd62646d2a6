package quiz

import "time"

// QuestionAnalytics tracks how a student interacted with one question.
type QuestionAnalytics struct {
	TimeSpent       int        `json:"timeSpent"` // seconds
	Attempts        int        `json:"attempts"`
	ChosenOptions   []string   `json:"chosenOptions,omitempty"`
	IsCorrect       *bool      `json:"isCorrect"`
	FirstAnsweredAt *time.Time `json:"firstAnsweredAt,omitempty"`
	LastAnsweredAt  *time.Time `json:"lastAnsweredAt,omitempty"`
}

func (a QuestionAnalytics) Clone() QuestionAnalytics {
	out := a
	out.ChosenOptions = append([]string(nil), a.ChosenOptions...)
	if a.IsCorrect != nil {
		v := *a.IsCorrect
		out.IsCorrect = &v
	}
	return out
}

const (
	AttemptInProgress = "in_progress"
	AttemptSubmitted  = "submitted"
	AttemptFinalized  = "finalized"
	AttemptAbandoned  = "abandoned"
)

// AttemptSummary is an attempt record as listed alongside a quiz for taking.
type AttemptSummary struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Score       int        `json:"score"`
	Passed      bool       `json:"passed"`
	StartedAt   time.Time  `json:"started_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
}

// ForTaking is a quiz definition together with the caller's attempts.
type ForTaking struct {
	Quiz     Quiz             `json:"quiz"`
	Attempts []AttemptSummary `json:"attempts"`
}

// AnswerFeedback is the grading outcome of a single practice-mode answer.
type AnswerFeedback struct {
	IsCorrect         *bool  `json:"is_correct"`
	CorrectAnswer     string `json:"correct_answer,omitempty"`
	Explanation       string `json:"explanation,omitempty"`
	PointsEarned      int    `json:"points_earned"`
	CurrentScore      int    `json:"current_score"`
	AnsweredQuestions int    `json:"answered_questions"`
	TotalQuestions    int    `json:"total_questions"`
}

// GradedAnswer is one answer as recorded and graded by the server.
type GradedAnswer struct {
	QuestionID   string `json:"question_id"`
	Answer       Answer `json:"answer"`
	IsCorrect    *bool  `json:"is_correct"`
	PointsEarned int    `json:"points_earned"`
	NeedsReview  bool   `json:"needs_review"`
	ManualPoints *int   `json:"manual_points,omitempty"`
	Comment      string `json:"comment,omitempty"`
}

// AttemptResult is returned when an attempt is submitted or finalized.
type AttemptResult struct {
	AttemptID              string         `json:"attempt_id"`
	Score                  int            `json:"score"`
	Passed                 bool           `json:"passed"`
	HasUnreviewedQuestions bool           `json:"has_unreviewed_questions"`
	Answers                []GradedAnswer `json:"answers"`
	Quiz                   Quiz           `json:"quiz"`
}

func BoolPtr(b bool) *bool { return &b }
