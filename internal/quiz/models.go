package quiz

import (
	"encoding/json"
	"errors"
	"strings"
)

var ErrUnknownQuestion = errors.New("unknown question")

type QuestionType string

const (
	MultipleChoice QuestionType = "multiple-choice"
	MultipleSelect QuestionType = "multiple-select"
	TrueFalse      QuestionType = "true-false"
	ShortText      QuestionType = "short-text"
	BroadText      QuestionType = "broad-text"
	CodeSnippet    QuestionType = "code-snippet"
)

// NeedsReview reports whether answers of this type can only be graded by a person.
func (t QuestionType) NeedsReview() bool {
	switch t {
	case ShortText, BroadText, CodeSnippet:
		return true
	}
	return false
}

func (t QuestionType) Valid() bool {
	switch t {
	case MultipleChoice, MultipleSelect, TrueFalse, ShortText, BroadText, CodeSnippet:
		return true
	}
	return false
}

type QuizType string

const (
	QuizTypeLesson QuizType = "lesson"
	QuizTypeFinal  QuizType = "final"
)

// Mode selects how an attempt is graded: exam hides correctness until
// submission, practice grades every answer as it is given.
type Mode string

const (
	ModeExam     Mode = "exam"
	ModePractice Mode = "practice"
)

func (m Mode) Valid() bool { return m == ModeExam || m == ModePractice }

func ParseMode(s string) (Mode, bool) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	return m, m.Valid()
}

type Question struct {
	ID            string       `json:"id" validate:"required"`
	Type          QuestionType `json:"type" validate:"required,question_type"`
	Question      string       `json:"question" validate:"required"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correct_answer,omitempty"` // raw; JSON array for multiple-select
	Points        int          `json:"points" validate:"min=1"`
	Explanation   string       `json:"explanation,omitempty"`

	key *CorrectAnswer
}

type Quiz struct {
	ID                     string     `json:"id" validate:"required"`
	Title                  string     `json:"title" validate:"required"`
	QuizType               QuizType   `json:"quiz_type,omitempty" validate:"omitempty,oneof=lesson final"`
	Questions              []Question `json:"questions" validate:"required,min=1,dive"`
	PassingScore           int        `json:"passing_score" validate:"min=0,max=100"`
	TimeLimit              *int       `json:"time_limit,omitempty" validate:"omitempty,min=0"` // minutes
	AttemptsAllowed        int        `json:"attempts_allowed" validate:"min=0"`
	InstantFeedbackEnabled bool       `json:"instant_feedback_enabled"`
}

// CorrectAnswer is the normalized answer key of a question.
type CorrectAnswer struct {
	Multi  bool
	Value  string
	Values []string
}

func (c CorrectAnswer) Set() map[string]struct{} {
	out := make(map[string]struct{}, len(c.Values))
	for _, v := range c.Values {
		out[v] = struct{}{}
	}
	return out
}

// ParseCorrectSet decodes a multiple-select key: a JSON array of strings,
// falling back to a comma separated list.
func ParseCorrectSet(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var arr []string
	if err := json.Unmarshal([]byte(raw), &arr); err == nil {
		return dedupe(arr)
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return dedupe(out)
}

// HasKey reports whether the question carries an answer key. Quizzes served
// for taking have their keys stripped.
func (q Question) HasKey() bool { return strings.TrimSpace(q.CorrectAnswer) != "" }

// Key returns the normalized answer key, computed once by Normalize.
func (q Question) Key() CorrectAnswer {
	if q.key != nil {
		return *q.key
	}
	return normalizeKey(q)
}

func (q Question) NeedsReview() bool { return q.Type.NeedsReview() }

func normalizeKey(q Question) CorrectAnswer {
	if q.Type == MultipleSelect {
		return CorrectAnswer{Multi: true, Values: ParseCorrectSet(q.CorrectAnswer)}
	}
	return CorrectAnswer{Value: q.CorrectAnswer}
}

// Normalize resolves every question's answer key into its typed form.
// Call it once when a quiz enters the process.
func (qz *Quiz) Normalize() {
	for i := range qz.Questions {
		k := normalizeKey(qz.Questions[i])
		qz.Questions[i].key = &k
	}
}

func (qz Quiz) Question(id string) (Question, bool) {
	for _, q := range qz.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

func (qz Quiz) Index(id string) int {
	for i, q := range qz.Questions {
		if q.ID == id {
			return i
		}
	}
	return -1
}

// DurationSeconds is the countdown length, or 0 for untimed quizzes.
func (qz Quiz) DurationSeconds() int {
	if qz.TimeLimit == nil || *qz.TimeLimit <= 0 {
		return 0
	}
	return *qz.TimeLimit * 60
}

// Stripped returns a copy without answer keys and explanations, as served to students.
func (qz Quiz) Stripped() Quiz {
	out := qz
	out.Questions = make([]Question, len(qz.Questions))
	for i, q := range qz.Questions {
		q.CorrectAnswer = ""
		q.Explanation = ""
		q.key = nil
		q.Options = append([]string(nil), q.Options...)
		out.Questions[i] = q
	}
	return out
}

func (qz Quiz) TotalPoints() int {
	total := 0
	for _, q := range qz.Questions {
		total += q.Points
	}
	return total
}
