package grading

import (
	"math"

	"github.com/mind-engage/mindengage-quiz/internal/quiz"
)

// QuestionResult is the outcome of grading a single question response.
type QuestionResult struct {
	IsCorrect     *bool   `json:"is_correct"` // nil when a person has to grade it
	PointsEarned  int     `json:"points_earned"`
	PartialCredit float64 `json:"partial_credit"`
	NeedsReview   bool    `json:"needs_review"`
}

// ScoreResult aggregates question results over a whole quiz.
type ScoreResult struct {
	ScorePercentage        int                       `json:"score_percentage"`
	TotalPointsEarned      int                       `json:"total_points_earned"`
	TotalPossiblePoints    int                       `json:"total_possible_points"`
	AutoGradableEarned     int                       `json:"auto_gradable_earned"`
	AutoGradablePoints     int                       `json:"auto_gradable_points"`
	HasUnreviewedQuestions bool                      `json:"has_unreviewed_questions"`
	Questions              map[string]QuestionResult `json:"questions,omitempty"`
}

// Strategy grades a single question type.
type Strategy interface {
	Grade(q quiz.Question, a quiz.Answer) QuestionResult
}

var strategies = map[quiz.QuestionType]Strategy{
	quiz.MultipleChoice: exactStrategy{},
	quiz.TrueFalse:      exactStrategy{},
	quiz.MultipleSelect: partialStrategy{},
	quiz.ShortText:      manualStrategy{},
	quiz.BroadText:      manualStrategy{},
	quiz.CodeSnippet:    manualStrategy{},
}

// ScoreQuestion grades one answer. Unknown question types are routed to manual review.
func ScoreQuestion(q quiz.Question, a quiz.Answer) QuestionResult {
	s, ok := strategies[q.Type]
	if !ok {
		s = manualStrategy{}
	}
	return s.Grade(q, a)
}

// ScoreQuiz grades every question. The percentage only covers auto-gradable
// points; questions needing review never move it.
func ScoreQuiz(questions []quiz.Question, answers quiz.Answers) ScoreResult {
	res := ScoreResult{Questions: make(map[string]QuestionResult, len(questions))}
	for _, q := range questions {
		a, ok := answers[q.ID]
		if !ok {
			a = quiz.NormalizeAnswer(q, quiz.Single(""))
		}
		qr := ScoreQuestion(q, a)
		res.Questions[q.ID] = qr

		res.TotalPointsEarned += qr.PointsEarned
		res.TotalPossiblePoints += q.Points
		if qr.NeedsReview {
			res.HasUnreviewedQuestions = true
			continue
		}
		res.AutoGradableEarned += qr.PointsEarned
		res.AutoGradablePoints += q.Points
	}
	res.ScorePercentage = Percentage(res.AutoGradableEarned, res.AutoGradablePoints)
	return res
}

// ScoreAnswered scores only the questions that have an answer, which is
// the running score shown while a practice attempt is in progress.
func ScoreAnswered(questions []quiz.Question, answers quiz.Answers) ScoreResult {
	answered := make([]quiz.Question, 0, len(answers))
	for _, q := range questions {
		if _, ok := answers[q.ID]; ok {
			answered = append(answered, q)
		}
	}
	return ScoreQuiz(answered, answers)
}

// IsPassed never passes a quiz that still has answers awaiting review.
func IsPassed(score, passingScore int, hasUnreviewedQuestions bool) bool {
	return !hasUnreviewedQuestions && score >= passingScore
}

// --- Strategies ---

type exactStrategy struct{}

func (exactStrategy) Grade(q quiz.Question, a quiz.Answer) QuestionResult {
	ok := !a.IsEmpty() && a.Value == q.Key().Value
	res := QuestionResult{IsCorrect: quiz.BoolPtr(ok)}
	if ok {
		res.PointsEarned = q.Points
		res.PartialCredit = 1
	}
	return res
}

// partialStrategy awards correctSelected/totalCorrect minus a penalty of
// incorrectSelected/totalOptions, floored at zero.
type partialStrategy struct{}

func (partialStrategy) Grade(q quiz.Question, a quiz.Answer) QuestionResult {
	correct := q.Key().Set()
	selected := a.Set()

	correctSelected, incorrectSelected := 0, 0
	for s := range selected {
		if _, ok := correct[s]; ok {
			correctSelected++
		} else {
			incorrectSelected++
		}
	}
	totalOptions := len(q.Options)
	if totalOptions < 1 {
		totalOptions = 1
	}

	credit := 0.0
	if len(correct) > 0 {
		credit = float64(correctSelected)/float64(len(correct)) - float64(incorrectSelected)/float64(totalOptions)
	}
	credit = math.Max(0, credit)

	return QuestionResult{
		IsCorrect:     quiz.BoolPtr(credit == 1),
		PointsEarned:  round(credit * float64(q.Points)),
		PartialCredit: credit,
	}
}

type manualStrategy struct{}

func (manualStrategy) Grade(quiz.Question, quiz.Answer) QuestionResult {
	return QuestionResult{NeedsReview: true}
}

// round rounds half up, matching the scores shown to students.
func round(v float64) int { return int(math.Floor(v + 0.5)) }

// Feedback grades an answer for immediate display. IsCorrect stays nil when
// the question carries no answer key, as in quizzes served for taking.
func Feedback(q quiz.Question, a quiz.Answer) QuestionResult {
	if !q.NeedsReview() && !q.HasKey() {
		return QuestionResult{}
	}
	return ScoreQuestion(q, a)
}

// Percentage is earned over possible as a rounded 0..100 value, 0 when
// nothing is possible.
func Percentage(earned, possible int) int {
	if possible <= 0 {
		return 0
	}
	return round(100 * float64(earned) / float64(possible))
}
