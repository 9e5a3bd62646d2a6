package quiz

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("question_type", func(fl validator.FieldLevel) bool {
		return QuestionType(fl.Field().String()).Valid()
	})
	return v
}

// Issue is a single validation finding, optionally tied to a question.
type Issue struct {
	QuestionID string `json:"question_id,omitempty"`
	Field      string `json:"field,omitempty"`
	Message    string `json:"message"`
}

func (i Issue) String() string {
	if i.QuestionID == "" {
		return i.Message
	}
	return fmt.Sprintf("%s: %s", i.QuestionID, i.Message)
}

// ValidationReport separates blocking errors from warnings that only need
// the student's confirmation.
type ValidationReport struct {
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

func (r ValidationReport) Blocking() bool { return len(r.Errors) > 0 }

func (r ValidationReport) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.String())
	}
	return errors.New(strings.Join(msgs, "; "))
}

// ValidateDefinition checks a quiz as authored: required fields, known
// question types, positive points and filled multiple-choice options.
func ValidateDefinition(qz Quiz) ValidationReport {
	var rep ValidationReport
	if err := validate.Struct(qz); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			for _, fe := range ve {
				if strings.Contains(fe.Namespace(), "Questions[") {
					continue // reported per question below
				}
				rep.Errors = append(rep.Errors, Issue{Field: fe.Field(), Message: describe(fe)})
			}
		} else {
			rep.Errors = append(rep.Errors, Issue{Message: err.Error()})
		}
	}
	seen := map[string]struct{}{}
	for _, q := range qz.Questions {
		rep.Errors = append(rep.Errors, validateQuestion(q)...)
		if q.ID == "" {
			continue
		}
		if _, dup := seen[q.ID]; dup {
			rep.Errors = append(rep.Errors, Issue{QuestionID: q.ID, Field: "id", Message: "duplicate question id"})
		}
		seen[q.ID] = struct{}{}
	}
	return rep
}

// Validate runs the pre-submission checks over a quiz and the current
// answers. It never mutates anything.
func Validate(qz Quiz, answers Answers) ValidationReport {
	var rep ValidationReport
	for _, q := range qz.Questions {
		rep.Errors = append(rep.Errors, validateQuestion(q)...)

		a, answered := answers[q.ID]
		switch {
		case !answered:
			if q.Type == MultipleChoice || q.Type == TrueFalse {
				rep.Errors = append(rep.Errors, Issue{QuestionID: q.ID, Field: "answer", Message: "an answer is required"})
			} else {
				rep.Warnings = append(rep.Warnings, Issue{QuestionID: q.ID, Field: "answer", Message: "question is unanswered"})
			}
		case a.IsEmpty():
			if q.Type == MultipleChoice || q.Type == TrueFalse {
				rep.Errors = append(rep.Errors, Issue{QuestionID: q.ID, Field: "answer", Message: "answer must not be empty"})
			} else {
				rep.Warnings = append(rep.Warnings, Issue{QuestionID: q.ID, Field: "answer", Message: "answer is empty"})
			}
		}
	}
	return rep
}

func validateQuestion(q Question) []Issue {
	var out []Issue
	if err := validate.Struct(q); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			for _, fe := range ve {
				out = append(out, Issue{QuestionID: q.ID, Field: strings.ToLower(fe.Field()), Message: describe(fe)})
			}
		}
	}
	if q.Type == MultipleChoice {
		if err := validate.Var(q.Options, "min=2,dive,required"); err != nil {
			out = append(out, Issue{QuestionID: q.ID, Field: "options", Message: "all options must be filled"})
		}
	}
	return out
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", strings.ToLower(fe.Field()))
	case "min":
		return fmt.Sprintf("%s must be at least %s", strings.ToLower(fe.Field()), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", strings.ToLower(fe.Field()), fe.Param())
	case "question_type":
		return fmt.Sprintf("unknown question type %q", fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", strings.ToLower(fe.Field()), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag())
	}
}
