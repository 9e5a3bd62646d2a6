package quiz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type AnswerKind int

const (
	KindSingle AnswerKind = iota
	KindMulti
)

// Answer is a student's response to one question: a single string, or a set
// of option strings for multiple-select. On the wire it is a JSON string or
// a JSON array.
type Answer struct {
	Kind   AnswerKind
	Value  string
	Values []string
}

func Single(v string) Answer { return Answer{Kind: KindSingle, Value: v} }

// Multi builds a set answer; duplicates are dropped and values sorted.
func Multi(vs ...string) Answer {
	out := dedupe(vs)
	sort.Strings(out)
	return Answer{Kind: KindMulti, Values: out}
}

func (a Answer) IsEmpty() bool {
	if a.Kind == KindMulti {
		return len(a.Values) == 0
	}
	return strings.TrimSpace(a.Value) == ""
}

// Strings returns the chosen values, one element for single answers.
func (a Answer) Strings() []string {
	if a.Kind == KindMulti {
		return append([]string(nil), a.Values...)
	}
	if a.Value == "" {
		return nil
	}
	return []string{a.Value}
}

func (a Answer) Set() map[string]struct{} {
	vals := a.Strings()
	out := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		out[v] = struct{}{}
	}
	return out
}

func (a Answer) Equal(b Answer) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == KindSingle {
		return a.Value == b.Value
	}
	as, bs := a.Set(), b.Set()
	if len(as) != len(bs) {
		return false
	}
	for k := range as {
		if _, ok := bs[k]; !ok {
			return false
		}
	}
	return true
}

func (a Answer) String() string {
	if a.Kind == KindMulti {
		return strings.Join(a.Values, ", ")
	}
	return a.Value
}

func (a Answer) MarshalJSON() ([]byte, error) {
	if a.Kind == KindMulti {
		vals := a.Values
		if vals == nil {
			vals = []string{}
		}
		return json.Marshal(vals)
	}
	return json.Marshal(a.Value)
}

func (a *Answer) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*a = Single("")
		return nil
	case b[0] == '[':
		var vals []string
		if err := json.Unmarshal(b, &vals); err != nil {
			return fmt.Errorf("answer: %w", err)
		}
		*a = Multi(vals...)
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("answer: %w", err)
		}
		*a = Single(s)
		return nil
	default:
		// numbers and booleans from loosely typed clients
		*a = Single(string(b))
		return nil
	}
}

// NormalizeAnswer resolves the answer kind from the question type.
func NormalizeAnswer(q Question, a Answer) Answer {
	if q.Type == MultipleSelect {
		if a.Kind == KindMulti {
			return Multi(a.Values...)
		}
		if strings.HasPrefix(strings.TrimSpace(a.Value), "[") {
			return Multi(ParseCorrectSet(a.Value)...)
		}
		if a.Value == "" {
			return Multi()
		}
		return Multi(a.Value)
	}
	if a.Kind == KindMulti {
		return Single(strings.Join(a.Values, ","))
	}
	return a
}

// Answers maps question id to answer. A missing entry means unanswered.
type Answers map[string]Answer

func (as Answers) Clone() Answers {
	out := make(Answers, len(as))
	for k, v := range as {
		if v.Kind == KindMulti {
			v.Values = append([]string(nil), v.Values...)
		}
		out[k] = v
	}
	return out
}

// SubmittedAnswer is one entry of a batch submission.
type SubmittedAnswer struct {
	QuestionID string `json:"question_id"`
	Answer     Answer `json:"answer"`
}

// List returns the answers in quiz question order.
func (as Answers) List(qz Quiz) []SubmittedAnswer {
	out := make([]SubmittedAnswer, 0, len(as))
	for _, q := range qz.Questions {
		if a, ok := as[q.ID]; ok {
			out = append(out, SubmittedAnswer{QuestionID: q.ID, Answer: a})
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
