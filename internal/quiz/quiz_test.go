package quiz

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCorrectSet(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "json array", raw: `["A","C"]`, want: []string{"A", "C"}},
		{name: "comma fallback", raw: "A, C ,D", want: []string{"A", "C", "D"}},
		{name: "duplicates dropped", raw: `["A","A","B"]`, want: []string{"A", "B"}},
		{name: "empty", raw: "  ", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCorrectSet(tt.raw))
		})
	}
}

func TestAnswerJSON(t *testing.T) {
	in := Answers{"q1": Single("A"), "q2": Multi("C", "A")}
	buf, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"q1":"A","q2":["A","C"]}`, string(buf))

	var out Answers
	require.NoError(t, json.Unmarshal(buf, &out))
	assert.True(t, out["q1"].Equal(Single("A")))
	assert.True(t, out["q2"].Equal(Multi("A", "C")))
	assert.Equal(t, KindMulti, out["q2"].Kind)
}

func TestNormalizeAnswer(t *testing.T) {
	ms := Question{ID: "m", Type: MultipleSelect}
	mc := Question{ID: "c", Type: MultipleChoice}

	assert.Equal(t, Multi("A"), NormalizeAnswer(ms, Single("A")))
	assert.Equal(t, Multi("A", "B"), NormalizeAnswer(ms, Single(`["B","A"]`)))
	assert.Equal(t, Multi(), NormalizeAnswer(ms, Single("")))
	assert.Equal(t, Single("A"), NormalizeAnswer(mc, Single("A")))
	assert.Equal(t, Single("A,B"), NormalizeAnswer(mc, Multi("A", "B")))
}

func TestQuizNormalizeAndStrip(t *testing.T) {
	limit := 10
	qz := Quiz{
		ID: "quiz-1", Title: "T", TimeLimit: &limit,
		Questions: []Question{
			{ID: "q1", Type: MultipleSelect, Question: "?", Options: []string{"A", "B", "C"}, CorrectAnswer: `["A","B"]`, Points: 2, Explanation: "why"},
		},
	}
	qz.Normalize()
	assert.Equal(t, []string{"A", "B"}, qz.Questions[0].Key().Values)
	assert.Equal(t, 600, qz.DurationSeconds())

	s := qz.Stripped()
	assert.False(t, s.Questions[0].HasKey())
	assert.Empty(t, s.Questions[0].Explanation)
	assert.Empty(t, s.Questions[0].Key().Values)
	assert.True(t, qz.Questions[0].HasKey(), "original left intact")
}

func TestValidateDefinition(t *testing.T) {
	good := Quiz{
		ID: "quiz-1", Title: "Intro", PassingScore: 60,
		Questions: []Question{
			{ID: "q1", Type: MultipleChoice, Question: "Pick", Options: []string{"A", "B"}, CorrectAnswer: "A", Points: 1},
		},
	}
	assert.False(t, ValidateDefinition(good).Blocking())

	bad := good
	bad.PassingScore = 120
	bad.Questions = []Question{
		{ID: "q1", Type: MultipleChoice, Question: "", Options: []string{"A", ""}, Points: 0},
		{ID: "q1", Type: "essay", Question: "x", Points: 1},
	}
	rep := ValidateDefinition(bad)
	require.True(t, rep.Blocking())
	fields := map[string]bool{}
	for _, e := range rep.Errors {
		fields[e.Field] = true
	}
	assert.True(t, fields["question"])
	assert.True(t, fields["points"])
	assert.True(t, fields["options"])
	assert.True(t, fields["type"])
	assert.True(t, fields["id"])
	assert.True(t, fields["PassingScore"])
}

func TestValidateAnswers(t *testing.T) {
	qz := Quiz{
		ID: "quiz-1", Title: "T",
		Questions: []Question{
			{ID: "q1", Type: MultipleChoice, Question: "a", Options: []string{"A", "B"}, Points: 1},
			{ID: "q2", Type: TrueFalse, Question: "b", Options: []string{"true", "false"}, Points: 1},
			{ID: "q3", Type: BroadText, Question: "c", Points: 5},
		},
	}
	rep := Validate(qz, Answers{"q1": Single("A"), "q2": Single(" ")})
	require.Len(t, rep.Errors, 1)
	assert.Equal(t, "q2", rep.Errors[0].QuestionID)
	require.Len(t, rep.Warnings, 1)
	assert.Equal(t, "q3", rep.Warnings[0].QuestionID)
	assert.Error(t, rep.Err())

	rep = Validate(qz, Answers{"q1": Single("A"), "q2": Single("true"), "q3": Single("essay")})
	assert.False(t, rep.Blocking())
	assert.Empty(t, rep.Warnings)
	assert.NoError(t, rep.Err())
}
