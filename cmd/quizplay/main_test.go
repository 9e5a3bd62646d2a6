package main

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	auth "github.com/mind-engage/mindengage-quiz/internal/auth/middleware"
	"github.com/mind-engage/mindengage-quiz/internal/config"
	"github.com/mind-engage/mindengage-quiz/internal/player"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/snapshot"
	"github.com/mind-engage/mindengage-quiz/internal/timer"
)

func localQuiz() *quiz.Quiz {
	limit := 15
	return &quiz.Quiz{
		ID: "cells", Title: "Cells", PassingScore: 60, TimeLimit: &limit, InstantFeedbackEnabled: true,
		Questions: []quiz.Question{
			{ID: "q1", Type: quiz.MultipleChoice, Question: "Powerhouse?", Options: []string{"A", "B"}, CorrectAnswer: "A", Points: 2, Explanation: "mitochondria"},
			{ID: "q2", Type: quiz.MultipleSelect, Question: "Organelles?", Options: []string{"A", "B", "C"}, CorrectAnswer: `["A","C"]`, Points: 2},
			{ID: "q3", Type: quiz.BroadText, Question: "Explain osmosis", Points: 5},
		},
	}
}

func runScript(t *testing.T, store *snapshot.Store, script string) string {
	t.Helper()
	log, _ := test.NewNullLogger()
	buf := &bytes.Buffer{}
	out := &syncWriter{w: buf}
	clk := clocktesting.NewFakeClock(time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC))
	err := run(context.Background(), strings.NewReader(script), out, log,
		player.Config{QuizID: "cells", UserID: "ana", InitialQuizData: localQuiz(), Clock: clk, Logger: log},
		player.Deps{Store: store})
	require.NoError(t, err)
	out.mu.Lock()
	defer out.mu.Unlock()
	return buf.String()
}

func TestPracticeRunToResults(t *testing.T) {
	log, _ := test.NewNullLogger()
	store := snapshot.NewStore(snapshot.NewMemoryBackend(), snapshot.WithLogger(log))
	got := runScript(t, store, strings.Join([]string{
		"practice",
		"a A",
		"n",
		"a A, C",
		"g 3",
		"f",
		"s",
		"s",
	}, "\n")+"\n")

	assert.Contains(t, got, "Choose a mode: exam | practice")
	assert.Contains(t, got, "Correct! +2")
	assert.Contains(t, got, "mitochondria")
	assert.Contains(t, got, "(flagged)")
	assert.Contains(t, got, "warning: q3: question is unanswered")
	assert.Contains(t, got, "Press s again")
	assert.Contains(t, got, "Score: 100%")
	assert.Contains(t, got, "awaiting review")
	assert.Contains(t, got, "(scored offline)")
	assert.Nil(t, store.Load(context.Background(), "ana", "cells"), "completed attempts leave no snapshot")
}

func TestExamBlocksOnMissingChoice(t *testing.T) {
	got := runScript(t, nil, "exam\ns\nbogus\nq\n")

	assert.Contains(t, got, "[exam] Question 1/3")
	assert.Contains(t, got, "Time left 15:00")
	assert.Contains(t, got, "error: q1: an answer is required")
	assert.Contains(t, got, "fix the errors above")
	assert.Contains(t, got, `unknown command "bogus"`)
	assert.Contains(t, got, "Progress saved.")
	assert.NotContains(t, got, "Score:")
}

func TestQuitSavesSnapshot(t *testing.T) {
	log, _ := test.NewNullLogger()
	store := snapshot.NewStore(snapshot.NewMemoryBackend(), snapshot.WithLogger(log))
	runScript(t, store, "exam\nn\na B\nq\n")

	snap := store.Load(context.Background(), "ana", "cells")
	require.NotNil(t, snap)
	assert.Equal(t, quiz.ModeExam, snap.Mode)
	assert.Equal(t, 1, snap.CurrentQuestionIndex)
	assert.Equal(t, []string{"B"}, snap.Answers["q2"].Strings())
}

func TestRenderResumeAndTimer(t *testing.T) {
	buf := &bytes.Buffer{}
	render(buf, player.View{
		Phase: player.PhaseResumePending,
		Resumable: &snapshot.Snapshot{
			Mode:                 quiz.ModeExam,
			CurrentQuestionIndex: 1,
			Answers:              quiz.Answers{"q1": quiz.Single("A")},
			LastSavedAt:          time.Date(2024, 5, 6, 8, 30, 0, 0, time.UTC),
			TimerState:           snapshot.TimerState{Duration: 900, TimeLeft: 125},
		},
	})
	assert.Contains(t, buf.String(), "Unfinished exam attempt saved 2024-05-06 08:30: 1 answered, at question 2.")
	assert.Contains(t, buf.String(), "Time left: 02:05")

	v := player.View{Timer: timer.State{Duration: 900, TimeLeft: 45, Elapsed: 855, IsRunning: true}, IsCriticalTime: true, IsLowTime: true}
	assert.Equal(t, "Time left 00:45  LESS THAN A MINUTE", timerLine(v))
	v = player.View{Timer: timer.State{Duration: 900, TimeLeft: 900}}
	assert.Equal(t, "Time left 15:00 (not started, t to start)", timerLine(v))
	assert.Empty(t, timerLine(player.View{}))
}

func TestParseAnswerAndClockFace(t *testing.T) {
	ms := quiz.Question{Type: quiz.MultipleSelect}
	assert.Equal(t, []string{"A", "C"}, parseAnswer(ms, "A, C,").Strings())
	assert.Equal(t, "A, C", parseAnswer(quiz.Question{Type: quiz.ShortText}, "A, C").Value)

	assert.Equal(t, "00:00", clockFace(-3))
	assert.Equal(t, "01:05", clockFace(65))
	assert.Equal(t, "1:00:01", clockFace(3601))
}

func TestPlayerUserFollowsToken(t *testing.T) {
	log, _ := test.NewNullLogger()
	tok, err := auth.NewAuthService("server-secret").IssueJWT("ana", "student")
	require.NoError(t, err)

	assert.Equal(t, "ana", playerUser(config.Config{UserID: "student", APIToken: tok}, log))
	assert.Equal(t, "bo", playerUser(config.Config{UserID: "bo"}, log))
	assert.Equal(t, "bo", playerUser(config.Config{UserID: "bo", APIToken: "garbage"}, log))
}

func TestOpenSnapshotsClosesOnUnknownDriver(t *testing.T) {
	_, closeBackend, err := openSnapshots(context.Background(), config.Config{SnapshotDriver: "tape"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tape")
	assert.NotPanics(t, closeBackend)
}

func TestRealMainExitCodes(t *testing.T) {
	args := os.Args
	t.Cleanup(func() { os.Args = args })

	os.Args = []string{"quizplay"}
	assert.Equal(t, 2, realMain())

	t.Setenv("SNAPSHOT_DRIVER", "tape")
	t.Setenv("LOG_LEVEL", "panic")
	os.Args = []string{"quizplay", "cells"}
	assert.Equal(t, 1, realMain())
}
