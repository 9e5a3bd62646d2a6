package quizclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	api "github.com/mind-engage/mindengage-quiz/internal/api/http"
	authmw "github.com/mind-engage/mindengage-quiz/internal/auth/middleware"
	"github.com/mind-engage/mindengage-quiz/internal/exam"
	"github.com/mind-engage/mindengage-quiz/internal/player"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/snapshot"
)

var _ player.QuizService = (*Client)(nil)

func testQuiz() quiz.Quiz {
	limit := 10
	return quiz.Quiz{
		ID: "cells", Title: "Cells", PassingScore: 50, TimeLimit: &limit, InstantFeedbackEnabled: true,
		Questions: []quiz.Question{
			{ID: "q1", Type: quiz.MultipleChoice, Question: "Powerhouse?", Options: []string{"A", "B"}, CorrectAnswer: "A", Points: 1, Explanation: "mitochondria"},
			{ID: "q2", Type: quiz.MultipleSelect, Question: "Organelles?", Options: []string{"A", "B", "C"}, CorrectAnswer: `["A","C"]`, Points: 2},
		},
	}
}

func newServer(t *testing.T) (*httptest.Server, *authmw.AuthService) {
	t.Helper()
	log, _ := test.NewNullLogger()
	svc := exam.NewService(exam.NewInMemoryStore(), exam.WithLogger(log))
	require.NoError(t, svc.PutQuiz(context.Background(), testQuiz()))
	final := testQuiz()
	final.ID, final.QuizType, final.InstantFeedbackEnabled = "cells-final", quiz.QuizTypeFinal, false
	require.NoError(t, svc.PutQuiz(context.Background(), final))
	a := authmw.NewAuthService("test")
	r := chi.NewRouter()
	api.Mount(r, api.Deps{Service: svc, Auth: a, Log: log})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, a
}

func newClient(t *testing.T, srv *httptest.Server, a *authmw.AuthService, user string) *Client {
	tok, err := a.IssueJWT(user, "student")
	require.NoError(t, err)
	log, _ := test.NewNullLogger()
	return New(srv.URL+"/", tok, WithHTTPClient(srv.Client()), WithLogger(log))
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv, a := newServer(t)
	c := newClient(t, srv, a, "ana")

	ft, err := c.GetQuizForTaking(ctx, "cells")
	require.NoError(t, err)
	require.Len(t, ft.Quiz.Questions, 2)
	assert.Empty(t, ft.Quiz.Questions[0].CorrectAnswer)

	id, err := c.StartAttempt(ctx, "cells", false)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	fb, err := c.SubmitAnswer(ctx, "cells", id, "q2", quiz.Multi("A", "C"))
	require.NoError(t, err)
	require.NotNil(t, fb.IsCorrect)
	assert.True(t, *fb.IsCorrect)
	assert.Equal(t, 2, fb.PointsEarned)

	_, err = c.FinalizeAttempt(ctx, "cells", id)
	assert.Equal(t, http.StatusConflict, StatusOf(err))

	res, err := c.SubmitAttempt(ctx, "cells", id, []quiz.SubmittedAnswer{{QuestionID: "q1", Answer: quiz.Single("B")}})
	require.NoError(t, err)
	assert.Equal(t, 67, res.Score)
	assert.True(t, res.Passed)
	assert.Equal(t, id, res.AttemptID)

	_, err = c.SubmitAttempt(ctx, "cells", id, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, StatusOf(err))
	assert.Contains(t, err.Error(), "already submitted")
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	srv, a := newServer(t)

	_, err := newClient(t, srv, a, "ana").GetQuizForTaking(ctx, "missing")
	assert.Equal(t, http.StatusNotFound, StatusOf(err))

	_, err = New(srv.URL, "", WithHTTPClient(srv.Client())).StartAttempt(ctx, "cells", false)
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))

	c := newClient(t, srv, a, "ana")
	id, err := c.StartAttempt(ctx, "cells-final", false)
	require.NoError(t, err)
	fb, err := c.SubmitAnswer(ctx, "cells-final", id, "q1", quiz.Single("B"))
	assert.Equal(t, http.StatusConflict, StatusOf(err))
	assert.Empty(t, fb.CorrectAnswer)

	_, err = New("http://127.0.0.1:0", "x").GetQuizForTaking(ctx, "cells")
	require.Error(t, err)
	assert.Zero(t, StatusOf(err))
}

// A player machine driven over HTTP: practice feedback comes back confirmed
// by the server and the final submit closes the remote attempt.
func TestMachineOverHTTP(t *testing.T) {
	ctx := context.Background()
	srv, a := newServer(t)
	c := newClient(t, srv, a, "ana")
	log, _ := test.NewNullLogger()
	clk := clocktesting.NewFakeClock(time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC))

	done := make(chan player.Results, 1)
	m := player.New(player.Config{QuizID: "cells", UserID: "ana", Clock: clk, Logger: log},
		player.Deps{Service: c, Store: snapshot.NewStore(snapshot.NewMemoryBackend(), snapshot.WithLogger(log))},
		player.Callbacks{OnQuizComplete: func(r player.Results) { done <- r }})
	t.Cleanup(func() { m.Close(ctx) })

	require.NoError(t, m.Mount(ctx))
	require.Equal(t, player.PhaseModeSelection, m.State().Phase)
	require.NoError(t, m.ChooseMode(ctx, quiz.ModePractice))
	st := m.State()
	require.NotEmpty(t, st.AttemptID)

	require.NoError(t, m.AnswerQuestion(ctx, "q1", quiz.Single("A")))
	fb := m.State().Feedback["q1"]
	assert.True(t, fb.Confirmed)
	assert.Equal(t, "mitochondria", fb.Explanation)

	require.NoError(t, m.AnswerQuestion(ctx, "q2", quiz.Multi("A")))
	require.NoError(t, m.SubmitQuiz(ctx))

	select {
	case r := <-done:
		assert.Equal(t, st.AttemptID, r.AttemptID)
		// q1 1/1, q2 half credit 1/2
		assert.Equal(t, 67, r.Score)
		assert.False(t, r.Local)
	case <-time.After(5 * time.Second):
		t.Fatal("quiz never completed")
	}
	assert.Equal(t, player.PhaseCompleted, m.State().Phase)
}

// Practice answers graded on the server must not carry over when the player
// restarts from a saved session in exam mode.
func TestRestartOverHTTPStartsCleanAttempt(t *testing.T) {
	ctx := context.Background()
	srv, a := newServer(t)
	c := newClient(t, srv, a, "ana")
	log, _ := test.NewNullLogger()
	clk := clocktesting.NewFakeClock(time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC))
	store := snapshot.NewStore(snapshot.NewMemoryBackend(), snapshot.WithLogger(log))
	cfg := player.Config{QuizID: "cells", UserID: "ana", Clock: clk, Logger: log}

	first := player.New(cfg, player.Deps{Service: c, Store: store}, player.Callbacks{})
	require.NoError(t, first.Mount(ctx))
	require.NoError(t, first.ChooseMode(ctx, quiz.ModePractice))
	practiceID := first.State().AttemptID
	require.NoError(t, first.AnswerQuestion(ctx, "q1", quiz.Single("A")))
	require.NoError(t, first.AnswerQuestion(ctx, "q2", quiz.Multi("A", "C")))
	first.Close(ctx)
	require.NotNil(t, store.Load(ctx, "ana", "cells"))

	done := make(chan player.Results, 1)
	second := player.New(cfg, player.Deps{Service: c, Store: store},
		player.Callbacks{OnQuizComplete: func(r player.Results) { done <- r }})
	t.Cleanup(func() { second.Close(ctx) })
	require.NoError(t, second.Mount(ctx))
	require.Equal(t, player.PhaseResumePending, second.State().Phase)
	require.NoError(t, second.Restart(ctx, quiz.ModeExam))
	examID := second.State().AttemptID
	assert.NotEqual(t, practiceID, examID)

	require.NoError(t, second.SubmitQuiz(ctx))
	select {
	case r := <-done:
		assert.Equal(t, examID, r.AttemptID)
		assert.Zero(t, r.Score)
		assert.False(t, r.Passed)
		assert.Empty(t, r.Graded)
	case <-time.After(5 * time.Second):
		t.Fatal("quiz never completed")
	}

	_, err := c.SubmitAttempt(ctx, "cells", practiceID, nil)
	assert.Equal(t, http.StatusConflict, StatusOf(err), "the practice attempt was abandoned")
}
