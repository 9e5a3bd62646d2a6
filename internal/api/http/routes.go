package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	authmw "github.com/mind-engage/mindengage-quiz/internal/auth/middleware"
	"github.com/mind-engage/mindengage-quiz/internal/exam"
	"github.com/mind-engage/mindengage-quiz/internal/rbac"
	syncx "github.com/mind-engage/mindengage-quiz/internal/sync"
)

type Deps struct {
	Service *exam.Service
	Events  syncx.Log
	Auth    *authmw.AuthService
	Login   authmw.LoginOptions
	Log     logrus.FieldLogger
	// Ready backs /readyz, typically a DB ping. Nil means always ready.
	Ready func(ctx context.Context) error
}

// Mount wires the quiz API onto r.
func Mount(r chi.Router, d Deps) {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}

	r.Post("/auth/login", authmw.LoginHandler(d.Auth, d.Login))

	// Protected API (JWT → subject and role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(authmw.JWTMiddleware(d.Auth))

		pr.With(rbac.Require(rbac.QuizCreate)).Post("/quizzes", CreateQuizHandler(d))
		pr.With(rbac.Require(rbac.QuizView)).Get("/quizzes", ListQuizzesHandler(d))
		pr.With(rbac.Require(rbac.QuizCreate)).Get("/quizzes/{quizID}", GetQuizHandler(d))
		pr.With(rbac.Require(rbac.QuizView)).Get("/quizzes/{quizID}/take", GetQuizForTakingHandler(d))

		// Student flow
		pr.Route("/quizzes/{quizID}/attempts", func(ar chi.Router) {
			ar.With(rbac.Require(rbac.AttemptCreate)).Post("/", StartAttemptHandler(d))
			ar.With(rbac.Require(rbac.AttemptAnswer)).Post("/{attemptID}/answers", SubmitAnswerHandler(d))
			ar.With(rbac.Require(rbac.AttemptSubmit)).Post("/{attemptID}/submit", SubmitAttemptHandler(d))
			ar.With(rbac.Require(rbac.AttemptSubmit)).Post("/{attemptID}/finalize", FinalizeAttemptHandler(d))
		})

		pr.With(rbac.RequireAny(rbac.AttemptViewOwn, rbac.AttemptViewAll)).
			Get("/attempts", ListAttemptsHandler(d))
		pr.With(rbac.RequireAny(rbac.AttemptViewOwn, rbac.AttemptViewAll)).
			Get("/attempts/{attemptID}", GetAttemptHandler(d))
		pr.With(rbac.Require(rbac.AttemptGrade)).
			Post("/attempts/{attemptID}/review", ReviewAttemptHandler(d))

		pr.With(rbac.Require(rbac.EventsView)).Get("/events", ListEventsHandler(d))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
}
