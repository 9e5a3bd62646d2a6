package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/mindengage-quiz/internal/auth/middleware"
	"github.com/mind-engage/mindengage-quiz/internal/exam"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
)

// POST /quizzes
func CreateQuizHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var qz quiz.Quiz
		if err := json.NewDecoder(r.Body).Decode(&qz); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if rep := quiz.ValidateDefinition(qz); rep.Blocking() {
			respondJSON(w, http.StatusBadRequest, rep)
			return
		}
		if err := d.Service.PutQuiz(r.Context(), qz); err != nil {
			respondError(w, r, d.Log, err)
			return
		}
		respondJSON(w, http.StatusCreated, map[string]string{"status": "ok", "id": qz.ID})
	}
}

// GET /quizzes?q=...&limit=50&offset=0
func ListQuizzesHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := d.Service.ListQuizzes(r.Context(), exam.ListOpts{
			Q:      strings.TrimSpace(r.URL.Query().Get("q")),
			Limit:  parseIntDefault(r.URL.Query().Get("limit"), 50),
			Offset: parseIntDefault(r.URL.Query().Get("offset"), 0),
		})
		if err != nil {
			respondError(w, r, d.Log, err)
			return
		}
		respondJSON(w, http.StatusOK, list)
	}
}

// GET /quizzes/{quizID} returns the definition with answer keys, for authors.
func GetQuizHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qz, err := d.Service.GetQuiz(r.Context(), chi.URLParam(r, "quizID"))
		if err != nil {
			respondError(w, r, d.Log, err)
			return
		}
		respondJSON(w, http.StatusOK, qz)
	}
}

// GET /quizzes/{quizID}/take
func GetQuizForTakingHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ft, err := d.Service.GetQuizForTaking(r.Context(), chi.URLParam(r, "quizID"), authmw.SubjectFromContext(r.Context()))
		if err != nil {
			respondError(w, r, d.Log, err)
			return
		}
		respondJSON(w, http.StatusOK, ft)
	}
}
