package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/mindengage-quiz/internal/auth/middleware"
	"github.com/mind-engage/mindengage-quiz/internal/exam"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
	"github.com/mind-engage/mindengage-quiz/internal/rbac"
)

// POST /quizzes/{quizID}/attempts[?fresh=true]
func StartAttemptHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh"))
		a, err := d.Service.StartAttempt(r.Context(), chi.URLParam(r, "quizID"), authmw.SubjectFromContext(r.Context()), fresh)
		if err != nil {
			respondError(w, r, d.Log, err)
			return
		}
		respondJSON(w, http.StatusCreated, a.Summary())
	}
}

// POST /quizzes/{quizID}/attempts/{attemptID}/answers
func SubmitAnswerHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req quiz.SubmittedAnswer
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.QuestionID) == "" {
			http.Error(w, "question_id required", http.StatusBadRequest)
			return
		}
		fb, err := d.Service.SubmitAnswer(r.Context(),
			chi.URLParam(r, "quizID"), chi.URLParam(r, "attemptID"),
			authmw.SubjectFromContext(r.Context()), req.QuestionID, req.Answer)
		if err != nil {
			respondError(w, r, d.Log, err)
			return
		}
		respondJSON(w, http.StatusOK, fb)
	}
}

// POST /quizzes/{quizID}/attempts/{attemptID}/submit  {"answers":[...]}
func SubmitAttemptHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Answers []quiz.SubmittedAnswer `json:"answers"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "bad json", http.StatusBadRequest)
				return
			}
		}
		res, err := d.Service.SubmitAttempt(r.Context(),
			chi.URLParam(r, "quizID"), chi.URLParam(r, "attemptID"),
			authmw.SubjectFromContext(r.Context()), req.Answers)
		if err != nil {
			respondError(w, r, d.Log, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
	}
}

// POST /quizzes/{quizID}/attempts/{attemptID}/finalize
func FinalizeAttemptHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := d.Service.FinalizeAttempt(r.Context(),
			chi.URLParam(r, "quizID"), chi.URLParam(r, "attemptID"),
			authmw.SubjectFromContext(r.Context()))
		if err != nil {
			respondError(w, r, d.Log, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
	}
}

// GET /attempts/{attemptID}
// Callers without attempt:view-all only see their own attempts.
func GetAttemptHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "attemptID")
		a, err := d.Service.GetAttempt(r.Context(), id)
		if err != nil {
			respondError(w, r, d.Log, err)
			return
		}
		if !rbac.Allowed(rbac.RoleFromContext(r.Context()), rbac.AttemptViewAll) &&
			a.UserID != authmw.SubjectFromContext(r.Context()) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		res, err := d.Service.GetResult(r.Context(), id)
		if err != nil {
			respondError(w, r, d.Log, err)
			return
		}
		respondJSON(w, http.StatusOK, res)
	}
}

// GET /attempts?quiz_id=...&user_id=...&status=...&limit=50&offset=0
// Callers without attempt:view-all are scoped to their own attempts.
func ListAttemptsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		userID := strings.TrimSpace(q.Get("user_id"))
		if !rbac.Allowed(rbac.RoleFromContext(r.Context()), rbac.AttemptViewAll) {
			userID = authmw.SubjectFromContext(r.Context())
		}
		list, err := d.Service.ListAttempts(r.Context(), exam.AttemptListOpts{
			QuizID: strings.TrimSpace(q.Get("quiz_id")),
			UserID: userID,
			Status: strings.TrimSpace(q.Get("status")),
			Limit:  parseIntDefault(q.Get("limit"), 50),
			Offset: parseIntDefault(q.Get("offset"), 0),
		})
		if err != nil {
			respondError(w, r, d.Log, err)
			return
		}
		if list == nil {
			list = []exam.Attempt{}
		}
		respondJSON(w, http.StatusOK, list)
	}
}

type applyGradesReq struct {
	Items map[string]exam.ManualGradeInput `json:"items"` // question_id -> grade
}

// POST /attempts/{attemptID}/review
func ReviewAttemptHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req applyGradesReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Items) == 0 {
			http.Error(w, "items required", http.StatusBadRequest)
			return
		}
		a, err := d.Service.ApplyManualGrades(r.Context(), chi.URLParam(r, "attemptID"), req.Items, authmw.SubjectFromContext(r.Context()))
		if err != nil {
			respondError(w, r, d.Log, err)
			return
		}
		respondJSON(w, http.StatusOK, a)
	}
}
