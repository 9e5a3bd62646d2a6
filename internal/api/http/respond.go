package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mind-engage/mindengage-quiz/internal/config"
	"github.com/mind-engage/mindengage-quiz/internal/exam"
	"github.com/mind-engage/mindengage-quiz/internal/quiz"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// respondError maps service errors onto status codes. Anything unknown is
// logged and reported as a 500 without its details.
func respondError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, exam.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, exam.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, exam.ErrAttemptClosed),
		errors.Is(err, exam.ErrAttemptOpen),
		errors.Is(err, exam.ErrAttemptLimit),
		errors.Is(err, exam.ErrIncomplete),
		errors.Is(err, exam.ErrFeedbackDisabled):
		status = http.StatusConflict
	case errors.Is(err, exam.ErrInvalidGrade),
		errors.Is(err, quiz.ErrUnknownQuestion):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		config.WithContext(r.Context(), log).WithError(err).WithField("path", r.URL.Path).Error("request failed")
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return def
}
