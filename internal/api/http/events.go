package http

import (
	"net/http"
	"strconv"
	"strings"

	syncx "github.com/mind-engage/mindengage-quiz/internal/sync"
)

// GET /events?q=...&after=0&limit=100
// Audit search over the attempt lifecycle log, oldest first. Page forward
// with after set to the last seq seen.
func ListEventsHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Events == nil {
			respondJSON(w, http.StatusOK, []syncx.Event{})
			return
		}
		after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)
		out, err := d.Events.List(r.Context(), syncx.ListOpts{
			AfterSeq: after,
			Query:    strings.TrimSpace(r.URL.Query().Get("q")),
			Limit:    parseIntDefault(r.URL.Query().Get("limit"), 100),
		})
		if err != nil {
			respondError(w, r, d.Log, err)
			return
		}
		if out == nil {
			out = []syncx.Event{}
		}
		respondJSON(w, http.StatusOK, out)
	}
}
