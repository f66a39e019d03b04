package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/traceomatic/traceomatic/pkg/jobstore"
	"github.com/traceomatic/traceomatic/pkg/submit"
	"github.com/traceomatic/traceomatic/pkg/testid"
)

// statusResponse is the polling endpoint payload. Every failure path
// degrades to this shape; the poller never sees a protocol-level error.
type statusResponse struct {
	Heading string `json:"heading"`
	Status  string `json:"status"`
	Done    bool   `json:"done"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSubmit accepts the submission form, creates and enqueues the
// test, and redirects to its results page.
func (s *server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, http.StatusBadRequest, "Error with test request")

		return
	}

	req := &submit.Request{
		URL:        r.PostFormValue("url"),
		Runs:       r.PostFormValue("runs"),
		CL:         r.PostFormValue("cl"),
		Rebuild:    r.PostFormValue("rebuild") != "",
		Clear:      r.PostFormValue("clear") != "",
		Video:      r.PostFormValue("video") != "",
		CPU:        r.PostFormValue("cpu") != "",
		Categories: r.PostForm["categories[]"],
	}

	info, err := s.submitter.Submit(r.Context(), req)
	if err != nil {
		var verr *submit.ValidationError
		if errors.As(err, &verr) {
			s.renderError(w, http.StatusBadRequest, "Error with test request")

			return
		}

		// Storage or queue failure. The caller is told the submission
		// failed either way; a queue failure leaves the record on disk
		// for the reconciliation sweep.
		s.log.WithError(err).Error("Submission failed")
		s.renderError(
			w, http.StatusInternalServerError, "Test submission failed",
		)

		return
	}

	http.Redirect(
		w, r, "/results?test="+info.ID, http.StatusFound,
	)
}

// handleStatus is the polling endpoint: a thin read-through to the
// status resolver, never cacheable, never failing.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statusPolls.Inc()

	w.Header().Set(
		"Cache-Control", "no-store, no-cache, must-revalidate, max-age=0",
	)

	resp := statusResponse{Heading: "Error"}

	id := r.URL.Query().Get("test")

	switch {
	case id == "":
		resp.Status = "Invalid test"
	case !testid.Valid(id):
		resp.Status = "Invalid test ID"
	default:
		status := s.store.Resolve(id)
		if status.State == jobstore.StateInvalid {
			// Malformed and nonexistent ids read the same so probing
			// cannot tell them apart.
			resp.Status = "Test not found"
		} else {
			resp = statusResponse{
				Heading: status.Heading,
				Status:  status.Message,
				Done:    status.Done,
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleListTests returns the most recently submitted tests from the
// index.
func (s *server) handleListTests(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeJSON(w, http.StatusBadRequest,
				map[string]string{"error": "invalid limit"})

			return
		}

		limit = n
	}

	tests, err := s.indexStore.ListRecent(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("Failed to list tests")
		writeJSON(w, http.StatusInternalServerError,
			map[string]string{"error": "listing tests"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tests": tests})
}
