package triageapi

import (
	"net/http"
	"time"
)

func parseSince(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := parseSince(raw)
		if err != nil {
			http.Error(w, `{"error":"invalid since, want RFC3339"}`, http.StatusBadRequest)
			return
		}
		since = t
	}

	st, err := a.svc.Stats(r.Context(), since)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
