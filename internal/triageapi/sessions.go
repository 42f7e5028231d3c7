package triageapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/pawcketvet/internal/authmw"
	"github.com/linnemanlabs/pawcketvet/internal/triage"
)

const maxPetNameLen = 100

type progress struct {
	Answered int `json:"answered"`
	Total    int `json:"total"`
}

// sessionView is a session plus what the client needs to render the next step.
type sessionView struct {
	Session         *triage.Session  `json:"session"`
	CurrentQuestion *triage.Question `json:"current_question"`
	Progress        progress         `json:"progress"`
}

func (a *API) view(sess *triage.Session) sessionView {
	q := a.svc.Questionnaire()
	v := sessionView{
		Session:  sess,
		Progress: progress{Answered: len(sess.Answers), Total: len(q.Questions)},
	}
	if next, ok := sess.Next(q); ok {
		v.CurrentQuestion = &next
	}
	return v
}

type startRequest struct {
	PetName string `json:"pet_name"`
}

func (a *API) handleStartSession(w http.ResponseWriter, r *http.Request) {
	p, _ := authmw.FromContext(r.Context())

	var req startRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
			return
		}
	}
	req.PetName = strings.TrimSpace(req.PetName)
	if len(req.PetName) > maxPetNameLen {
		http.Error(w, `{"error":"pet_name too long"}`, http.StatusBadRequest)
		return
	}

	sess, err := a.svc.Start(r.Context(), p.Subject, req.PetName)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to start session", "owner_id", p.Subject)
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("pawcketvet.session.id", sess.ID))
	writeJSON(w, http.StatusCreated, a.view(sess))
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	p, _ := authmw.FromContext(r.Context())

	f := triage.ListFilter{OwnerID: p.Subject}
	q := r.URL.Query()
	if p.IsStaff() {
		f.OwnerID = q.Get("owner")
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > triage.DefaultListLimit {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		f.Limit = n
	}
	if raw := q.Get("since"); raw != "" {
		since, err := parseSince(raw)
		if err != nil {
			http.Error(w, `{"error":"invalid since, want RFC3339"}`, http.StatusBadRequest)
			return
		}
		f.Since = since
	}

	sessions, err := a.svc.List(r.Context(), f)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*triage.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// loadSession fetches the session in the URL and enforces ownership. It
// writes the error response and returns false when the caller must stop.
func (a *API) loadSession(w http.ResponseWriter, r *http.Request) (*triage.Session, bool) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("pawcketvet.session.id", id))

	sess, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to get session", "session_id", id)
		return nil, false
	}
	if !canAccess(r, sess) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

// canAccess reports whether the request principal may see sess. Sessions of
// other owners are reported as missing rather than forbidden.
func canAccess(r *http.Request, sess *triage.Session) bool {
	p, ok := authmw.FromContext(r.Context())
	if !ok {
		return false
	}
	return p.IsStaff() || sess.OwnerID == p.Subject
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.loadSession(w, r)
	if !ok {
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("pawcketvet.session.state", string(sess.State)))
	writeJSON(w, http.StatusOK, a.view(sess))
}

type answerRequest struct {
	QuestionID string `json:"question_id"`
	Option     *int   `json:"option"`
}

func (a *API) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if req.QuestionID == "" || req.Option == nil {
		http.Error(w, `{"error":"question_id and option are required"}`, http.StatusBadRequest)
		return
	}

	cur, ok := a.loadSession(w, r)
	if !ok {
		return
	}
	id := cur.ID

	sess, err := a.svc.Answer(r.Context(), id, req.QuestionID, *req.Option)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to record answer", "session_id", id, "question_id", req.QuestionID)
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("pawcketvet.session.state", string(sess.State)))
	if sess.Result != nil {
		span.SetAttributes(attribute.String("pawcketvet.triage.tier", string(sess.Result.Tier)))
	}
	writeJSON(w, http.StatusOK, a.view(sess))
}

func (a *API) handleRestart(w http.ResponseWriter, r *http.Request) {
	cur, ok := a.loadSession(w, r)
	if !ok {
		return
	}
	id := cur.ID

	sess, err := a.svc.Restart(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to restart session", "session_id", id)
		return
	}
	writeJSON(w, http.StatusOK, a.view(sess))
}
