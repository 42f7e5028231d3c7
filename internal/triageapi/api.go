// Package triageapi exposes the triage service over HTTP.
package triageapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/pawcketvet/internal/authmw"
	"github.com/linnemanlabs/pawcketvet/internal/triage"
)

// maxBodyBytes bounds request bodies; every payload here is a few hundred bytes.
const maxBodyBytes = 64 << 10

// TriageService defines the business operations triageapi needs.
type TriageService interface {
	Questionnaire() *triage.Questionnaire
	Start(ctx context.Context, ownerID, petName string) (*triage.Session, error)
	Get(ctx context.Context, id string) (*triage.Session, error)
	List(ctx context.Context, f triage.ListFilter) ([]*triage.Session, error)
	Answer(ctx context.Context, id, questionID string, option int) (*triage.Session, error)
	Restart(ctx context.Context, id string) (*triage.Session, error)
	Classify(ctx context.Context, choices map[string]int) (*triage.Result, error)
	Stats(ctx context.Context, since time.Time) (*triage.Stats, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      TriageService
	verifier *authmw.Verifier
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService, verifier *authmw.Verifier) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	if verifier == nil {
		panic(xerrors.New("token verifier is required"))
	}
	return &API{
		logger:   logger,
		svc:      svc,
		verifier: verifier,
	}
}

// RegisterRoutes attaches API endpoints to the router. The questionnaire and
// one-shot classification are public; everything touching a stored session
// requires a bearer token.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/questionnaire", a.handleQuestionnaire)
		r.Post("/triage/classify", a.handleClassify)

		r.Group(func(r chi.Router) {
			r.Use(authmw.Authenticate(a.verifier))

			r.Get("/auth/session", a.handleAuthSession)

			r.Post("/sessions", a.handleStartSession)
			r.Get("/sessions", a.handleListSessions)
			r.Get("/sessions/{id}", a.handleGetSession)
			r.Post("/sessions/{id}/answers", a.handleAnswer)
			r.Post("/sessions/{id}/restart", a.handleRestart)

			r.With(authmw.RequireRole(authmw.RoleStaff)).Get("/stats", a.handleStats)
		})
	})
}

func (a *API) handleAuthSession(w http.ResponseWriter, r *http.Request) {
	p, ok := authmw.FromContext(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeServiceError maps triage errors onto HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string, kv ...any) {
	switch {
	case errors.Is(err, triage.ErrNotFound):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	case errors.Is(err, triage.ErrIncomplete):
		http.Error(w, `{"error":"incomplete answer set"}`, http.StatusUnprocessableEntity)
	case errors.Is(err, triage.ErrSessionCompleted):
		http.Error(w, `{"error":"session already completed"}`, http.StatusConflict)
	case errors.Is(err, triage.ErrOutOfOrder):
		http.Error(w, `{"error":"question answered out of order"}`, http.StatusConflict)
	case errors.Is(err, triage.ErrConflict):
		http.Error(w, `{"error":"session modified concurrently, retry"}`, http.StatusConflict)
	case errors.Is(err, triage.ErrUnknownQuestion):
		http.Error(w, `{"error":"unknown question"}`, http.StatusBadRequest)
	case errors.Is(err, triage.ErrInvalidOption):
		http.Error(w, `{"error":"invalid option"}`, http.StatusBadRequest)
	case errors.Is(err, triage.ErrDuplicateAnswer):
		http.Error(w, `{"error":"duplicate answer"}`, http.StatusBadRequest)
	default:
		a.logger.Error(r.Context(), err, msg, kv...)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}
