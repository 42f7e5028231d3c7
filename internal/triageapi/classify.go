package triageapi

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/pawcketvet/internal/triage"
)

type questionnaireResponse struct {
	Questions  []triage.Question `json:"questions"`
	Thresholds triage.Thresholds `json:"thresholds"`
}

func (a *API) handleQuestionnaire(w http.ResponseWriter, _ *http.Request) {
	q := a.svc.Questionnaire()
	writeJSON(w, http.StatusOK, questionnaireResponse{
		Questions:  q.Questions,
		Thresholds: q.Thresholds,
	})
}

type classifyRequest struct {
	Answers map[string]int `json:"answers"`
}

func (a *API) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	res, err := a.svc.Classify(r.Context(), req.Answers)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to classify answers")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("pawcketvet.triage.tier", string(res.Tier)),
		attribute.Int("pawcketvet.triage.total", res.Total),
	)
	writeJSON(w, http.StatusOK, res)
}
