package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/switchboard/internal/workflow"
	"github.com/pitabwire/switchboard/model"
)

func handleListApprovals(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"data": svc.PendingApprovals()})
	}
}

func handleResolveApproval(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runId")
		stepID := chi.URLParam(r, "stepId")

		var body struct {
			Approved *bool  `json:"approved"`
			Comment  string `json:"comment"`
		}
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}
		if body.Approved == nil {
			WriteError(w, model.NewBadRequestError("approved is required"))
			return
		}

		by := Subject(r.Context())
		if by == "" {
			by = "api"
		}
		d := workflow.Decision{Approved: *body.Approved, By: by, Comment: body.Comment}
		if err := svc.ResolveApproval(runID, stepID, d); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"runId":    runID,
			"stepId":   stepID,
			"approved": d.Approved,
			"by":       d.By,
		})
	}
}
