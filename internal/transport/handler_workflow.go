package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/switchboard/internal/workflow"
)

func handleListWorkflows(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"data": svc.Workflows()})
	}
}

func handleToggleWorkflow(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "workflowId")
		enabled, err := svc.ToggleWorkflow(id)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
	}
}

func handleRunWorkflow(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workflowID := chi.URLParam(r, "workflowId")

		var body struct {
			Variables map[string]any  `json:"variables"`
			Context   *invocationBody `json:"context"`
		}
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}

		ictx := body.Context.apply(svc.InvocationContext(""))
		key := r.Header.Get("Idempotency-Key")
		WriteResponse(w, svc.RunWorkflowOnce(r.Context(), key, workflowID, body.Variables, ictx))
	}
}

func handleGetRun(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := svc.Run(r.Context(), chi.URLParam(r, "runId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, run)
	}
}

func handleListRuns(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters := workflow.RunFilters{
			WorkflowID: r.URL.Query().Get("workflow_id"),
			Status:     r.URL.Query().Get("status"),
			Limit:      queryInt(r, "limit", 20),
			Offset:     queryInt(r, "offset", 0),
		}

		runs, err := svc.Runs(r.Context(), filters)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":   runs,
			"limit":  filters.Limit,
			"offset": filters.Offset,
		})
	}
}
