package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/switchboard/model"
)

func handleListConnectors(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"data": svc.Connectors()})
	}
}

func handleToggleConnector(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "connectorId")
		enabled, err := svc.ToggleConnector(id)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
	}
}

func handleExecuteConnector(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connectorID := chi.URLParam(r, "connectorId")

		var body struct {
			Action  string          `json:"action"`
			Params  map[string]any  `json:"params"`
			Context *invocationBody `json:"context"`
		}
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}
		if body.Action == "" {
			WriteError(w, model.NewBadRequestError("action is required"))
			return
		}

		ictx := body.Context.apply(svc.InvocationContext(""))
		WriteResponse(w, svc.Execute(r.Context(), connectorID, body.Action, body.Params, ictx))
	}
}
