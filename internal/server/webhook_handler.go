package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/scheduler"
)

// WebhookDeps wires the Scheduler & Webhook Ingress behind the
// inbound connector HTTP surface.
type WebhookDeps struct {
	Ingress *scheduler.Ingress
}

// WebhookHandler authenticates an inbound webhook by its connector
// token, dedupes the delivery and triggers the bound StrategyRun.
func WebhookHandler(deps WebhookDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "connector_token")

		var payload map[string]any
		decoder := json.NewDecoder(r.Body)
		if err := decoder.Decode(&payload); err != nil {
			badRequest(w, "invalid payload")
			return
		}

		delivery, err := deps.Ingress.Handle(r.Context(), token, payload, time.Now())
		if err != nil {
			switch {
			case errors.Is(err, scheduler.ErrUnauthorized):
				unauthorized(w)
			case errors.Is(err, scheduler.ErrConnectorDown):
				writeError(w, http.StatusConflict, "CONFLICT", "connector is disabled", nil)
			default:
				internalError(w, log, "webhook ingress failed", err)
			}
			return
		}

		if delivery.Duplicate {
			writeError(w, http.StatusConflict, "CONFLICT", "duplicate delivery inside idempotency window",
				map[string]any{"strategy_run_id": delivery.StrategyRunID})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"strategy_run_id": delivery.StrategyRunID,
		})
	}
}
