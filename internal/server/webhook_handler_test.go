package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"strategyexecutor/internal/model"
	"strategyexecutor/internal/scheduler"
)

type memConnectorStore struct {
	connector *model.WebhookConnector
	ledger    map[string]model.ID
}

func (m *memConnectorStore) ByToken(_ context.Context, token string) (*model.WebhookConnector, error) {
	if m.connector != nil && m.connector.Token == token {
		return m.connector, nil
	}
	return nil, nil
}

func (m *memConnectorStore) RecordDelivery(_ context.Context, _ model.ID, payloadHash string, strategyRunID model.ID, _ time.Time, _ time.Duration) (model.ID, bool, error) {
	if existing, ok := m.ledger[payloadHash]; ok {
		return existing, true, nil
	}
	m.ledger[payloadHash] = strategyRunID
	return strategyRunID, false, nil
}

type recordingTrigger struct {
	fired int
}

func (r *recordingTrigger) TriggerStrategyRun(_ context.Context, _, _ model.ID, _ map[string]any) error {
	r.fired++
	return nil
}

func webhookRouter(store *memConnectorStore, trigger *recordingTrigger) http.Handler {
	ingress := scheduler.NewIngress(store, trigger, time.Minute, testLog())
	r := chi.NewRouter()
	r.Post("/webhooks/{connector_token}", WebhookHandler(WebhookDeps{Ingress: ingress}, testLog()))
	return r
}

func TestWebhookHandler_DuplicateDeliveryConflicts(t *testing.T) {
	store := &memConnectorStore{
		connector: &model.WebhookConnector{
			ID:         model.NewID(),
			Token:      "tok-123",
			StrategyID: model.NewID(),
			Enabled:    true,
		},
		ledger: map[string]model.ID{},
	}
	trigger := &recordingTrigger{}
	router := webhookRouter(store, trigger)

	body := []byte(`{"symbol":"NIFTY","lots":2}`)

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/webhooks/tok-123", bytes.NewReader(body)))
	require.Equal(t, http.StatusAccepted, first.Code)
	require.Equal(t, 1, trigger.fired)

	var accepted struct {
		StrategyRunID model.ID `json:"strategy_run_id"`
	}
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &accepted))

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/webhooks/tok-123", bytes.NewReader(body)))
	require.Equal(t, http.StatusConflict, second.Code)
	require.Equal(t, 1, trigger.fired, "duplicate delivery must not fire a second StrategyRun")

	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &envelope))
	require.Equal(t, "CONFLICT", envelope.Error.Code)
	require.Equal(t, accepted.StrategyRunID.String(), envelope.Error.Details["strategy_run_id"])
}

func TestWebhookHandler_UnknownTokenUnauthorized(t *testing.T) {
	store := &memConnectorStore{ledger: map[string]model.ID{}}
	router := webhookRouter(store, &recordingTrigger{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/nope", bytes.NewReader([]byte(`{}`))))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookHandler_DisabledConnectorConflicts(t *testing.T) {
	store := &memConnectorStore{
		connector: &model.WebhookConnector{ID: model.NewID(), Token: "tok-off", Enabled: false},
		ledger:    map[string]model.ID{},
	}
	router := webhookRouter(store, &recordingTrigger{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/tok-off", bytes.NewReader([]byte(`{}`))))
	require.Equal(t, http.StatusConflict, rec.Code)
}
