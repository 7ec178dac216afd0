package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"strategyexecutor/internal/model"
)

type fakeConnectorStore struct {
	connector  *model.WebhookConnector
	deliveries map[string]model.ID
}

func (f *fakeConnectorStore) ByToken(_ context.Context, token string) (*model.WebhookConnector, error) {
	if f.connector == nil || f.connector.Token != token {
		return nil, nil
	}
	return f.connector, nil
}

func (f *fakeConnectorStore) RecordDelivery(_ context.Context, connectorID model.ID, hash string, candidate model.ID, _ time.Time, _ time.Duration) (model.ID, bool, error) {
	if f.deliveries == nil {
		f.deliveries = map[string]model.ID{}
	}
	key := connectorID.String() + ":" + hash
	if existing, ok := f.deliveries[key]; ok {
		return existing, true, nil
	}
	f.deliveries[key] = candidate
	return candidate, false, nil
}

func TestIngress_AuthenticatesByToken(t *testing.T) {
	connector := &model.WebhookConnector{ID: model.NewID(), Token: "secret-token", StrategyID: model.NewID(), Enabled: true}
	store := &fakeConnectorStore{connector: connector}
	trigger := &fakeTrigger{}
	ig := NewIngress(store, trigger, time.Minute, nil)

	_, err := ig.Handle(context.Background(), "wrong-token", map[string]any{"symbol": "NIFTY"}, time.Now())
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestIngress_RejectsDisabledConnector(t *testing.T) {
	connector := &model.WebhookConnector{ID: model.NewID(), Token: "secret-token", StrategyID: model.NewID(), Enabled: false}
	store := &fakeConnectorStore{connector: connector}
	ig := NewIngress(store, &fakeTrigger{}, time.Minute, nil)

	_, err := ig.Handle(context.Background(), "secret-token", map[string]any{}, time.Now())
	require.ErrorIs(t, err, ErrConnectorDown)
}

func TestIngress_DuplicateDeliveryReplaysOriginalRun(t *testing.T) {
	strategyID := model.NewID()
	connector := &model.WebhookConnector{ID: model.NewID(), Token: "secret-token", StrategyID: strategyID, Enabled: true}
	store := &fakeConnectorStore{connector: connector}
	trigger := &fakeTrigger{}
	ig := NewIngress(store, trigger, time.Minute, nil)

	payload := map[string]any{"symbol": "NIFTY", "side": "buy"}
	now := time.Now()

	first, err := ig.Handle(context.Background(), "secret-token", payload, now)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := ig.Handle(context.Background(), "secret-token", payload, now.Add(time.Second))
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.StrategyRunID, second.StrategyRunID)
	require.Len(t, trigger.calls, 1)
}

func TestIngress_TransformsPayloadByFieldMap(t *testing.T) {
	strategyID := model.NewID()
	connector := &model.WebhookConnector{
		ID: model.NewID(), Token: "secret-token", StrategyID: strategyID, Enabled: true,
		TransformJSON: `{"fields":{"symbol":"instrument"},"static":{"lots":1}}`,
	}
	store := &fakeConnectorStore{connector: connector}
	trigger := &fakeTrigger{}
	ig := NewIngress(store, trigger, time.Minute, nil)

	_, err := ig.Handle(context.Background(), "secret-token", map[string]any{"instrument": "BANKNIFTY"}, time.Now())
	require.NoError(t, err)
	require.Len(t, trigger.calls, 1)
}

func TestTransform_PassesThroughWhenUnconfigured(t *testing.T) {
	payload := map[string]any{"symbol": "NIFTY"}
	out, err := transform("", payload)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestDecodeContext_EmptyIsEmptyMap(t *testing.T) {
	out, err := decodeContext("")
	require.NoError(t, err)
	require.Empty(t, out)
}
