package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/model"
)

var (
	ErrUnauthorized  = errors.New("scheduler: webhook token unauthorized")
	ErrConnectorDown = errors.New("scheduler: webhook connector disabled")
)

// ConnectorStore is the persistence seam webhook ingress needs from
// internal/repository.WebhookRepository.
type ConnectorStore interface {
	ByToken(ctx context.Context, token string) (*model.WebhookConnector, error)
	RecordDelivery(ctx context.Context, connectorID model.ID, payloadHash string, strategyRunID model.ID, now time.Time, window time.Duration) (model.ID, bool, error)
}

// Delivery is the outcome of a single webhook event: the StrategyRun it
// produced (or reused, on a duplicate delivery) and whether that run is
// a fresh fire or a replay of one already recorded inside the dedupe
// window.
type Delivery struct {
	StrategyRunID model.ID
	Duplicate     bool
}

// Ingress authenticates inbound webhook events, deduplicates them and
// hands matched strategies to a RunTrigger.
type Ingress struct {
	connectors ConnectorStore
	trigger    RunTrigger
	window     time.Duration
	log        *logger.Entry
}

func NewIngress(connectors ConnectorStore, trigger RunTrigger, window time.Duration, log *logger.Entry) *Ingress {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &Ingress{connectors: connectors, trigger: trigger, window: window, log: log.WithField("component", "scheduler.Ingress")}
}

// Handle authenticates `token`, dedupes `payload` against deliveries
// already recorded within the idempotency window and, on a fresh
// delivery, triggers a StrategyRun for the connector's bound strategy.
// A duplicate delivery inside the window returns the original
// StrategyRunID with Duplicate=true instead of firing again — two
// identical deliveries produce exactly one StrategyRun.
func (ig *Ingress) Handle(ctx context.Context, token string, payload map[string]any, now time.Time) (*Delivery, error) {
	connector, err := ig.connectors.ByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("scheduler: authenticate webhook: %w", err)
	}
	if connector == nil {
		return nil, ErrUnauthorized
	}
	if !connector.Enabled {
		return nil, ErrConnectorDown
	}

	hash, err := payloadHash(payload)
	if err != nil {
		return nil, fmt.Errorf("scheduler: hash webhook payload: %w", err)
	}

	candidateRunID := model.NewID()
	runID, duplicate, err := ig.connectors.RecordDelivery(ctx, connector.ID, hash, candidateRunID, now, ig.window)
	if err != nil {
		return nil, fmt.Errorf("scheduler: record webhook delivery: %w", err)
	}
	if duplicate {
		ig.log.WithFields(logger.Fields{"connector_id": connector.ID, "strategy_run_id": runID}).
			Info("duplicate webhook delivery replayed original strategy run")
		return &Delivery{StrategyRunID: runID, Duplicate: true}, nil
	}

	contextData, err := transform(connector.TransformJSON, payload)
	if err != nil {
		return nil, fmt.Errorf("scheduler: transform webhook payload: %w", err)
	}
	if err := ig.trigger.TriggerStrategyRun(ctx, connector.StrategyID, runID, contextData); err != nil {
		return nil, fmt.Errorf("scheduler: trigger webhook strategy run: %w", err)
	}
	return &Delivery{StrategyRunID: runID, Duplicate: false}, nil
}

// payloadHash hashes the canonical (key-sorted, via encoding/json's map
// marshalling) JSON encoding of payload so identical events hash
// identically regardless of field order in the request body.
func payloadHash(payload map[string]any) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// fieldMap is the declarative payload-to-context mapping stored on a
// WebhookConnector, keyed by the Configuration field it feeds.
type fieldMap struct {
	Fields map[string]string `json:"fields,omitempty"`
	Static map[string]any    `json:"static,omitempty"`
}

// transform maps payload keys onto a context blob per connector's
// declarative field mapping, falling back to passing the payload through
// unchanged when no mapping is configured.
func transform(transformJSON string, payload map[string]any) (map[string]any, error) {
	if transformJSON == "" {
		return payload, nil
	}
	var fm fieldMap
	if err := json.Unmarshal([]byte(transformJSON), &fm); err != nil {
		return nil, fmt.Errorf("invalid transform: %w", err)
	}

	out := make(map[string]any, len(fm.Fields)+len(fm.Static))
	for k, v := range fm.Static {
		out[k] = v
	}
	for contextField, payloadKey := range fm.Fields {
		if v, ok := payload[payloadKey]; ok {
			out[contextField] = v
		}
	}
	return out, nil
}

// decodeContext parses a ScheduledJob's stored context blob, treating an
// empty blob as an empty context rather than an error.
func decodeContext(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("invalid job context: %w", err)
	}
	return out, nil
}
