// Package broker implements the Broker Adapter Registry: a
// uniform capability contract over heterogeneous broker APIs, with
// session lifecycle and deadline-bounded calls. PaperTrading is the
// mandatory deterministic reference adapter used by tests and by
// StrategyRun's "paper" mode.
package broker

import (
	"context"
	"errors"
	"time"

	"strategyexecutor/internal/model"
)

// Kind names a broker variant, e.g. "paper", "phemex", "kraken".
type Kind string

const (
	KindPaper Kind = "paper"
)

// Credentials is the plaintext secret bundle handed to Connect for the
// duration of a single call frame; callers source it from
// internal/vault immediately before the call and let it fall out of
// scope immediately after.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
	TOTPCode   string
}

// Session is an authenticated handle returned by Connect. ExpiresAt is
// zero when the broker does not advertise an expiry.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

func (s Session) Expired(at time.Time) bool {
	return !s.ExpiresAt.IsZero() && !at.Before(s.ExpiresAt)
}

// OrderIntent is one leg's worth of broker-bound order parameters, the
// adapter-facing shape of model.TradeIntent plus the account it targets.
type OrderIntent struct {
	AccountRef string
	Symbol     string
	Side       model.OrderSide
	Quantity   int
	OrderType  model.OrderKind
	Price      *float64
	TakeProfit *float64
	StopLoss   *float64
	ClientTag  string // idempotency/correlation tag, echoed back by PaperTrading
}

// PlaceResult is what a successful Place call reports back.
type PlaceResult struct {
	BrokerOrderID string
	Status        model.LegStatus
	FillPrice     *float64
	Message       string
}

// OrderPatch carries the mutable fields of Modify.
type OrderPatch struct {
	Price      *float64
	Quantity   *int
	TakeProfit *float64
	StopLoss   *float64
}

// PositionSnapshot and MarginSnapshot are the narrow read shapes the
// RMS Gate and analytics need; adapters translate their native
// payloads into these.
type PositionSnapshot struct {
	Symbol     string
	NetQty     int
	AvgPrice   float64
	RunningPnL float64
}

type MarginSnapshot struct {
	Available float64
	Utilised  float64
	Currency  string
}

type HoldingSnapshot struct {
	Symbol   string
	Quantity int
	AvgCost  float64
}

// FeedEvent is one lifecycle update delivered by an adapter's
// asynchronous order_feed subscription.
type FeedEvent struct {
	BrokerOrderID string
	Status        model.LegStatus
	Message       string
	At            time.Time
}

// Adapter is the narrow, uniform contract every broker variant
// implements. Broker-specific quirks (headers, TOTP, exotic
// verbs) are pushed into per-adapter option structs passed at
// construction time, not into this interface.
type Adapter interface {
	Kind() Kind
	Connect(ctx context.Context, creds Credentials) (Session, error)
	Refresh(ctx context.Context, session Session) (Session, error)
	Logout(ctx context.Context, session Session) error

	Place(ctx context.Context, session Session, intent OrderIntent) (PlaceResult, error)
	Modify(ctx context.Context, session Session, brokerOrderID string, patch OrderPatch) error
	Cancel(ctx context.Context, session Session, brokerOrderID string) error

	Positions(ctx context.Context, session Session) ([]PositionSnapshot, error)
	Holdings(ctx context.Context, session Session) ([]HoldingSnapshot, error)
	Margin(ctx context.Context, session Session) (MarginSnapshot, error)
}

// PositionConverter is an optional capability implemented by
// adapters whose broker
// supports converting an existing position between product types
// (e.g. intraday <-> carry-forward).
type PositionConverter interface {
	ConvertPosition(ctx context.Context, session Session, symbol string, targetProduct string) error
}

// FeedSubscriber is an optional capability for adapters exposing an
// async order lifecycle feed.
type FeedSubscriber interface {
	Subscribe(ctx context.Context, session Session) (<-chan FeedEvent, error)
}

// Sentinel errors adapters return so the registry can apply uniform
// recovery/timeout policy regardless of the underlying broker.
var (
	// ErrSessionExpired signals the registry should attempt exactly
	// one silent re-auth before surfacing failure.
	ErrSessionExpired = errors.New("broker: session expired")
	// ErrTimeout is returned by the registry itself when a call
	// exceeds its per-adapter deadline; it is not returned by adapters.
	ErrTimeout = errors.New("broker: adapter call timed out")
	// ErrRejected wraps an upstream business-rule rejection; Message
	// carries the broker's verbatim text.
	ErrRejected = errors.New("broker: order rejected")
	// ErrUnsupported is returned for an optional capability (position
	// conversion, order feed) the target adapter does not implement.
	ErrUnsupported = errors.New("broker: capability not supported by this adapter")
)

// RejectionError carries the broker's verbatim rejection message
// alongside the ErrRejected sentinel for errors.Is matching.
type RejectionError struct {
	Message string
}

func (e *RejectionError) Error() string { return e.Message }
func (e *RejectionError) Unwrap() error { return ErrRejected }

// Factory constructs a fresh Adapter instance for a broker_kind. The
// Registry does not call factories: it holds one already-constructed
// Adapter per kind, bound via Register and shared by every BrokerLink
// of that kind, so adapters must be safe for concurrent use across
// execution runs.
type Factory func(opts any) (Adapter, error)
