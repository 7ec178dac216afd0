package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"strategyexecutor/internal/model"
)

// Deadlines bound every suspension point an adapter call can hit:
// 5s for order placement, 2s for metadata reads by default.
type Deadlines struct {
	Place    time.Duration
	Metadata time.Duration
}

func DefaultDeadlines() Deadlines {
	return Deadlines{Place: 5 * time.Second, Metadata: 2 * time.Second}
}

// CredentialSource resolves the saved credentials for a BrokerLink so
// the registry can perform the silent re-auth on SESSION_EXPIRED
// without the caller needing to route vault access through every call
// site.
type CredentialSource interface {
	Credentials(ctx context.Context, link model.BrokerLink) (Credentials, error)
}

// SessionStore persists the live session token/expiry per BrokerLink
// so a restart or a second process can pick up where the last refresh
// left off.
type SessionStore interface {
	Load(ctx context.Context, linkID model.ID) (Session, bool, error)
	Save(ctx context.Context, linkID model.ID, session Session) error
}

// Registry maps broker_kind to a constructed Adapter and owns the
// session lifecycle: silent re-auth on expiry, a single
// in-flight refresh per BrokerLink, and deadline enforcement around
// every call. It is the one piece of global mutable state allowed by
// the process besides configuration, and it is read-only after Register.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Kind]Adapter

	creds     CredentialSource
	sessions  SessionStore
	deadlines Deadlines
	refresh   singleflight.Group

	log *logger.Entry
}

func New(creds CredentialSource, sessions SessionStore, deadlines Deadlines, log *logger.Entry) *Registry {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	return &Registry{
		adapters:  map[Kind]Adapter{},
		creds:     creds,
		sessions:  sessions,
		deadlines: deadlines,
		log:       log.WithField("component", "broker.Registry"),
	}
}

// Register binds a broker_kind to a constructed Adapter. Intended to
// be called only at startup; the map is read-only thereafter and safe
// for concurrent reads from many execution runs.
func (r *Registry) Register(kind Kind, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[kind] = adapter
}

func (r *Registry) Adapter(kind Kind) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("broker: no adapter registered for kind %q", kind)
	}
	return a, nil
}

// ensureSession returns a live session for link, connecting if none is
// cached yet. Concurrent callers for the same link collapse onto one
// in-flight connect via singleflight.
func (r *Registry) ensureSession(ctx context.Context, adapter Adapter, link model.BrokerLink) (Session, error) {
	if r.sessions != nil {
		if sess, ok, err := r.sessions.Load(ctx, link.ID); err == nil && ok && !sess.Expired(time.Now()) {
			return sess, nil
		}
	}
	return r.connect(ctx, adapter, link)
}

func (r *Registry) connect(ctx context.Context, adapter Adapter, link model.BrokerLink) (Session, error) {
	v, err, _ := r.refresh.Do(link.ID.String(), func() (any, error) {
		creds, err := r.creds.Credentials(ctx, link)
		if err != nil {
			return Session{}, fmt.Errorf("broker: resolve credentials: %w", err)
		}
		cctx, cancel := context.WithTimeout(ctx, r.deadlines.Metadata)
		defer cancel()
		sess, err := adapter.Connect(cctx, creds)
		if err != nil {
			return Session{}, err
		}
		if r.sessions != nil {
			_ = r.sessions.Save(ctx, link.ID, sess)
		}
		return sess, nil
	})
	if err != nil {
		return Session{}, err
	}
	return v.(Session), nil
}

// Place dispatches one leg's order to the broker behind link, applying
// the place deadline and the single silent-reauth-on-expiry recovery
// path. adapterKind selects which registered adapter handles the call.
func (r *Registry) Place(ctx context.Context, adapterKind Kind, link model.BrokerLink, intent OrderIntent) (PlaceResult, error) {
	adapter, err := r.Adapter(adapterKind)
	if err != nil {
		return PlaceResult{}, err
	}

	session, err := r.ensureSession(ctx, adapter, link)
	if err != nil {
		return PlaceResult{}, fmt.Errorf("broker: establish session: %w", err)
	}

	result, err := r.callWithDeadline(ctx, r.deadlines.Place, func(cctx context.Context) (PlaceResult, error) {
		return adapter.Place(cctx, session, intent)
	})
	if err == nil {
		return result, nil
	}

	if !errors.Is(err, ErrSessionExpired) {
		return PlaceResult{}, err
	}

	r.log.WithFields(logger.Fields{"broker_link_id": link.ID}).Warn("session expired, attempting one silent re-auth")
	session, reauthErr := r.connect(ctx, adapter, link)
	if reauthErr != nil {
		return PlaceResult{}, fmt.Errorf("broker: re-auth after session expiry failed: %w", reauthErr)
	}

	return r.callWithDeadline(ctx, r.deadlines.Place, func(cctx context.Context) (PlaceResult, error) {
		return adapter.Place(cctx, session, intent)
	})
}

// Metadata-class calls (positions/holdings/margin) use the shorter
// deadline and the same session establishment as Place. Unlike Place,
// they make no re-auth attempt: an ErrSessionExpired from the adapter
// is returned to the caller as is.
func (r *Registry) Positions(ctx context.Context, adapterKind Kind, link model.BrokerLink) ([]PositionSnapshot, error) {
	adapter, err := r.Adapter(adapterKind)
	if err != nil {
		return nil, err
	}
	session, err := r.ensureSession(ctx, adapter, link)
	if err != nil {
		return nil, err
	}
	return callWithDeadline(ctx, r.deadlines.Metadata, func(cctx context.Context) ([]PositionSnapshot, error) {
		return adapter.Positions(cctx, session)
	})
}

func (r *Registry) Margin(ctx context.Context, adapterKind Kind, link model.BrokerLink) (MarginSnapshot, error) {
	adapter, err := r.Adapter(adapterKind)
	if err != nil {
		return MarginSnapshot{}, err
	}
	session, err := r.ensureSession(ctx, adapter, link)
	if err != nil {
		return MarginSnapshot{}, err
	}
	return callWithDeadline(ctx, r.deadlines.Metadata, func(cctx context.Context) (MarginSnapshot, error) {
		return adapter.Margin(cctx, session)
	})
}

func (r *Registry) Holdings(ctx context.Context, adapterKind Kind, link model.BrokerLink) ([]HoldingSnapshot, error) {
	adapter, err := r.Adapter(adapterKind)
	if err != nil {
		return nil, err
	}
	session, err := r.ensureSession(ctx, adapter, link)
	if err != nil {
		return nil, err
	}
	return callWithDeadline(ctx, r.deadlines.Metadata, func(cctx context.Context) ([]HoldingSnapshot, error) {
		return adapter.Holdings(cctx, session)
	})
}

// Cancel requests cancellation of a previously placed order under the
// place deadline. Like the metadata calls, it makes no re-auth attempt:
// an ErrSessionExpired from the adapter is returned to the caller as is.
func (r *Registry) Cancel(ctx context.Context, adapterKind Kind, link model.BrokerLink, brokerOrderID string) error {
	adapter, err := r.Adapter(adapterKind)
	if err != nil {
		return err
	}
	session, err := r.ensureSession(ctx, adapter, link)
	if err != nil {
		return err
	}
	_, err = callWithDeadline(ctx, r.deadlines.Place, func(cctx context.Context) (struct{}, error) {
		return struct{}{}, adapter.Cancel(cctx, session, brokerOrderID)
	})
	return err
}

// ConvertPosition exercises the optional PositionConverter capability
// if the underlying adapter implements it; brokers that don't
// support position conversion return ErrUnsupported.
func (r *Registry) ConvertPosition(ctx context.Context, adapterKind Kind, link model.BrokerLink, symbol, targetProduct string) error {
	adapter, err := r.Adapter(adapterKind)
	if err != nil {
		return err
	}
	converter, ok := adapter.(PositionConverter)
	if !ok {
		return ErrUnsupported
	}
	session, err := r.ensureSession(ctx, adapter, link)
	if err != nil {
		return err
	}
	_, err = callWithDeadline(ctx, r.deadlines.Metadata, func(cctx context.Context) (struct{}, error) {
		return struct{}{}, converter.ConvertPosition(cctx, session, symbol, targetProduct)
	})
	return err
}

// callWithDeadline runs fn with the given timeout and turns a
// context-deadline expiry into ErrTimeout. The call already in flight
// is never interrupted; the goroutine runs to completion and the
// caller just stops waiting on it.
func callWithDeadline[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		val, err := fn(cctx)
		ch <- outcome{val, err}
	}()

	select {
	case o := <-ch:
		return o.val, o.err
	case <-cctx.Done():
		var zero T
		return zero, ErrTimeout
	}
}

func (r *Registry) callWithDeadline(ctx context.Context, timeout time.Duration, fn func(context.Context) (PlaceResult, error)) (PlaceResult, error) {
	return callWithDeadline(ctx, timeout, fn)
}
