package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"strategyexecutor/internal/model"
)

type fakeAdapter struct {
	kind        Kind
	placeCalls  atomic.Int32
	failFirst   bool
	blockFor    time.Duration
}

func (f *fakeAdapter) Kind() Kind { return f.kind }
func (f *fakeAdapter) Connect(ctx context.Context, _ Credentials) (Session, error) {
	return Session{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
}
func (f *fakeAdapter) Refresh(ctx context.Context, s Session) (Session, error) { return s, nil }
func (f *fakeAdapter) Logout(ctx context.Context, _ Session) error             { return nil }

func (f *fakeAdapter) Place(ctx context.Context, _ Session, intent OrderIntent) (PlaceResult, error) {
	n := f.placeCalls.Add(1)
	if f.blockFor > 0 {
		select {
		case <-time.After(f.blockFor):
		case <-ctx.Done():
			return PlaceResult{}, ctx.Err()
		}
	}
	if f.failFirst && n == 1 {
		return PlaceResult{}, ErrSessionExpired
	}
	return PlaceResult{BrokerOrderID: "X1", Status: model.LegFilled}, nil
}
func (f *fakeAdapter) Modify(ctx context.Context, _ Session, _ string, _ OrderPatch) error { return nil }
func (f *fakeAdapter) Cancel(ctx context.Context, _ Session, _ string) error               { return nil }
func (f *fakeAdapter) Positions(ctx context.Context, _ Session) ([]PositionSnapshot, error) {
	return nil, nil
}
func (f *fakeAdapter) Holdings(ctx context.Context, _ Session) ([]HoldingSnapshot, error) {
	return nil, nil
}
func (f *fakeAdapter) Margin(ctx context.Context, _ Session) (MarginSnapshot, error) {
	return MarginSnapshot{}, nil
}

type fakeCredSource struct{}

func (fakeCredSource) Credentials(ctx context.Context, link model.BrokerLink) (Credentials, error) {
	return Credentials{APIKey: "k"}, nil
}

func TestRegistry_Place_Success(t *testing.T) {
	reg := New(fakeCredSource{}, nil, DefaultDeadlines(), nil)
	reg.Register(KindPaper, &fakeAdapter{kind: KindPaper})

	result, err := reg.Place(context.Background(), KindPaper, model.BrokerLink{ID: model.NewID()}, OrderIntent{})
	require.NoError(t, err)
	require.Equal(t, model.LegFilled, result.Status)
}

func TestRegistry_Place_SilentReauthOnSessionExpired(t *testing.T) {
	adapter := &fakeAdapter{kind: KindPaper, failFirst: true}
	reg := New(fakeCredSource{}, nil, DefaultDeadlines(), nil)
	reg.Register(KindPaper, adapter)

	result, err := reg.Place(context.Background(), KindPaper, model.BrokerLink{ID: model.NewID()}, OrderIntent{})
	require.NoError(t, err)
	require.Equal(t, model.LegFilled, result.Status)
	require.Equal(t, int32(2), adapter.placeCalls.Load())
}

func TestRegistry_Place_TimeoutOnSlowAdapter(t *testing.T) {
	adapter := &fakeAdapter{kind: KindPaper, blockFor: 50 * time.Millisecond}
	reg := New(fakeCredSource{}, nil, Deadlines{Place: 5 * time.Millisecond, Metadata: 5 * time.Millisecond}, nil)
	reg.Register(KindPaper, adapter)

	_, err := reg.Place(context.Background(), KindPaper, model.BrokerLink{ID: model.NewID()}, OrderIntent{})
	require.True(t, errors.Is(err, ErrTimeout))
}

func TestRegistry_Adapter_NotRegistered(t *testing.T) {
	reg := New(fakeCredSource{}, nil, DefaultDeadlines(), nil)
	_, err := reg.Adapter(Kind("unknown"))
	require.Error(t, err)
}
