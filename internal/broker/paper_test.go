package broker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"strategyexecutor/internal/model"
)

func TestPaperTrading_MarketOrderFillsImmediately(t *testing.T) {
	p := NewPaperTrading(func(string) float64 { return 250.0 })
	session, err := p.Connect(context.Background(), Credentials{})
	require.NoError(t, err)

	result, err := p.Place(context.Background(), session, OrderIntent{
		AccountRef: "ACC1", Symbol: "NIFTY", Side: model.SideBuy, Quantity: 50, OrderType: model.OrderKindMarket,
	})
	require.NoError(t, err)
	require.Equal(t, model.LegFilled, result.Status)
	require.NotNil(t, result.FillPrice)
	require.Equal(t, 250.0, *result.FillPrice)

	positions, err := p.Positions(context.Background(), session)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, 50, positions[0].NetQty)
}

func TestPaperTrading_LimitOrderAcceptedNotFilled(t *testing.T) {
	p := NewPaperTrading(nil)
	session, _ := p.Connect(context.Background(), Credentials{})
	price := 100.0
	result, err := p.Place(context.Background(), session, OrderIntent{
		AccountRef: "ACC1", Symbol: "NIFTY", Side: model.SideBuy, Quantity: 10,
		OrderType: model.OrderKindLimit, Price: &price,
	})
	require.NoError(t, err)
	require.Equal(t, model.LegAccepted, result.Status)
}

func TestPaperTrading_ReducingPositionRealisesPnL(t *testing.T) {
	p := NewPaperTrading(func(string) float64 { return 100.0 })
	session, _ := p.Connect(context.Background(), Credentials{})

	_, err := p.Place(context.Background(), session, OrderIntent{
		AccountRef: "ACC1", Symbol: "NIFTY", Side: model.SideBuy, Quantity: 10, OrderType: model.OrderKindMarket,
	})
	require.NoError(t, err)

	exitPrice := 120.0
	_, err = p.Place(context.Background(), session, OrderIntent{
		AccountRef: "ACC1", Symbol: "NIFTY", Side: model.SideSell, Quantity: 10,
		OrderType: model.OrderKindMarket, Price: &exitPrice,
	})
	require.NoError(t, err)

	positions, err := p.Positions(context.Background(), session)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, 0, positions[0].NetQty)
	require.InDelta(t, 200.0, positions[0].RunningPnL, 0.001)
}

func TestPaperTrading_MarginAlwaysAvailable(t *testing.T) {
	p := NewPaperTrading(nil)
	session, _ := p.Connect(context.Background(), Credentials{})
	margin, err := p.Margin(context.Background(), session)
	require.NoError(t, err)
	require.Greater(t, margin.Available, 0.0)
}
