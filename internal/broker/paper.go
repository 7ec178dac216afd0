package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"strategyexecutor/internal/model"
)

// PaperTrading is the mandatory deterministic broker variant:
// it accepts all orders, assigns synthetic broker_order_ids, fills
// MARKET orders immediately at the intent price (or a configured
// reference), and records positions/trades in-process. It is the
// reference implementation StrategyRun's "paper" mode binds to, and
// what every orchestrator test in this module runs against.
type PaperTrading struct {
	refPrice func(symbol string) float64
	seq      atomic.Uint64

	mu        sync.Mutex
	positions map[string]*PositionSnapshot // keyed by "accountRef|symbol"
}

// NewPaperTrading builds a PaperTrading adapter. refPrice supplies the
// fill price when the intent omits one (MARKET orders); a nil
// refPrice defaults every fill to 100.0, which is adequate for tests
// that only care about fill occurring, not its price.
func NewPaperTrading(refPrice func(symbol string) float64) *PaperTrading {
	if refPrice == nil {
		refPrice = func(string) float64 { return 100.0 }
	}
	return &PaperTrading{refPrice: refPrice, positions: map[string]*PositionSnapshot{}}
}

func (p *PaperTrading) Kind() Kind { return KindPaper }

func (p *PaperTrading) Connect(ctx context.Context, _ Credentials) (Session, error) {
	return Session{Token: "paper-session", ExpiresAt: time.Now().Add(24 * time.Hour)}, nil
}

func (p *PaperTrading) Refresh(ctx context.Context, session Session) (Session, error) {
	session.ExpiresAt = time.Now().Add(24 * time.Hour)
	return session, nil
}

func (p *PaperTrading) Logout(ctx context.Context, _ Session) error { return nil }

func (p *PaperTrading) Place(ctx context.Context, _ Session, intent OrderIntent) (PlaceResult, error) {
	id := fmt.Sprintf("PAPER-%d", p.seq.Add(1))

	price := p.refPrice(intent.Symbol)
	if intent.Price != nil {
		price = *intent.Price
	}

	if intent.OrderType != model.OrderKindMarket {
		// LIMIT orders rest un-filled until a later poll in a real
		// broker; PaperTrading treats them as accepted-but-pending so
		// callers still exercise the "accepted, not yet filled" path.
		return PlaceResult{BrokerOrderID: id, Status: model.LegAccepted, Message: "limit order accepted, resting"}, nil
	}

	p.applyFill(intent.AccountRef, intent.Symbol, intent.Side, intent.Quantity, price)

	fillPrice := price
	return PlaceResult{
		BrokerOrderID: id,
		Status:        model.LegFilled,
		FillPrice:     &fillPrice,
		Message:       "filled at reference price",
	}, nil
}

func (p *PaperTrading) Modify(ctx context.Context, _ Session, _ string, _ OrderPatch) error { return nil }

func (p *PaperTrading) Cancel(ctx context.Context, _ Session, _ string) error { return nil }

func (p *PaperTrading) Positions(ctx context.Context, _ Session) ([]PositionSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PositionSnapshot, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}

func (p *PaperTrading) Holdings(ctx context.Context, _ Session) ([]HoldingSnapshot, error) {
	return nil, nil
}

func (p *PaperTrading) Margin(ctx context.Context, _ Session) (MarginSnapshot, error) {
	// PaperTrading never blocks an order on margin; it reports an
	// effectively unlimited available balance so RMS margin checks
	// exercise their code path without tripping in tests.
	return MarginSnapshot{Available: 1_000_000_000, Currency: "INR"}, nil
}

func (p *PaperTrading) applyFill(accountRef, symbol string, side model.OrderSide, qty int, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := accountRef + "|" + symbol
	pos, ok := p.positions[key]
	if !ok {
		pos = &PositionSnapshot{Symbol: symbol}
		p.positions[key] = pos
	}

	signedQty := qty
	if side == model.SideSell {
		signedQty = -qty
	}

	if pos.NetQty == 0 || sameSign(pos.NetQty, signedQty) {
		totalCost := pos.AvgPrice*float64(abs(pos.NetQty)) + price*float64(abs(signedQty))
		pos.NetQty += signedQty
		if pos.NetQty != 0 {
			pos.AvgPrice = totalCost / float64(abs(pos.NetQty))
		}
		return
	}

	// Reducing or flipping: realise PnL on the closed portion.
	closing := min(abs(pos.NetQty), abs(signedQty))
	direction := 1.0
	if pos.NetQty < 0 {
		direction = -1.0
	}
	pos.RunningPnL += direction * (price - pos.AvgPrice) * float64(closing)
	pos.NetQty += signedQty
	if pos.NetQty == 0 {
		pos.AvgPrice = 0
	} else if sameSign(pos.NetQty, signedQty) {
		// flipped past zero into the opposite direction
		pos.AvgPrice = price
	}
}

func sameSign(a, b int) bool { return (a >= 0) == (b >= 0) }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
