// Package paper is an in-memory venue that fills market orders at the last
// known price. Balances are kept in decimal to avoid float drift across many
// fills.
package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"futures-risk-lab/internal/domain"
	"futures-risk-lab/internal/logging"
	"futures-risk-lab/internal/venue"
)

// Option configures a Venue.
type Option func(*Venue)

// WithClock overrides the fill timestamp source.
func WithClock(now func() time.Time) Option {
	return func(v *Venue) { v.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(v *Venue) { v.logger = l }
}

// WithIDs overrides order ID generation.
func WithIDs(next func() string) Option {
	return func(v *Venue) { v.newID = next }
}

type position struct {
	side       domain.Side
	quantity   decimal.Decimal
	entry      decimal.Decimal
	leverage   decimal.Decimal
	stopLoss   float64
	takeProfit float64
	entryTime  time.Time
}

type feed struct {
	bars   []domain.Bar
	cursor int
}

// Venue is a paper trading venue. One net position per symbol.
type Venue struct {
	mu        sync.Mutex
	cash      decimal.Decimal
	feeRate   decimal.Decimal
	prices    map[string]decimal.Decimal
	feeds     map[string]*feed
	positions map[string]*position
	orders    map[string]venue.Order

	now    func() time.Time
	newID  func() string
	logger logrus.FieldLogger
}

var (
	_ venue.Venue     = (*Venue)(nil)
	_ venue.BarSource = (*Venue)(nil)
)

// New creates a paper venue holding initialBalance of quote currency.
// feeRate is charged on notional for both opening and closing fills.
func New(initialBalance, feeRate float64, opts ...Option) *Venue {
	v := &Venue{
		cash:      decimal.NewFromFloat(initialBalance),
		feeRate:   decimal.NewFromFloat(feeRate),
		prices:    make(map[string]decimal.Decimal),
		feeds:     make(map[string]*feed),
		positions: make(map[string]*position),
		orders:    make(map[string]venue.Order),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return "paper_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = logging.OrDiscard(v.logger)
	return v
}

// SetPrice sets the last price of symbol.
func (v *Venue) SetPrice(symbol string, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[symbol] = decimal.NewFromFloat(price)
}

// Feed replays bars for symbol. The first bar becomes current.
func (v *Venue) Feed(symbol string, bars []domain.Bar) {
	v.mu.Lock()
	defer v.mu.Unlock()
	cp := make([]domain.Bar, len(bars))
	copy(cp, bars)
	v.feeds[symbol] = &feed{bars: cp}
	if len(cp) > 0 {
		v.prices[symbol] = decimal.NewFromFloat(cp[0].Close)
	}
}

// Advance moves the feed of symbol one bar forward and updates its price.
// Returns false once the feed is exhausted.
func (v *Venue) Advance(symbol string) (domain.Bar, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, ok := v.feeds[symbol]
	if !ok || f.cursor+1 >= len(f.bars) {
		return domain.Bar{}, false
	}
	f.cursor++
	b := f.bars[f.cursor]
	v.prices[symbol] = decimal.NewFromFloat(b.Close)
	return b, true
}

// Append adds a closed bar to the feed of symbol and makes it current.
// Bars older than the current one are ignored.
func (v *Venue) Append(symbol string, bar domain.Bar) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, ok := v.feeds[symbol]
	if !ok {
		f = &feed{cursor: -1}
		v.feeds[symbol] = f
	}
	if n := len(f.bars); n > 0 && !bar.Timestamp.After(f.bars[n-1].Timestamp) {
		return false
	}
	f.bars = append(f.bars, bar)
	f.cursor = len(f.bars) - 1
	v.prices[symbol] = decimal.NewFromFloat(bar.Close)
	return true
}

// Bars implements venue.BarSource. Only bars up to the feed cursor are visible.
func (v *Venue) Bars(_ context.Context, symbol string, limit int) ([]domain.Bar, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, ok := v.feeds[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", venue.ErrUnknownSymbol, symbol)
	}
	if len(f.bars) == 0 {
		return nil, nil
	}
	visible := f.bars[:f.cursor+1]
	if limit > 0 && len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}
	out := make([]domain.Bar, len(visible))
	copy(out, visible)
	return out, nil
}

// Price implements venue.Venue.
func (v *Venue) Price(_ context.Context, symbol string) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", venue.ErrUnknownSymbol, symbol)
	}
	return p.InexactFloat64(), nil
}

// Balance implements venue.Venue. It is the wallet balance: cash after
// realized pnl and fees, margin included.
func (v *Venue) Balance(_ context.Context) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cash.InexactFloat64(), nil
}

// Available is the balance not locked as margin.
func (v *Venue) Available() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.availableLocked().InexactFloat64()
}

// Positions implements venue.Venue, ordered by symbol.
func (v *Venue) Positions(_ context.Context) ([]domain.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]domain.Position, 0, len(v.positions))
	for symbol, p := range v.positions {
		qty := p.quantity.InexactFloat64()
		entry := p.entry.InexactFloat64()
		lev := p.leverage.InexactFloat64()
		pos := domain.Position{
			Symbol:     symbol,
			Side:       p.side,
			Quantity:   qty,
			EntryPrice: entry,
			Leverage:   lev,
			StopLoss:   p.stopLoss,
			TakeProfit: p.takeProfit,
			EntryTime:  p.entryTime,
		}
		if price, ok := v.prices[symbol]; ok {
			pos.CurrentPrice = price.InexactFloat64()
			pos.UnrealizedPnL = v.pnlLocked(p, price).InexactFloat64()
		}
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// PlaceOrder implements venue.Venue. Market orders fill immediately at the
// last price. An order against an open position of the opposite side is
// rejected; close it first.
func (v *Venue) PlaceOrder(_ context.Context, req venue.OrderRequest) (venue.Order, error) {
	if err := req.Validate(); err != nil {
		return venue.Order{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	price, ok := v.prices[req.Symbol]
	if !ok {
		return venue.Order{}, fmt.Errorf("%w: %s", venue.ErrUnknownSymbol, req.Symbol)
	}
	qty := decimal.NewFromFloat(req.Quantity)
	lev := decimal.NewFromFloat(req.Leverage)
	notional := qty.Mul(price)
	fee := notional.Mul(v.feeRate)
	margin := notional.Div(lev)

	if margin.Add(fee).GreaterThan(v.availableLocked()) {
		return venue.Order{}, fmt.Errorf("%w: need %s, have %s",
			venue.ErrInsufficientBalance, margin.Add(fee).StringFixed(2), v.availableLocked().StringFixed(2))
	}

	now := v.now()
	if existing, ok := v.positions[req.Symbol]; ok {
		if existing.side != req.Side {
			return venue.Order{}, fmt.Errorf("%w: %s already %s", venue.ErrInvalidOrder, req.Symbol, existing.side)
		}
		// Scale in at the volume-weighted entry.
		total := existing.quantity.Add(qty)
		existing.entry = existing.entry.Mul(existing.quantity).Add(price.Mul(qty)).Div(total)
		existing.quantity = total
		existing.stopLoss, existing.takeProfit = req.StopLoss, req.TakeProfit
	} else {
		v.positions[req.Symbol] = &position{
			side:       req.Side,
			quantity:   qty,
			entry:      price,
			leverage:   lev,
			stopLoss:   req.StopLoss,
			takeProfit: req.TakeProfit,
			entryTime:  now,
		}
	}
	v.cash = v.cash.Sub(fee)

	order := venue.Order{
		ID:         v.newID(),
		Symbol:     req.Symbol,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Price:      price.InexactFloat64(),
		Fee:        fee.InexactFloat64(),
		Leverage:   req.Leverage,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Status:     venue.OrderFilled,
		CreatedAt:  now,
	}
	v.orders[order.ID] = order

	v.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"symbol":   req.Symbol,
		"side":     req.Side,
		"quantity": req.Quantity,
		"price":    order.Price,
		"leverage": req.Leverage,
	}).Info("paper order filled")
	return order, nil
}

// ClosePosition implements venue.Venue.
func (v *Venue) ClosePosition(_ context.Context, symbol string) (venue.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.positions[symbol]
	if !ok {
		return venue.Order{}, fmt.Errorf("%w: %s", venue.ErrNoPosition, symbol)
	}
	price := v.prices[symbol]
	fee := p.quantity.Mul(price).Mul(v.feeRate)
	pnl := v.pnlLocked(p, price)

	v.cash = v.cash.Add(pnl).Sub(fee)
	delete(v.positions, symbol)

	order := venue.Order{
		ID:        v.newID(),
		Symbol:    symbol,
		Side:      p.side.Opposite(),
		Quantity:  p.quantity.InexactFloat64(),
		Price:     price.InexactFloat64(),
		Fee:       fee.InexactFloat64(),
		Leverage:  p.leverage.InexactFloat64(),
		Status:    venue.OrderFilled,
		CreatedAt: v.now(),
	}
	v.orders[order.ID] = order

	v.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"symbol":   symbol,
		"price":    order.Price,
		"pnl":      pnl.StringFixed(2),
	}).Info("paper position closed")
	return order, nil
}

// CancelOrder implements venue.Venue. Paper market orders fill on placement,
// so only unknown IDs and already filled orders are reported.
func (v *Venue) CancelOrder(_ context.Context, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	o, ok := v.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", venue.ErrOrderNotFound, orderID)
	}
	if o.Status != venue.OrderPending {
		return fmt.Errorf("%w: order %s is %s", venue.ErrInvalidOrder, orderID, o.Status)
	}
	o.Status = venue.OrderCancelled
	v.orders[orderID] = o
	return nil
}

// Equity is cash plus unrealized pnl of open positions.
func (v *Venue) Equity() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	eq := v.cash
	for symbol, p := range v.positions {
		if price, ok := v.prices[symbol]; ok {
			eq = eq.Add(v.pnlLocked(p, price))
		}
	}
	return eq.InexactFloat64()
}

// pnl = (price - entry) * qty * leverage * sign
func (v *Venue) pnlLocked(p *position, price decimal.Decimal) decimal.Decimal {
	d := price.Sub(p.entry).Mul(p.quantity).Mul(p.leverage)
	if p.side == domain.SideShort {
		return d.Neg()
	}
	return d
}

func (v *Venue) availableLocked() decimal.Decimal {
	locked := decimal.Zero
	for _, p := range v.positions {
		locked = locked.Add(p.quantity.Mul(p.entry).Div(p.leverage))
	}
	return v.cash.Sub(locked)
}
