// Package engine implements the trading loop: tick scheduling, the entry
// pipeline, position monitoring, and crash recovery.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"helmsman/ai"
	"helmsman/config"
	"helmsman/core"
	"helmsman/indicator"
	"helmsman/strategy"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Engine status labels, readable wait-free from the control plane.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
)

// FlagCloseRetryExhausted marks a position whose last close attempt burned
// every retry. The position stays open and is re-evaluated next tick.
const FlagCloseRetryExhausted = "CLOSING_RETRY_EXHAUSTED"

const defaultEntryConcurrency = 4

// Engine drives the periodic trading loop. One instance per process.
type Engine struct {
	cfg       *config.Manager
	exchange  core.Exchange
	store     core.Storage
	evaluator *strategy.Evaluator
	ensemble  *ai.Ensemble
	tracker   *indicator.CrossTracker
	notifier  core.Notifier
	log       core.Logger

	// positions is the in-memory open set; locks serializes per-symbol work.
	// pending holds entry reservations for buys in flight, so concurrent
	// entry scans count them against the global limits.
	mu        sync.Mutex
	positions map[string]*core.Position
	locks     map[string]*sync.Mutex
	flags     map[string]string
	pending   map[string]entryTicket

	// tradeMu serializes trade-history appends so the per-symbol log stays
	// ordered.
	tradeMu sync.Mutex

	status   atomic.Value // string
	tickBusy atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  time.Time

	// retry pacing, overridable in tests
	buyBackoffStep  time.Duration
	sellBackoffStep time.Duration
	priceRetryDelay time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier attaches a human-facing notifier for fills and errors.
func WithNotifier(n core.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// AttachNotifier sets the notifier after construction. The Telegram surface
// needs the engine as its controller, so it cannot exist before the engine
// does. Call before Start.
func (e *Engine) AttachNotifier(n core.Notifier) {
	e.notifier = n
}

// New wires an engine. Call Start to begin ticking.
func New(
	cfg *config.Manager,
	exchange core.Exchange,
	store core.Storage,
	ensemble *ai.Ensemble,
	log core.Logger,
	options ...Option,
) *Engine {
	e := &Engine{
		cfg:       cfg,
		exchange:  exchange,
		store:     store,
		evaluator: strategy.NewEvaluator(),
		ensemble:  ensemble,
		tracker:   indicator.NewCrossTracker(),
		log:       log,
		positions: make(map[string]*core.Position),
		locks:     make(map[string]*sync.Mutex),
		flags:     make(map[string]string),
		pending:   make(map[string]entryTicket),

		buyBackoffStep:  buyBackoffStep,
		sellBackoffStep: sellBackoffStep,
		priceRetryDelay: priceFetchDelay,
	}
	e.status.Store(StatusStopped)
	for _, option := range options {
		option(e)
	}
	return e
}

// Start recovers persisted state and launches the tick loop. It refuses to
// start while the validation ensemble is disabled: without the gate the
// engine would never buy, and silently ticking in that state hides a
// misconfiguration.
func (e *Engine) Start(ctx context.Context) error {
	snapshot := e.cfg.Current()
	if !snapshot.AI.Enabled {
		return fmt.Errorf("%w: enable ai.enabled before starting", core.ErrEnsembleDisabled)
	}
	if e.status.Load() == StatusRunning {
		return nil
	}

	if err := e.recover(ctx, snapshot); err != nil {
		return fmt.Errorf("startup recovery failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.started = time.Now()
	e.status.Store(StatusRunning)

	e.wg.Add(1)
	go e.loop(runCtx)

	e.log.Info("engine started, tick interval ", snapshot.Engine.TickInterval)
	e.notify("Trading engine started.")
	return nil
}

// Stop cancels the tick loop and waits for in-flight work to drain. Open
// positions are left open; stopping never force-closes.
func (e *Engine) Stop() {
	if e.status.Load() != StatusRunning {
		return
	}
	e.cancel()
	e.wg.Wait()
	e.status.Store(StatusStopped)

	summary := e.sessionSummary(context.Background())
	if summary != "" {
		e.log.Info("session summary:\n", summary)
	}
	e.log.Info("engine stopped")
	e.notify("Trading engine stopped. Open positions remain open.")
}

// Status is wait-free; safe to call from the control plane at any rate.
func (e *Engine) Status() string {
	return e.status.Load().(string)
}

// Positions returns a snapshot of the open set.
func (e *Engine) Positions() []*core.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*core.Position, 0, len(e.positions))
	for _, p := range e.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// PositionFlags returns the per-position status flags, keyed by symbol.
func (e *Engine) PositionFlags() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.flags))
	for k, v := range e.flags {
		out[k] = v
	}
	return out
}

// Report renders the control-surface status: run state, open set, exposure,
// equity and daily PnL.
func (e *Engine) Report(ctx context.Context) string {
	snapshot := e.cfg.Current()

	quote := decimal.Zero
	if balances, err := e.exchange.Balances(ctx); err == nil {
		quote = balances[snapshot.Exchange.QuoteAsset]
	}
	pc := e.portfolioContext(ctx, snapshot, "", quote)

	return fmt.Sprintf(
		"Status: %s\nPositions: %d/%d\nExposure: %s\nQuote balance: %s\nEquity: %s\nDaily PnL: %s",
		e.Status(), pc.OpenPositions, pc.MaxPositions,
		core.FormatUSD(pc.TotalExposure), core.FormatUSD(pc.QuoteBalance),
		core.FormatUSD(pc.Equity), core.FormatUSD(pc.DailyPnL))
}

// RecentTrades returns the newest trade records, oldest first.
func (e *Engine) RecentTrades(ctx context.Context, limit int) ([]*core.TradeRecord, error) {
	trades, err := e.store.Trades(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	return trades, nil
}

// loop fires ticks until the run context is cancelled. A tick that overruns
// its deadline delays the next one; the late tick is skipped and logged
// rather than queued.
func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	snapshot := e.cfg.Current()
	ticker := time.NewTicker(snapshot.Engine.TickInterval)
	defer ticker.Stop()

	e.fireTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.fireTick(ctx)
		}
	}
}

// fireTick launches one tick unless the previous one is still draining, in
// which case the late tick is skipped and logged.
func (e *Engine) fireTick(ctx context.Context) {
	if !e.tickBusy.CompareAndSwap(false, true) {
		e.log.Warn("previous tick still draining, skipping this tick")
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runTick(ctx)
	}()
}

// runTick performs one entry sweep and one monitor sweep. Work fans out
// across symbols with bounded concurrency; per-symbol work is serialized by
// the symbol lock.
func (e *Engine) runTick(ctx context.Context) {
	defer e.tickBusy.Store(false)

	snapshot := e.cfg.Current()
	tickCtx, cancel := context.WithTimeout(ctx, snapshot.Engine.TickDeadline)
	defer cancel()

	concurrency := snapshot.Engine.EntryConcurrency
	if concurrency <= 0 {
		concurrency = defaultEntryConcurrency
	}

	var refusalLogged atomic.Bool

	g := new(errgroup.Group)
	g.SetLimit(concurrency)

	for _, pair := range snapshot.EnabledPairs() {
		if e.position(pair.Symbol) != nil {
			continue
		}
		pair := pair
		g.Go(func() error {
			e.tryEnter(tickCtx, ctx, snapshot, pair, &refusalLogged)
			return nil
		})
	}

	for _, position := range e.Positions() {
		symbol := position.Symbol
		g.Go(func() error {
			e.monitorPosition(tickCtx, ctx, snapshot, symbol)
			return nil
		})
	}

	_ = g.Wait()
}

// symbolLock returns the mutex serializing all work for one symbol.
func (e *Engine) symbolLock(symbol string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[symbol] = lock
	}
	return lock
}

func (e *Engine) position(symbol string) *core.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions[symbol]
}

func (e *Engine) openCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.positions)
}

func (e *Engine) countByStrategy(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for _, p := range e.positions {
		if p.Strategy == name {
			count++
		}
	}
	return count
}

func (e *Engine) setPosition(p *core.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[p.Symbol] = p
	delete(e.pending, p.Symbol)
}

// updatePosition applies a field mutation under the map lock so control-plane
// snapshots never observe a torn position. Writers are already serialized by
// the symbol lock; this fences them against concurrent readers.
func (e *Engine) updatePosition(p *core.Position, fn func(*core.Position)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(p)
}

func (e *Engine) removePosition(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.positions, symbol)
	delete(e.flags, symbol)
}

func (e *Engine) setFlag(symbol, flag string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if flag == "" {
		delete(e.flags, symbol)
		return
	}
	e.flags[symbol] = flag
}

// entryTicket is one reserved entry slot: a buy between its limit checks and
// its fill.
type entryTicket struct {
	strategy string
	quote    decimal.Decimal
}

// reserveEntry atomically checks the global limits and claims a slot for a
// candidate buy. Reservations count toward the position, per-strategy and
// exposure caps, so entry scans running concurrently cannot overshoot them
// between check and fill. Exposure sums open notionals at entry prices, a
// conservative approximation: live prices would need one exchange call per
// position.
func (e *Engine) reserveEntry(symbol, strategy string, quote decimal.Decimal, snapshot *config.Config) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.positions)+len(e.pending) >= snapshot.Limits.MaxTotalPositions {
		return false
	}

	if limit := snapshot.StrategyCap(strategy); limit > 0 {
		count := 0
		for _, p := range e.positions {
			if p.Strategy == strategy {
				count++
			}
		}
		for _, ticket := range e.pending {
			if ticket.strategy == strategy {
				count++
			}
		}
		if count >= limit {
			return false
		}
	}

	exposure := decimal.Zero
	for _, p := range e.positions {
		exposure = exposure.Add(p.NotionalAt(p.EntryPrice))
	}
	for _, ticket := range e.pending {
		exposure = exposure.Add(ticket.quote)
	}
	if exposure.Add(quote).GreaterThan(decimal.NewFromFloat(snapshot.Limits.MaxTotalExposureUSD)) {
		return false
	}

	e.pending[symbol] = entryTicket{strategy: strategy, quote: quote}
	return true
}

// releaseEntry drops a reservation whose buy never filled.
func (e *Engine) releaseEntry(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, symbol)
}

// portfolioContext builds the account-wide snapshot handed to the ensemble.
func (e *Engine) portfolioContext(
	ctx context.Context,
	snapshot *config.Config,
	symbol string,
	quoteBalance decimal.Decimal,
) core.PortfolioContext {
	e.mu.Lock()
	byStrategy := make(map[string]int)
	symbols := make([]string, 0, len(e.positions))
	exposure := decimal.Zero
	for _, p := range e.positions {
		byStrategy[p.Strategy]++
		symbols = append(symbols, p.Symbol)
		exposure = exposure.Add(p.NotionalAt(p.EntryPrice))
	}
	open := len(e.positions)
	e.mu.Unlock()

	pc := core.PortfolioContext{
		OpenPositions: open,
		MaxPositions:  snapshot.Limits.MaxTotalPositions,
		ByStrategy:    byStrategy,
		Symbols:       symbols,
		QuoteBalance:  quoteBalance,
		TotalExposure: exposure,
		Equity:        quoteBalance.Add(exposure),
	}

	midnight := time.Now().Truncate(24 * time.Hour)
	if trades, err := e.store.Trades(ctx, core.WithSince(midnight)); err == nil {
		for _, t := range trades {
			if t.Action == core.SideSell {
				pc.DailyPnL = pc.DailyPnL.Add(t.PnL)
			}
		}
	}
	if recent, err := e.store.Trades(ctx, core.WithSymbol(symbol)); err == nil {
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		for _, t := range recent {
			pc.RecentTrades = append(pc.RecentTrades, *t)
		}
	}
	return pc
}

// ensembleOptions projects the live config snapshot into ensemble options.
func ensembleOptions(snapshot *config.Config) ai.Options {
	enabled := make(map[string]bool, len(snapshot.AI.ModelEnabled))
	for name, v := range snapshot.AI.ModelEnabled {
		enabled[name] = v
	}
	return ai.Options{
		MinConfidence: snapshot.AI.MinConfidence,
		Weights: map[string]float64{
			ai.ScorerSentiment: snapshot.AI.Weights.Sentiment,
			ai.ScorerTechnical: snapshot.AI.Weights.Technical,
			ai.ScorerMacro:     snapshot.AI.Weights.Macro,
			ai.ScorerLLM:       snapshot.AI.Weights.LLM,
		},
		Enabled: enabled,
	}
}

// appendTrade serializes history writes. A persistence failure is logged
// critically but never aborts the loop; the in-memory state stays correct.
func (e *Engine) appendTrade(ctx context.Context, record *core.TradeRecord) {
	e.tradeMu.Lock()
	defer e.tradeMu.Unlock()
	if err := e.store.AppendTrade(ctx, record); err != nil {
		e.log.WithError(err).WithField("symbol", record.Symbol).
			Error("CRITICAL: failed to persist trade record")
		e.notifyError(err)
	}
}

func (e *Engine) notify(text string) {
	if e.notifier != nil {
		e.notifier.Notify(text)
	}
}

func (e *Engine) notifyTrade(record core.TradeRecord) {
	if e.notifier != nil {
		e.notifier.OnTrade(record)
	}
}

func (e *Engine) notifyError(err error) {
	if e.notifier != nil {
		e.notifier.OnError(err)
	}
}
