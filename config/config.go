package config

import (
	"fmt"
	"math"
	"time"

	"github.com/samber/lo"
)

// Config is one immutable configuration snapshot. The engine never sees a
// half-applied reload: the loader validates a whole new Config and installs
// it with a single atomic swap.
type Config struct {
	Log        Log                 `mapstructure:"log"`
	Exchange   Exchange            `mapstructure:"exchange"`
	Storage    Storage             `mapstructure:"storage"`
	Telegram   Telegram            `mapstructure:"telegram"`
	Engine     Engine              `mapstructure:"engine"`
	AI         AI                  `mapstructure:"ai"`
	Limits     Limits              `mapstructure:"limits"`
	Defaults   RiskDefaults        `mapstructure:"defaults"`
	Strategies map[string]Strategy `mapstructure:"strategies"`
	Pairs      []Pair              `mapstructure:"pairs"`
}

type Log struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

type Exchange struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Testnet    bool   `mapstructure:"testnet"`
	QuoteAsset string `mapstructure:"quote_asset"`
}

type Storage struct {
	Backend string `mapstructure:"backend"` // bunt | sqlite
	Path    string `mapstructure:"path"`
}

type Telegram struct {
	Enabled bool    `mapstructure:"enabled"`
	Token   string  `mapstructure:"token"`
	Users   []int64 `mapstructure:"users"`
}

type Engine struct {
	TickInterval     time.Duration `mapstructure:"-"`
	TickDeadline     time.Duration `mapstructure:"-"`
	EntryConcurrency int           `mapstructure:"entry_concurrency"`
	Timeframe        string        `mapstructure:"timeframe"`
	CandleWindow     int           `mapstructure:"candle_window"`
}

type AI struct {
	Enabled       bool               `mapstructure:"enabled"`
	MinConfidence float64            `mapstructure:"min_confidence"`
	Weights       Weights            `mapstructure:"weights"`
	ModelEnabled  map[string]bool    `mapstructure:"model_enabled"`
	LLM           LLM                `mapstructure:"llm"`
	Macro         map[string]float64 `mapstructure:"macro"`
}

type Weights struct {
	Sentiment float64 `mapstructure:"sentiment"`
	Technical float64 `mapstructure:"technical"`
	Macro     float64 `mapstructure:"macro"`
	LLM       float64 `mapstructure:"llm"`
}

// Sum returns the total ensemble weight, which must be 1.0 within tolerance.
func (w Weights) Sum() float64 {
	return w.Sentiment + w.Technical + w.Macro + w.LLM
}

type LLM struct {
	Endpoint    string        `mapstructure:"endpoint"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"-"`
	Mode        string        `mapstructure:"mode"` // validator | debate
}

type Limits struct {
	MaxTotalPositions                int            `mapstructure:"max_total_positions"`
	MaxPositionsPerStrategy          map[string]int `mapstructure:"max_positions_per_strategy"`
	MaxOrderSizeUSD                  float64        `mapstructure:"max_order_size_usd"`
	MaxTotalExposureUSD              float64        `mapstructure:"max_total_exposure_usd"`
	MinOrderValueUSD                 float64        `mapstructure:"min_order_value_usd"`
	ProfitProtectionThresholdPercent float64        `mapstructure:"profit_protection_threshold_percent"`
}

// RiskDefaults are the exit parameters used when a position carries no
// AI-set values and its strategy table has none either.
type RiskDefaults struct {
	StopLossPercent     float64 `mapstructure:"stop_loss_percent"`
	TakeProfitPercent   float64 `mapstructure:"take_profit_percent"`
	PositionSizePercent float64 `mapstructure:"position_size_percent"`
}

type Strategy struct {
	Enabled             bool         `mapstructure:"enabled"`
	StopLossPercent     float64      `mapstructure:"stop_loss_percent"`
	TakeProfitPercent   float64      `mapstructure:"take_profit_percent"`
	PositionSizePercent float64      `mapstructure:"position_size_percent"`
	MinHoldMinutes      int          `mapstructure:"min_hold_minutes"`
	TrailingStop        TrailingStop `mapstructure:"trailing_stop"`
}

type TrailingStop struct {
	Enabled           bool    `mapstructure:"enabled"`
	ActivationPercent float64 `mapstructure:"activation_percent"`
	DistancePercent   float64 `mapstructure:"distance_percent"`
}

type Pair struct {
	Symbol            string   `mapstructure:"symbol"`
	Enabled           bool     `mapstructure:"enabled"`
	AllocationPercent float64  `mapstructure:"allocation_percent"`
	Strategies        []string `mapstructure:"strategies"`
}

// KnownStrategies is the closed set of strategy tags the evaluator ships.
var KnownStrategies = []string{"scalping", "momentum", "mean_reversion", "macd_supertrend"}

// KnownScorers is the closed set of ensemble scorer names.
var KnownScorers = []string{"sentiment", "technical", "macro", "llm"}

const weightTolerance = 0.001

// Trailing stop fallbacks for strategies that enable it without tuning it.
const (
	defaultTrailingActivationPercent = 5.0
	defaultTrailingDistancePercent   = 3.0
)

// Validate checks the whole snapshot. A snapshot that fails validation is
// never installed; the previous one stays in effect.
func (c *Config) Validate() error {
	if c.AI.MinConfidence < 0 || c.AI.MinConfidence > 1 {
		return fmt.Errorf("ai.min_confidence %.3f outside [0, 1]", c.AI.MinConfidence)
	}
	if sum := c.AI.Weights.Sum(); math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("ai.weights sum to %.4f, want 1.0 ±%.3f", sum, weightTolerance)
	}
	if c.AI.LLM.Mode != "" && c.AI.LLM.Mode != "validator" && c.AI.LLM.Mode != "debate" {
		return fmt.Errorf("ai.llm.mode %q, want validator or debate", c.AI.LLM.Mode)
	}
	for name, s := range c.Strategies {
		if !lo.Contains(KnownStrategies, name) {
			return fmt.Errorf("strategies.%s: unknown strategy", name)
		}
		ts := s.TrailingStop
		if ts.ActivationPercent < 0 {
			return fmt.Errorf("strategies.%s: trailing_stop.activation_percent %.2f negative",
				name, ts.ActivationPercent)
		}
		if ts.DistancePercent < 0 || ts.DistancePercent >= 100 {
			return fmt.Errorf("strategies.%s: trailing_stop.distance_percent %.2f outside [0, 100)",
				name, ts.DistancePercent)
		}
	}
	for name := range c.Limits.MaxPositionsPerStrategy {
		if !lo.Contains(KnownStrategies, name) {
			return fmt.Errorf("limits.max_positions_per_strategy.%s: unknown strategy", name)
		}
	}
	for name := range c.AI.ModelEnabled {
		if !lo.Contains(KnownScorers, name) {
			return fmt.Errorf("ai.model_enabled.%s: unknown scorer", name)
		}
	}
	if c.Limits.MaxTotalPositions <= 0 {
		return fmt.Errorf("limits.max_total_positions must be positive")
	}
	if c.Limits.MinOrderValueUSD <= 0 {
		return fmt.Errorf("limits.min_order_value_usd must be positive")
	}
	if c.Engine.TickDeadline >= c.Engine.TickInterval {
		return fmt.Errorf("engine.tick_deadline %s must be shorter than tick_interval %s",
			c.Engine.TickDeadline, c.Engine.TickInterval)
	}
	seen := map[string]bool{}
	for i, p := range c.Pairs {
		if p.Symbol == "" {
			return fmt.Errorf("pairs[%d]: empty symbol", i)
		}
		if seen[p.Symbol] {
			return fmt.Errorf("pairs[%d]: duplicate symbol %s", i, p.Symbol)
		}
		seen[p.Symbol] = true
		if p.AllocationPercent <= 0 || p.AllocationPercent > 100 {
			return fmt.Errorf("pairs[%d] %s: allocation_percent %.2f outside (0, 100]",
				i, p.Symbol, p.AllocationPercent)
		}
		for _, s := range p.Strategies {
			if !lo.Contains(KnownStrategies, s) {
				return fmt.Errorf("pairs[%d] %s: unknown strategy %q", i, p.Symbol, s)
			}
		}
	}
	return nil
}

// EnabledPairs returns the pairs the engine should trade.
func (c *Config) EnabledPairs() []Pair {
	return lo.Filter(c.Pairs, func(p Pair, _ int) bool { return p.Enabled })
}

// PairFor returns the config of a symbol, if it is configured.
func (c *Config) PairFor(symbol string) (Pair, bool) {
	return lo.Find(c.Pairs, func(p Pair) bool { return p.Symbol == symbol })
}

// StrategyRisk resolves the risk table for a strategy tag, falling back to
// the global defaults for any zero field. An enabled trailing stop with no
// percents gets the standard 5.0/3.0 tuning; left at zero it would arm on
// any profit and trigger at the peak itself.
func (c *Config) StrategyRisk(name string) Strategy {
	s := c.Strategies[name]
	if s.StopLossPercent == 0 {
		s.StopLossPercent = c.Defaults.StopLossPercent
	}
	if s.TakeProfitPercent == 0 {
		s.TakeProfitPercent = c.Defaults.TakeProfitPercent
	}
	if s.PositionSizePercent == 0 {
		s.PositionSizePercent = c.Defaults.PositionSizePercent
	}
	if s.TrailingStop.Enabled {
		if s.TrailingStop.ActivationPercent == 0 {
			s.TrailingStop.ActivationPercent = defaultTrailingActivationPercent
		}
		if s.TrailingStop.DistancePercent == 0 {
			s.TrailingStop.DistancePercent = defaultTrailingDistancePercent
		}
	}
	return s
}

// StrategyEnabled reports whether a strategy may act: open entries and
// volunteer rule exits. A strategy with no config section is enabled; a
// configured section carries its own flag. Risk exits (stop-loss,
// take-profit, trailing) run regardless.
func (c *Config) StrategyEnabled(name string) bool {
	s, ok := c.Strategies[name]
	return !ok || s.Enabled
}

// ScorerEnabled reports whether a named scorer participates in the ensemble.
// Absent entries default to enabled.
func (c *Config) ScorerEnabled(name string) bool {
	enabled, ok := c.AI.ModelEnabled[name]
	return !ok || enabled
}

// StrategyCap returns the per-strategy position cap, or zero for "no cap".
func (c *Config) StrategyCap(name string) int {
	return c.Limits.MaxPositionsPerStrategy[name]
}
