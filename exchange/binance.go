// Package exchange provides the Binance spot adapter behind core.Exchange.
package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"helmsman/core"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const defaultCallTimeout = 30 * time.Second

// Spot is a Binance spot market client. It performs no retries of its own;
// retry is engine policy. Each call runs under its own timeout and consumes
// a rate-limit token, so concurrent symbol work queues fairly under the
// exchange's request budget.
type Spot struct {
	client      *binance.Client
	limiter     *rate.Limiter
	callTimeout time.Duration
	assetsInfo  map[string]core.AssetInfo
	log         core.Logger
}

// SpotOption is a function that configures a Spot client
type SpotOption func(*Spot)

// WithCredentials sets the API credentials for the Spot client
func WithCredentials(key, secret string) SpotOption {
	return func(s *Spot) {
		s.client = binance.NewClient(key, secret)
	}
}

// WithTestNet enables the Binance testnet
func WithTestNet() SpotOption {
	return func(_ *Spot) {
		binance.UseTestnet = true
	}
}

// WithRateLimit overrides the request budget (requests per second).
func WithRateLimit(rps float64, burst int) SpotOption {
	return func(s *Spot) {
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCallTimeout overrides the per-call deadline.
func WithCallTimeout(d time.Duration) SpotOption {
	return func(s *Spot) {
		s.callTimeout = d
	}
}

// NewSpot creates a new Binance spot exchange client
func NewSpot(ctx context.Context, log core.Logger, options ...SpotOption) (*Spot, error) {
	spot := &Spot{
		client:      binance.NewClient("", ""),
		limiter:     rate.NewLimiter(rate.Limit(10), 20),
		callTimeout: defaultCallTimeout,
		assetsInfo:  make(map[string]core.AssetInfo),
		log:         log,
	}

	for _, option := range options {
		option(spot)
	}

	if err := spot.client.NewPingService().Do(ctx); err != nil {
		return nil, fmt.Errorf("binance ping fail: %w", err)
	}

	exchangeInfo, err := spot.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange info: %w", err)
	}

	// Initialize with orders precision and assets limits
	for _, info := range exchangeInfo.Symbols {
		assetInfo := core.AssetInfo{
			BaseAsset:          info.BaseAsset,
			QuoteAsset:         info.QuoteAsset,
			BaseAssetPrecision: info.BaseAssetPrecision,
			QuotePrecision:     info.QuotePrecision,
		}

		for _, filter := range info.Filters {
			typ, ok := filter["filterType"]
			if !ok {
				continue
			}

			switch typ {
			case string(binance.SymbolFilterTypeLotSize):
				assetInfo.MinQuantity, _ = strconv.ParseFloat(filter["minQty"].(string), 64)
				assetInfo.MaxQuantity, _ = strconv.ParseFloat(filter["maxQty"].(string), 64)
				assetInfo.StepSize, _ = strconv.ParseFloat(filter["stepSize"].(string), 64)
			case string(binance.SymbolFilterTypePriceFilter):
				assetInfo.MinPrice, _ = strconv.ParseFloat(filter["minPrice"].(string), 64)
				assetInfo.MaxPrice, _ = strconv.ParseFloat(filter["maxPrice"].(string), 64)
				assetInfo.TickSize, _ = strconv.ParseFloat(filter["tickSize"].(string), 64)
			case "MIN_NOTIONAL", "NOTIONAL":
				if v, ok := filter["minNotional"].(string); ok {
					assetInfo.MinNotional, _ = strconv.ParseFloat(v, 64)
				}
			}
		}

		spot.assetsInfo[info.Symbol] = assetInfo
	}

	log.Info("using Binance spot exchange")
	return spot, nil
}

// AssetsInfo returns market information about a pair.
func (s *Spot) AssetsInfo(pair string) (core.AssetInfo, error) {
	info, ok := s.assetsInfo[pair]
	if !ok {
		return core.AssetInfo{}, fmt.Errorf("asset info not found for pair: %s", pair)
	}
	return info, nil
}

// acquire waits for a rate-limit token and caps the call with its timeout.
func (s *Spot) acquire(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	return callCtx, cancel, nil
}

// LastQuote gets the latest trade price for a pair.
func (s *Spot) LastQuote(ctx context.Context, pair string) (decimal.Decimal, error) {
	callCtx, cancel, err := s.acquire(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer cancel()

	prices, err := s.client.NewListPricesService().Symbol(pair).Do(callCtx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch ticker %s: %w", pair, err)
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("fetch ticker %s: empty response", pair)
	}

	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse ticker price %q: %w", prices[0].Price, err)
	}
	return price, nil
}

// CandlesByLimit gets the most recent complete candles for a pair,
// newest-last. The still-forming candle is discarded.
func (s *Spot) CandlesByLimit(ctx context.Context, pair, timeframe string, limit int) ([]core.Candle, error) {
	callCtx, cancel, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	data, err := s.client.NewKlinesService().
		Symbol(pair).
		Interval(timeframe).
		Limit(limit + 1). // +1 to discard the last incomplete candle
		Do(callCtx)
	if err != nil {
		return nil, fmt.Errorf("fetch candles %s %s: %w", pair, timeframe, err)
	}

	candles := make([]core.Candle, 0, len(data))
	for i, d := range data {
		if i == len(data)-1 {
			break
		}
		candles = append(candles, convertKlineToCandle(pair, *d))
	}
	return candles, nil
}

// Balances returns the free amount of every non-empty asset.
func (s *Spot) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	callCtx, cancel, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	acc, err := s.client.NewGetAccountService().Do(callCtx)
	if err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}

	balances := make(map[string]decimal.Decimal, len(acc.Balances))
	for _, balance := range acc.Balances {
		free, err := decimal.NewFromString(balance.Free)
		if err != nil {
			return nil, fmt.Errorf("parse balance %s: %w", balance.Asset, err)
		}
		if free.IsZero() {
			continue
		}
		balances[balance.Asset] = free
	}
	return balances, nil
}

// CreateOrderMarketQuote submits a market buy sized in quote currency.
func (s *Spot) CreateOrderMarketQuote(ctx context.Context, pair string, quote decimal.Decimal) (core.Order, error) {
	if !quote.IsPositive() {
		return core.Order{}, &OrderError{Err: core.ErrInvalidQuantity, Pair: pair, Side: core.SideBuy, Amount: quote}
	}

	callCtx, cancel, err := s.acquire(ctx)
	if err != nil {
		return core.Order{}, err
	}
	defer cancel()

	info := s.assetsInfo[pair]
	order, err := s.client.NewCreateOrderService().
		Symbol(pair).
		Type(binance.OrderTypeMarket).
		Side(binance.SideTypeBuy).
		QuoteOrderQty(quote.Round(int32(info.QuotePrecision)).String()).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(callCtx)
	if err != nil {
		return core.Order{}, &OrderError{Err: err, Pair: pair, Side: core.SideBuy, Amount: quote}
	}

	return convertCreateResponse(pair, core.SideBuy, order)
}

// CreateOrderMarket submits a market sell sized in base asset units. The
// quantity is truncated to the pair's lot step before submission.
func (s *Spot) CreateOrderMarket(ctx context.Context, pair string, size decimal.Decimal) (core.Order, error) {
	if !size.IsPositive() {
		return core.Order{}, &OrderError{Err: core.ErrInvalidQuantity, Pair: pair, Side: core.SideSell, Amount: size}
	}

	callCtx, cancel, err := s.acquire(ctx)
	if err != nil {
		return core.Order{}, err
	}
	defer cancel()

	order, err := s.client.NewCreateOrderService().
		Symbol(pair).
		Type(binance.OrderTypeMarket).
		Side(binance.SideTypeSell).
		Quantity(s.formatQuantity(pair, size)).
		NewOrderRespType(binance.NewOrderRespTypeFULL).
		Do(callCtx)
	if err != nil {
		return core.Order{}, &OrderError{Err: err, Pair: pair, Side: core.SideSell, Amount: size}
	}

	return convertCreateResponse(pair, core.SideSell, order)
}

// formatQuantity truncates a quantity to the pair's step-size precision.
func (s *Spot) formatQuantity(pair string, value decimal.Decimal) string {
	info, ok := s.assetsInfo[pair]
	if !ok || info.StepSize <= 0 {
		return value.Truncate(8).String()
	}
	return value.Truncate(int32(core.NumDecPlaces(info.StepSize))).String()
}

func convertCreateResponse(pair string, side core.Side, order *binance.CreateOrderResponse) (core.Order, error) {
	cost, err := decimal.NewFromString(order.CummulativeQuoteQuantity)
	if err != nil {
		return core.Order{}, fmt.Errorf("parse fill cost %q: %w", order.CummulativeQuoteQuantity, err)
	}
	quantity, err := decimal.NewFromString(order.ExecutedQuantity)
	if err != nil {
		return core.Order{}, fmt.Errorf("parse fill quantity %q: %w", order.ExecutedQuantity, err)
	}
	if !quantity.IsPositive() {
		return core.Order{}, &OrderError{Err: fmt.Errorf("order filled nothing"), Pair: pair, Side: side}
	}

	return core.Order{
		ExchangeID: order.OrderID,
		Pair:       pair,
		Side:       side,
		Quantity:   quantity,
		Price:      cost.Div(quantity),
		Quote:      cost,
		CreatedAt:  time.Unix(0, order.TransactTime*int64(time.Millisecond)),
	}, nil
}

// convertKlineToCandle converts a Binance kline to a core.Candle
func convertKlineToCandle(pair string, k binance.Kline) core.Candle {
	candle := core.Candle{
		Pair:     pair,
		Time:     time.Unix(0, k.OpenTime*int64(time.Millisecond)),
		Complete: true,
	}

	candle.Open, _ = strconv.ParseFloat(k.Open, 64)
	candle.Close, _ = strconv.ParseFloat(k.Close, 64)
	candle.High, _ = strconv.ParseFloat(k.High, 64)
	candle.Low, _ = strconv.ParseFloat(k.Low, 64)
	candle.Volume, _ = strconv.ParseFloat(k.Volume, 64)

	return candle
}
