package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"helmsman/core"

	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
)

// OrderError wraps a failed order submission with its trading context.
type OrderError struct {
	Err    error
	Pair   string
	Side   core.Side
	Amount decimal.Decimal
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("order error: %v, pair: %s, side: %s, amount: %s",
		e.Err, e.Pair, e.Side, e.Amount)
}

func (e *OrderError) Unwrap() error { return e.Err }

// Binance API error codes the retry policy cares about.
const (
	codeDisconnected   = -1001
	codeTooManyReqs    = -1003
	codeTimestamp      = -1021
	codeFilterFailure  = -1013
	codeInvalidNonce   = -1022
	codeNewOrderReject = -2010
)

// IsVolumeMin reports whether the error is the exchange refusing an order
// below its minimum notional or lot size. This is terminal: the position is
// dust and must be purged, not retried.
func IsVolumeMin(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == codeFilterFailure {
			return true
		}
		msg := strings.ToUpper(apiErr.Message)
		return strings.Contains(msg, "NOTIONAL") ||
			strings.Contains(msg, "LOT_SIZE") ||
			strings.Contains(msg, "VOLUME MINIMUM")
	}
	return false
}

// IsRateLimit reports whether the exchange is throttling us.
func IsRateLimit(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == codeTooManyReqs
	}
	return false
}

// IsTransient reports whether the error is worth retrying: network
// timeouts, rate limits, exchange hiccups, and signature/nonce errors the
// client re-signs on the next attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsVolumeMin(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeDisconnected, codeTooManyReqs, codeTimestamp, codeInvalidNonce:
			return true
		}
		return false
	}
	return false
}
