package core

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/exp/constraints"
)

// Series is a time series of ordered values
// It provides methods for analyzing time series data
type Series[T constraints.Ordered] []T

// Values returns the underlying slice of values
func (s Series[T]) Values() []T {
	return s
}

// Length returns the number of values in the series
func (s Series[T]) Length() int {
	return len(s)
}

// Last returns the value at a specified position from the end
// position 0 is the last value, 1 is the second-to-last, etc.
func (s Series[T]) Last(position int) T {
	return s[len(s)-1-position]
}

// LastValues returns a slice with the last 'size' values
// If size exceeds the length, returns the entire series
func (s Series[T]) LastValues(size int) Series[T] {
	if l := len(s); l > size {
		return s[l-size:]
	}
	return s
}

// Crossover detects when this series crosses above the reference series
// Returns true when the current value is higher, but the previous value was not
func (s Series[T]) Crossover(ref Series[T]) bool {
	return s.Last(0) > ref.Last(0) && s.Last(1) <= ref.Last(1)
}

// NumDecPlaces returns the number of decimal places in a float64
// Useful for formatting with appropriate precision
func NumDecPlaces(v float64) int64 {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	i := strings.IndexByte(s, '.')
	if i > -1 {
		return int64(len(s) - i - 1)
	}
	return 0
}

// FormatPrice renders a price with between 2 and 8 decimal places, widening
// until at least one significant digit of a sub-cent price is visible. A
// micro-cap quote like 0.0000004 comes out as "0.00000040" instead of "0.00".
func FormatPrice(price decimal.Decimal) string {
	places := 2
	if price.IsPositive() && price.LessThan(decimal.NewFromInt(1)) {
		abs := price.Abs()
		threshold := decimal.New(1, -2) // 0.01
		for places < 8 && abs.LessThan(threshold) {
			places++
			threshold = threshold.Shift(-1)
		}
		if places > 2 && places < 8 {
			places++ // keep a second significant digit
		}
	}
	return price.StringFixed(int32(places))
}

// FormatUSD is FormatPrice with a dollar prefix.
func FormatUSD(price decimal.Decimal) string {
	return "$" + FormatPrice(price)
}
