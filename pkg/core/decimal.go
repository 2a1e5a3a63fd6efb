package core

import "github.com/cockroachdb/apd/v3"

var decimalContext = apd.BaseContext.WithPrecision(20)

// AveragePrice sets dst to quote/qty with trailing fractional zeros removed.
// dst is zero when either operand is zero.
func AveragePrice(dst, quote, qty *apd.Decimal) error {
	if qty.IsZero() || quote.IsZero() {
		dst.SetInt64(0)
		return nil
	}
	if _, err := decimalContext.Quo(dst, quote, qty); err != nil {
		return err
	}
	dst.Reduce(dst)
	if dst.Exponent > 0 {
		if _, err := decimalContext.Quantize(dst, dst, 0); err != nil {
			return err
		}
	}
	return nil
}
