package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// coerceScale is the number of fractional digits kept by Coerce.
const coerceScale = 2

// cent is one unit in the last kept place (0.01).
var cent = decimal.New(1, -coerceScale)

// Coerce converts an untyped scalar from the wire into a decimal.
//
// Rules, in order:
//   - nil becomes 0
//   - values that are already numeric are returned as-is
//   - strings that parse as a number (exponent notation allowed) are
//     truncated toward zero at two fractional digits
//   - strings that parse as a boolean become 0 or 1
//   - everything else becomes 0
//
// Coerce never fails; unparsable input silently becomes 0.
func Coerce(raw any) decimal.Decimal {
	switch v := raw.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return v
	case float64:
		return decimal.NewFromFloat(v)
	case float32:
		return decimal.NewFromFloat32(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case int64:
		return decimal.NewFromInt(v)
	case json.Number:
		if d, err := decimal.NewFromString(v.String()); err == nil {
			return d
		}
		return decimal.Zero
	case bool:
		if v {
			return decimal.NewFromInt(1)
		}
		return decimal.Zero
	}

	s := fmt.Sprintf("%v", raw)

	if d, err := decimal.NewFromString(s); err == nil {
		return truncateTowardZero(d)
	}

	if b, err := strconv.ParseBool(s); err == nil {
		if b {
			return decimal.NewFromInt(1)
		}
		return decimal.Zero
	}

	return decimal.Zero
}

// truncateTowardZero cuts d to two fractional digits without ever
// increasing its magnitude. It rounds first and then pulls the result
// back by one cent when rounding moved it away from zero; the
// round-then-correct order matters because downstream delta comparisons
// depend on these exact values.
func truncateTowardZero(d decimal.Decimal) decimal.Decimal {
	r := d.Round(coerceScale)

	switch {
	case d.Sign() > 0 && r.GreaterThan(d):
		return r.Sub(cent)
	case d.Sign() < 0 && r.LessThan(d):
		return r.Add(cent)
	}

	return r
}
