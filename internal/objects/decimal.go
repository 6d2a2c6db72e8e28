package objects

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// ParseDecimal accepts the loosely typed numbers found in JSON payloads.
func ParseDecimal(v any) (decimal.Decimal, error) {
	switch v := v.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		return decimal.NewFromString(v)
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int, int32, int64:
		return decimal.NewFromInt(cast.ToInt64(v)), nil
	default:
		return decimal.Zero, fmt.Errorf("unmarshal decimal: %v", v)
	}
}
