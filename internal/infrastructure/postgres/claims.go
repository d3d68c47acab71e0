package postgres

import (
	"fmt"
	"strconv"
)

// scalar renders a claim value as a setting. Objects and arrays are skipped.
func scalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int, int32, int64:
		return fmt.Sprint(t), true
	}
	return "", false
}
