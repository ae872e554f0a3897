package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"merchantrisk/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.TransactionFields, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]any) *normalize.TransactionFields {
	values := make(map[string]string, len(obj))
	for key, val := range obj {
		if val == nil {
			continue
		}
		values[strings.ToLower(key)] = jsonString(val)
	}
	return fieldsFromMap(values)
}

// jsonString renders numbers without exponent notation so amounts survive.
func jsonString(v any) string {
	switch t := v.(type) {
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case string:
		return t
	default:
		return fmt.Sprint(v)
	}
}
