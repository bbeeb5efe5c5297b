package parser

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// The catalog API is loose about scalar types: ids and prices show up as
// numbers on some products and strings on others. These helpers decode a
// raw value into the wanted type and fall back to the zero value.

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func asString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}

func asFloat(raw json.RawMessage) float64 {
	if isNull(raw) {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return parsed
		}
	}
	return 0
}

func asObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if isNull(raw) {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func asArray(raw json.RawMessage) []json.RawMessage {
	if isNull(raw) {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return items
}

// path walks nested objects and returns the raw value at the end of keys.
func path(obj map[string]json.RawMessage, keys ...string) json.RawMessage {
	var current json.RawMessage
	for i, key := range keys {
		if i > 0 {
			next, ok := asObject(current)
			if !ok {
				return nil
			}
			obj = next
		}
		value, ok := obj[key]
		if !ok {
			return nil
		}
		current = value
	}
	return current
}
