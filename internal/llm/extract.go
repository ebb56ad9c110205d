package llm

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ParseObject extracts a JSON object from raw model output.
// It first tries to parse the trimmed string directly; if that fails or
// yields a non-object, it tries the substring between the first '{' and the
// last '}' inclusive. This tolerates conversational wrapping around a JSON
// payload. Only that single brace window is tried; returns (nil, false) when
// no object can be recovered.
func ParseObject(raw string) (json.RawMessage, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}

	if obj, ok := asObject(raw); ok {
		return obj, true
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, false
	}
	return asObject(raw[start : end+1])
}

func asObject(s string) (json.RawMessage, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &probe); err != nil || probe == nil {
		return nil, false
	}
	return json.RawMessage(s), true
}

// Fields is a parsed JSON object with tolerant per-field accessors. A missing
// key or a value of the wrong type yields the zero value instead of failing
// the whole object, so one malformed field never discards the rest.
type Fields map[string]json.RawMessage

// ParseFields extracts a JSON object from raw model output and returns its
// top-level fields. See ParseObject for the extraction rules.
func ParseFields(raw string) (Fields, bool) {
	obj, ok := ParseObject(raw)
	if !ok {
		return nil, false
	}
	var f Fields
	if err := json.Unmarshal(obj, &f); err != nil {
		return nil, false
	}
	return f, true
}

// String returns the string value at key and whether the key held a string.
func (f Fields) String(key string) (string, bool) {
	v, ok := f[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

// Number returns the numeric value at key, accepting JSON numbers and quoted
// numbers. Missing or malformed values return 0.
func (f Fields) Number(key string) float64 {
	v, ok := f[key]
	if !ok {
		return 0
	}
	var s Score
	s.UnmarshalJSON(v)
	return float64(s)
}

// Strings returns the string-array value at key, or nil when the key is
// missing or not an array of strings.
func (f Fields) Strings(key string) []string {
	v, ok := f[key]
	if !ok {
		return nil
	}
	var out []string
	if err := json.Unmarshal(v, &out); err != nil {
		return nil
	}
	return out
}

// Score is a confidence value in [0,1] that decodes leniently: it accepts a
// JSON number, a quoted number, or null, and falls back to 0 on anything
// unparseable rather than failing the surrounding object.
type Score float64

func (s *Score) UnmarshalJSON(b []byte) error {
	*s = 0

	str := strings.TrimSpace(string(b))
	if str == "" || str == "null" {
		return nil
	}
	str = strings.Trim(str, `"`)
	if str == "" {
		return nil
	}

	f, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return nil
	}
	*s = Score(f)
	return nil
}
