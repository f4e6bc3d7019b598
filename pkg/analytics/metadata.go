package analytics

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Recognized metadata keys. Anything else lands in Metadata.Extra.
const (
	MetaInputTokens    = "input_tokens"
	MetaOutputTokens   = "output_tokens"
	MetaSizeBytes      = "size_bytes"
	MetaResponseTimeMs = "response_time_ms"
)

// Metadata carries the numeric fields the aggregator reduces over plus an
// open map for everything else. On the wire it is a single flat JSON object.
type Metadata struct {
	InputTokens    *int64
	OutputTokens   *int64
	SizeBytes      *int64
	ResponseTimeMs *float64
	Extra          map[string]any
}

// MarshalJSON flattens the typed fields and Extra into one object
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+4)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.InputTokens != nil {
		out[MetaInputTokens] = *m.InputTokens
	}
	if m.OutputTokens != nil {
		out[MetaOutputTokens] = *m.OutputTokens
	}
	if m.SizeBytes != nil {
		out[MetaSizeBytes] = *m.SizeBytes
	}
	if m.ResponseTimeMs != nil {
		out[MetaResponseTimeMs] = *m.ResponseTimeMs
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts numbers or numeric strings for the recognized keys.
// A recognized key holding anything else is kept in Extra and treated as missing.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	*m = Metadata{}
	for k, v := range raw {
		switch k {
		case MetaInputTokens:
			if n, ok := toInt64(v); ok {
				m.InputTokens = &n
				continue
			}
		case MetaOutputTokens:
			if n, ok := toInt64(v); ok {
				m.OutputTokens = &n
				continue
			}
		case MetaSizeBytes:
			if n, ok := toInt64(v); ok {
				m.SizeBytes = &n
				continue
			}
		case MetaResponseTimeMs:
			if f, ok := toFloat64(v); ok {
				m.ResponseTimeMs = &f
				continue
			}
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[k] = plainValue(v)
	}
	return nil
}

// Input returns the input token count, zero when absent
func (m Metadata) Input() int64 {
	if m.InputTokens == nil {
		return 0
	}
	return *m.InputTokens
}

// Output returns the output token count, zero when absent
func (m Metadata) Output() int64 {
	if m.OutputTokens == nil {
		return 0
	}
	return *m.OutputTokens
}

// Size returns the stored artifact size, zero when absent
func (m Metadata) Size() int64 {
	if m.SizeBytes == nil {
		return 0
	}
	return *m.SizeBytes
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return floatToInt64(f)
		}
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return floatToInt64(f)
		}
	case float64:
		return floatToInt64(n)
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

// floatToInt64 truncates f, refusing values int64 cannot hold
func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		if f, err := n.Float64(); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return f, true
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return f, true
		}
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// plainValue turns json.Number back into int64/float64 so Extra round-trips
// as ordinary Go values.
func plainValue(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case map[string]any:
		for k, inner := range n {
			n[k] = plainValue(inner)
		}
		return n
	case []any:
		for i, inner := range n {
			n[i] = plainValue(inner)
		}
		return n
	}
	return v
}

// Int64Ptr returns a pointer to n
func Int64Ptr(n int64) *int64 {
	return &n
}

// Float64Ptr returns a pointer to f
func Float64Ptr(f float64) *float64 {
	return &f
}
