package core

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

type MetricKind uint8

const (
	MetricInt MetricKind = iota + 1
	MetricFloat
	MetricString
	MetricBool
)

// MetricValue is a raw measurement: an int, float, string or bool.
// The zero value is an int 0.
type MetricValue struct {
	kind MetricKind
	i    int64
	f    float64
	s    string
	b    bool
}

func Int(v int64) MetricValue     { return MetricValue{kind: MetricInt, i: v} }
func Float(v float64) MetricValue { return MetricValue{kind: MetricFloat, f: v} }
func String(v string) MetricValue { return MetricValue{kind: MetricString, s: v} }
func Bool(v bool) MetricValue     { return MetricValue{kind: MetricBool, b: v} }

func (m MetricValue) Kind() MetricKind {
	if m.kind == 0 {
		return MetricInt
	}
	return m.kind
}

// Float64 reports the numeric value of the metric; ok is false for strings.
func (m MetricValue) Float64() (float64, bool) {
	switch m.Kind() {
	case MetricInt:
		return float64(m.i), true
	case MetricFloat:
		return m.f, true
	case MetricBool:
		if m.b {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func (m MetricValue) String() string {
	switch m.Kind() {
	case MetricFloat:
		return strconv.FormatFloat(m.f, 'f', -1, 64)
	case MetricString:
		return m.s
	case MetricBool:
		return strconv.FormatBool(m.b)
	default:
		return strconv.FormatInt(m.i, 10)
	}
}

func (m MetricValue) MarshalJSON() ([]byte, error) {
	switch m.Kind() {
	case MetricFloat:
		if math.IsNaN(m.f) || math.IsInf(m.f, 0) {
			return []byte("null"), nil
		}
		data, err := json.Marshal(m.f)
		if err != nil {
			return nil, err
		}
		// integral floats keep a fraction so they decode back as floats
		if !bytes.ContainsAny(data, ".eE") {
			data = append(data, ".0"...)
		}
		return data, nil
	case MetricString:
		return json.Marshal(m.s)
	case MetricBool:
		return json.Marshal(m.b)
	default:
		return json.Marshal(m.i)
	}
}

func (m *MetricValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*m = Float(math.NaN())
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = String(s)
		return nil
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*m = Bool(data[0] == 't')
		return nil
	}

	if !bytes.ContainsAny(data, ".eE") {
		if i, err := strconv.ParseInt(string(data), 10, 64); err == nil {
			*m = Int(i)
			return nil
		}
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid metric value %s", data)
	}
	*m = Float(f)
	return nil
}

// Metrics is an open key to measurement mapping, stored as JSONB.
type Metrics map[string]MetricValue

func (m Metrics) Value() (driver.Value, error) {
	if m == nil {
		m = Metrics{}
	}
	return json.Marshal(m)
}

func (m *Metrics) Scan(value interface{}) error {
	if value == nil {
		*m = Metrics{}
		return nil
	}
	data, err := jsonBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, m)
}
