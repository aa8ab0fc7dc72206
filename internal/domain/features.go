package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FeatureCount is the number of anonymized features (V1..V28).
const FeatureCount = 28

// Column names shared by the scoring wire format, the export batch and
// the rule engine.
const (
	ColumnAmount = "Amount"
	ColumnTime   = "Time"
	ColumnClass  = "Class"
)

// FeatureColumns is the canonical column order: V1..V28 followed by Amount.
// The scoring endpoint depends on this order; a different order silently
// corrupts predictions.
var FeatureColumns = func() []string {
	cols := make([]string, 0, FeatureCount+1)
	for i := 1; i <= FeatureCount; i++ {
		cols = append(cols, featureName(i))
	}
	return append(cols, ColumnAmount)
}()

func featureName(i int) string {
	return "V" + strconv.Itoa(i)
}

// FeatureVector is the validated representation of one transaction.
type FeatureVector struct {
	V      [FeatureCount]float64 `json:"-"`
	Amount float64               `json:"-"`
	Time   *float64              `json:"-"`
}

// ParseFeatureVector validates a raw JSON object and builds a FeatureVector.
// All of V1..V28 and Amount must be present and numeric; Time is optional.
func ParseFeatureVector(raw map[string]any) (FeatureVector, error) {
	var fv FeatureVector
	if raw == nil {
		return fv, fmt.Errorf("%w: feature vector is required", ErrInvalidInput)
	}

	var missing []string
	for i := 0; i < FeatureCount; i++ {
		name := featureName(i + 1)
		v, ok := raw[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		f, err := toFloat(name, v)
		if err != nil {
			return FeatureVector{}, err
		}
		fv.V[i] = f
	}

	amount, ok := raw[ColumnAmount]
	if !ok {
		missing = append(missing, ColumnAmount)
	}
	if len(missing) > 0 {
		return FeatureVector{}, fmt.Errorf("%w: missing features: %s", ErrInvalidInput, strings.Join(missing, ", "))
	}

	f, err := toFloat(ColumnAmount, amount)
	if err != nil {
		return FeatureVector{}, err
	}
	if f < 0 {
		return FeatureVector{}, fmt.Errorf("%w: Amount must be non-negative, got %v", ErrInvalidInput, f)
	}
	fv.Amount = f

	if t, ok := raw[ColumnTime]; ok && t != nil {
		tf, err := toFloat(ColumnTime, t)
		if err != nil {
			return FeatureVector{}, err
		}
		fv.Time = &tf
	}

	return fv, nil
}

func toFloat(name string, v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s is not numeric", ErrInvalidInput, name)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%w: %s is not numeric (got %T)", ErrInvalidInput, name, v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s must be finite", ErrInvalidInput, name)
	}
	return f, nil
}

// Get returns the value of a named feature.
func (fv FeatureVector) Get(name string) (float64, bool) {
	switch name {
	case ColumnAmount:
		return fv.Amount, true
	case ColumnTime:
		if fv.Time == nil {
			return 0, false
		}
		return *fv.Time, true
	}
	if !strings.HasPrefix(name, "V") {
		return 0, false
	}
	i, err := strconv.Atoi(name[1:])
	if err != nil || i < 1 || i > FeatureCount {
		return 0, false
	}
	return fv.V[i-1], true
}

// Map returns the features keyed by column name.
func (fv FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, FeatureCount+2)
	for i, v := range fv.V {
		m[featureName(i+1)] = v
	}
	m[ColumnAmount] = fv.Amount
	if fv.Time != nil {
		m[ColumnTime] = *fv.Time
	}
	return m
}

// Values returns the 29 model inputs in FeatureColumns order.
func (fv FeatureVector) Values() []float64 {
	vals := make([]float64, 0, FeatureCount+1)
	vals = append(vals, fv.V[:]...)
	return append(vals, fv.Amount)
}

// CSV serializes the model inputs as one comma-separated line, no header.
func (fv FeatureVector) CSV() string {
	vals := fv.Values()
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// MarshalJSON encodes the vector as a flat object keyed by column name.
func (fv FeatureVector) MarshalJSON() ([]byte, error) {
	return json.Marshal(fv.Map())
}

// UnmarshalJSON decodes a flat object and validates it.
func (fv *FeatureVector) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	parsed, err := ParseFeatureVector(raw)
	if err != nil {
		return err
	}
	*fv = parsed
	return nil
}
