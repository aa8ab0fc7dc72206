package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func rawVector(amount any) map[string]any {
	raw := make(map[string]any, FeatureCount+1)
	for i := 1; i <= FeatureCount; i++ {
		raw[featureName(i)] = float64(i) / 10
	}
	raw[ColumnAmount] = amount
	return raw
}

func TestFeatureColumns(t *testing.T) {
	if len(FeatureColumns) != FeatureCount+1 {
		t.Fatalf("expected %d columns, got %d", FeatureCount+1, len(FeatureColumns))
	}
	if FeatureColumns[0] != "V1" || FeatureColumns[27] != "V28" || FeatureColumns[28] != "Amount" {
		t.Errorf("unexpected column order: %v", FeatureColumns)
	}
}

func TestParseFeatureVector(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(map[string]any)
		wantErr string
	}{
		{"valid", func(map[string]any) {}, ""},
		{"json number", func(m map[string]any) { m["V3"] = json.Number("-1.5") }, ""},
		{"integer amount", func(m map[string]any) { m[ColumnAmount] = 42 }, ""},
		{"unknown key ignored", func(m map[string]any) { m["merchant"] = "acme" }, ""},
		{"missing feature", func(m map[string]any) { delete(m, "V17") }, "V17"},
		{"missing amount", func(m map[string]any) { delete(m, ColumnAmount) }, "Amount"},
		{"string value", func(m map[string]any) { m["V4"] = "5.0" }, "V4"},
		{"negative amount", func(m map[string]any) { m[ColumnAmount] = -1.0 }, "non-negative"},
		{"bad json number", func(m map[string]any) { m["V9"] = json.Number("abc") }, "V9"},
		{"bad time", func(m map[string]any) { m[ColumnTime] = true }, "Time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := rawVector(10.5)
			tt.mutate(raw)

			_, err := ParseFeatureVector(raw)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error to mention %q, got %v", tt.wantErr, err)
			}
		})
	}

	if _, err := ParseFeatureVector(nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for nil input, got %v", err)
	}
}

func TestFeatureVectorAccessors(t *testing.T) {
	raw := rawVector(149.62)
	raw[ColumnTime] = 406.0

	fv, err := ParseFeatureVector(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	if v, ok := fv.Get("V14"); !ok || v != 1.4 {
		t.Errorf("Get(V14) = %v, %v", v, ok)
	}
	if v, ok := fv.Get(ColumnTime); !ok || v != 406 {
		t.Errorf("Get(Time) = %v, %v", v, ok)
	}
	for _, name := range []string{"V0", "V29", "Vx", "Class"} {
		if _, ok := fv.Get(name); ok {
			t.Errorf("Get(%s) should not resolve", name)
		}
	}

	m := fv.Map()
	if m[ColumnAmount] != 149.62 || m["V1"] != 0.1 || len(m) != FeatureCount+2 {
		t.Errorf("unexpected map: %v", m)
	}

	line := fv.CSV()
	parts := strings.Split(line, ",")
	if len(parts) != FeatureCount+1 {
		t.Fatalf("expected 29 values, got %d", len(parts))
	}
	if parts[0] != "0.1" || parts[28] != "149.62" {
		t.Errorf("unexpected csv line: %s", line)
	}
	if strings.Contains(line, "406") {
		t.Error("Time must not be sent to the model")
	}
}

func TestFeatureVectorJSON(t *testing.T) {
	fv, err := ParseFeatureVector(rawVector(25.0))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	data, err := json.Marshal(fv)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var back FeatureVector
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back.CSV() != fv.CSV() {
		t.Errorf("round trip changed the vector: %s != %s", back.CSV(), fv.CSV())
	}

	if err := json.Unmarshal([]byte(`{"V1": 1}`), &back); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for partial object, got %v", err)
	}
}
