package log

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestToFields(t *testing.T) {
	now := time.Now()
	err := errors.New("boom")

	tests := []struct {
		name     string
		input    []any
		wantKeys []string
	}{
		{"empty input", []any{}, nil},
		{"string-int-bool", []any{"a", "x", "b", 123, "c", true}, []string{"a", "b", "c"}},
		{"time and duration", []any{"t", now, "d", 5 * time.Second}, []string{"t", "d"}},
		{"bytes", []any{"payload", []byte("1")}, []string{"payload"}},
		{"error only", []any{err}, []string{"error"}},
		{"mixed field types", []any{"msg", "ok", zap.String("x", "y"), "num", 42}, []string{"msg", "x", "num"}},
		{"odd number of args", []any{"key1", "val1", "key2"}, []string{"key1", "arg#2"}},
		{"non-string key", []any{123, "value"}, []string{"invalid_key_1"}},
		{"nil values", []any{"a", nil, "b", (*int)(nil)}, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)
			if len(fields) != len(tt.wantKeys) {
				t.Fatalf("got %d fields, want %d: %+v", len(fields), len(tt.wantKeys), fields)
			}
			for i, f := range fields {
				if f.Key != tt.wantKeys[i] {
					t.Errorf("field %d key = %q, want %q", i, f.Key, tt.wantKeys[i])
				}
			}
		})
	}
}

func TestFieldTyping(t *testing.T) {
	if f := field("ok", true); f.Type != zapcore.BoolType {
		t.Errorf("bool field type = %v", f.Type)
	}
	if f := field("n", 3); f.Type != zapcore.Int64Type {
		t.Errorf("int field type = %v", f.Type)
	}
	if f := field("d", time.Second); f.Type != zapcore.DurationType {
		t.Errorf("duration field type = %v", f.Type)
	}
}

func TestOptionsValidate(t *testing.T) {
	o := NewOptions()
	if errs := o.Validate(); len(errs) != 0 {
		t.Fatalf("default options invalid: %v", errs)
	}

	o.Format = "xml"
	o.Level = "verbose"
	if errs := o.Validate(); len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), errs)
	}
}
