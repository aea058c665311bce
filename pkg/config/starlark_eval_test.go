package config

import (
	"context"
	"testing"
	"time"
)

func TestStarlarkEvaluator_EvalBool(t *testing.T) {
	evaluator := NewStarlarkEvaluator(time.Second)
	ctx := context.Background()

	vars := map[string]interface{}{
		"inputs": map[string]interface{}{
			"env":      "dev",
			"triggers": []string{"http", "timer"},
			"replicas": 3,
		},
		"env":       map[string]string{"FX_ENV": "dev"},
		"lifecycle": "deploy",
		"value":     nil,
	}

	tests := []struct {
		expr    string
		want    bool
		wantErr bool
	}{
		{expr: `inputs["env"] == "dev"`, want: true},
		{expr: `inputs.get("confirm") == "yes"`, want: false},
		{expr: `"http" in inputs["triggers"]`, want: true},
		{expr: `env["FX_ENV"] != "prod" and len(inputs["triggers"]) == 2`, want: true},
		{expr: `inputs.get("missing", "")`, want: false},
		{expr: `inputs["replicas"] > 2 and lifecycle == "deploy"`, want: true},
		{expr: `value == None`, want: true},
		{expr: `[t for t in inputs["triggers"] if t.startswith("ti")]`, want: true},
		{expr: `inputs[`, wantErr: true},
		{expr: `undefined_name`, wantErr: true},
		{expr: `inputs["triggers"].append("x")`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := evaluator.EvalBool(ctx, tt.expr, vars)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.expr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("EvalBool(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestStarlarkEvaluator_ParseCache(t *testing.T) {
	evaluator := NewStarlarkEvaluator(time.Second)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "a"} {
		got, err := evaluator.EvalBool(ctx, `x == "a"`, map[string]interface{}{"x": v})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != (v == "a") {
			t.Errorf("x=%s: got %v", v, got)
		}
	}
	if len(evaluator.parsed) != 1 {
		t.Errorf("expected one parsed expression, got %d", len(evaluator.parsed))
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	evaluator := NewStarlarkEvaluator(50 * time.Millisecond)

	_, err := evaluator.EvalBool(context.Background(), `len([i for i in range(100000000)]) > 0`, nil)
	if err == nil {
		t.Error("expected timeout error")
	}
}

func TestStarlarkEvaluator_ContextCanceled(t *testing.T) {
	evaluator := NewStarlarkEvaluator(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := evaluator.EvalBool(ctx, `len([i for i in range(100000000)]) > 0`, nil); err == nil {
		t.Error("expected cancellation error")
	}
}

func TestStarlarkEvaluator_UnsupportedInput(t *testing.T) {
	evaluator := NewStarlarkEvaluator(time.Second)

	_, err := evaluator.EvalBool(context.Background(), "True", map[string]interface{}{"ch": make(chan int)})
	if err == nil {
		t.Error("expected conversion error")
	}
}

func TestCheckExpr(t *testing.T) {
	if err := CheckExpr(`inputs.get("confirm") == "yes"`); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := CheckExpr(`inputs[`); err == nil {
		t.Error("expected syntax error")
	}
}
