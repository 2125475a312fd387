package engine

import (
	"errors"
	"testing"
)

func TestResolveParamsTypes(t *testing.T) {
	workflowParams := map[string]any{"rate": 0.5, "name": "train"}
	outputs := map[string]map[string]any{
		"prep": {"rows": 1024, "path": "/data/prep"},
	}

	params := map[string]any{
		"rate":    "{{params.rate}}",
		"rows":    "{{ steps.prep.outputs.rows }}",
		"command": "load {{steps.prep.outputs.path}} --job={{params.name}}",
		"static":  42,
		"nested": map[string]any{
			"input": "{{steps.prep.outputs.path}}",
		},
		"list": []any{"{{params.name}}", "literal"},
	}

	resolved, err := resolveParams("train", params, workflowParams, outputs)
	if err != nil {
		t.Fatalf("resolveParams() error = %v", err)
	}

	if resolved["rate"] != 0.5 {
		t.Errorf("expected rate 0.5, got %v (%T)", resolved["rate"], resolved["rate"])
	}
	if resolved["rows"] != 1024 {
		t.Errorf("expected rows 1024, got %v (%T)", resolved["rows"], resolved["rows"])
	}
	if resolved["command"] != "load /data/prep --job=train" {
		t.Errorf("unexpected command: %v", resolved["command"])
	}
	if resolved["static"] != 42 {
		t.Errorf("expected static passthrough, got %v", resolved["static"])
	}
	nested := resolved["nested"].(map[string]any)
	if nested["input"] != "/data/prep" {
		t.Errorf("unexpected nested value: %v", nested["input"])
	}
	list := resolved["list"].([]any)
	if list[0] != "train" || list[1] != "literal" {
		t.Errorf("unexpected list: %v", list)
	}
}

func TestResolveParamsErrors(t *testing.T) {
	cases := []struct {
		name  string
		value string
	}{
		{"unknown workflow parameter", "{{params.missing}}"},
		{"unknown step", "{{steps.ghost.outputs.x}}"},
		{"unknown output key", "{{steps.prep.outputs.missing}}"},
		{"unrecognized reference", "{{secrets.token}}"},
	}
	outputs := map[string]map[string]any{"prep": {"x": 1}}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := resolveParams("s", map[string]any{"v": tc.value}, map[string]any{}, outputs)
			if err == nil {
				t.Fatal("expected error")
			}
			var terr *TemplateError
			if !errors.As(err, &terr) {
				t.Fatalf("expected TemplateError, got %T: %v", err, err)
			}
			if terr.StepID != "s" {
				t.Errorf("expected step id in error, got %q", terr.StepID)
			}
		})
	}
}

func TestEvaluateCondition(t *testing.T) {
	workflowParams := map[string]any{
		"deploy": true, "dry_run": false,
		"env": "prod", "empty": "", "count": 0.0,
	}
	outputs := map[string]map[string]any{"check": {"passed": "true"}}

	cases := []struct {
		condition string
		want      bool
	}{
		{"true", true},
		{"false", false},
		{"0", false},
		{"yes", true},
		{"{{params.deploy}}", true},
		{"{{params.dry_run}}", false},
		{"{{params.env}}", true},
		{"{{params.empty}}", false},
		{"{{params.count}}", false},
		{"{{steps.check.outputs.passed}}", true},
	}
	for _, tc := range cases {
		got, err := evaluateCondition("s", tc.condition, workflowParams, outputs)
		if err != nil {
			t.Errorf("evaluateCondition(%q) error = %v", tc.condition, err)
			continue
		}
		if got != tc.want {
			t.Errorf("evaluateCondition(%q) = %v, want %v", tc.condition, got, tc.want)
		}
	}

	if _, err := evaluateCondition("s", "{{params.missing}}", workflowParams, outputs); err == nil {
		t.Error("expected error for unknown reference")
	}
}

func TestResolveParamsNil(t *testing.T) {
	resolved, err := resolveParams("s", nil, nil, nil)
	if err != nil {
		t.Fatalf("resolveParams() error = %v", err)
	}
	if resolved != nil {
		t.Errorf("expected nil, got %v", resolved)
	}
}
