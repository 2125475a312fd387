package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// templatePattern matches {{ ... }} placeholders inside parameter values.
var templatePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.\-]+)\s*\}\}`)

// resolveParams walks a step's parameter tree and replaces template
// placeholders. `{{params.x}}` reads the workflow trigger parameters,
// `{{steps.<id>.outputs.<k>}}` reads a prior step's outputs. A value that is
// exactly one placeholder keeps the referenced value's type; placeholders
// embedded in longer strings are stringified.
func resolveParams(stepID string, params, workflowParams map[string]any, stepOutputs map[string]map[string]any) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	resolved, err := resolveValue(stepID, params, workflowParams, stepOutputs)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

func resolveValue(stepID string, value any, workflowParams map[string]any, stepOutputs map[string]map[string]any) (any, error) {
	switch v := value.(type) {
	case string:
		return resolveString(stepID, v, workflowParams, stepOutputs)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			resolved, err := resolveValue(stepID, inner, workflowParams, stepOutputs)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			resolved, err := resolveValue(stepID, inner, workflowParams, stepOutputs)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func resolveString(stepID, s string, workflowParams map[string]any, stepOutputs map[string]map[string]any) (any, error) {
	matches := templatePattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// A whole-string placeholder keeps the referenced value's type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		expr := s[matches[0][2]:matches[0][3]]
		return lookup(stepID, expr, workflowParams, stepOutputs)
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(s[last:m[0]])
		expr := s[m[2]:m[3]]
		value, err := lookup(stepID, expr, workflowParams, stepOutputs)
		if err != nil {
			return nil, err
		}
		sb.WriteString(fmt.Sprint(value))
		last = m[1]
	}
	sb.WriteString(s[last:])
	return sb.String(), nil
}

// evaluateCondition resolves a step condition expression and reports whether
// the step should run. The resolved value is falsy when it is nil, false,
// zero, or an empty, "false" or "0" string.
func evaluateCondition(stepID, condition string, workflowParams map[string]any, stepOutputs map[string]map[string]any) (bool, error) {
	value, err := resolveString(stepID, condition, workflowParams, stepOutputs)
	if err != nil {
		return false, err
	}
	return truthy(value), nil
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s != "" && s != "false" && s != "0"
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	default:
		return true
	}
}

func lookup(stepID, expr string, workflowParams map[string]any, stepOutputs map[string]map[string]any) (any, error) {
	parts := strings.Split(expr, ".")
	switch {
	case len(parts) == 2 && parts[0] == "params":
		value, ok := workflowParams[parts[1]]
		if !ok {
			return nil, &TemplateError{StepID: stepID, Expression: expr, Reason: "unknown workflow parameter"}
		}
		return value, nil
	case len(parts) == 4 && parts[0] == "steps" && parts[2] == "outputs":
		outputs, ok := stepOutputs[parts[1]]
		if !ok {
			return nil, &TemplateError{StepID: stepID, Expression: expr, Reason: fmt.Sprintf("step %q has no outputs yet", parts[1])}
		}
		value, ok := outputs[parts[3]]
		if !ok {
			return nil, &TemplateError{StepID: stepID, Expression: expr, Reason: fmt.Sprintf("step %q did not produce output %q", parts[1], parts[3])}
		}
		return value, nil
	default:
		return nil, &TemplateError{StepID: stepID, Expression: expr, Reason: "unrecognized reference"}
	}
}
