// Package template renders condition expressions, response templates and
// action settings against an execution context.
package template

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/jonboulle/clockwork"
)

// noValue is what text/template prints for a missing map key.
const noValue = "<no value>"

// Renderer executes templates with a fixed function set. The now function
// reads the injected clock.
type Renderer struct {
	funcs template.FuncMap
}

// NewRenderer creates a renderer. A nil clock means the real clock.
func NewRenderer(clock clockwork.Clock) *Renderer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Renderer{funcs: template.FuncMap{
		"now": func() string {
			return clock.Now().UTC().Format(time.RFC3339)
		},
		"rand": func(max int) int {
			if max <= 0 {
				return 0
			}

			return rand.IntN(max)
		},
		"lower":    strings.ToLower,
		"upper":    strings.ToUpper,
		"contains": strings.Contains,
		"join": func(sep string, items []any) string {
			parts := make([]string, 0, len(items))
			for _, item := range items {
				parts = append(parts, fmt.Sprint(item))
			}

			return strings.Join(parts, sep)
		},
		"default": func(fallback, value any) any {
			if value == nil || value == "" {
				return fallback
			}

			return value
		},
	}}
}

// RenderString executes templateStr against data and returns the text.
// Missing keys render as nothing.
func (r *Renderer) RenderString(templateStr string, data any) (string, error) {
	tmpl, err := template.New("guildhall").Funcs(r.funcs).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.ReplaceAll(buf.String(), noValue, ""), nil
}

// RenderBool evaluates a condition expression. Empty output, a missing value,
// "false" and zero are false; "true" and any other number are true. Other
// output is an error.
func (r *Renderer) RenderBool(expression string, data any) (bool, error) {
	rendered, err := r.RenderString(expression, data)
	if err != nil {
		return false, err
	}

	result := strings.TrimSpace(rendered)
	if result == "" {
		return false, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num != 0, nil
	}

	return false, fmt.Errorf("condition '%s' rendered %q, not a boolean", expression, result)
}

// RenderValues renders every string in a settings map, recursing into nested
// maps and slices. Non-string values are returned unchanged.
func (r *Renderer) RenderValues(values map[string]any, data any) (map[string]any, error) {
	rendered := make(map[string]any, len(values))

	for key, value := range values {
		out, err := r.renderValue(value, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}

		rendered[key] = out
	}

	return rendered, nil
}

func (r *Renderer) renderValue(value, data any) (any, error) {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "{{") {
			return v, nil
		}

		return r.RenderString(v, data)
	case map[string]any:
		return r.RenderValues(v, data)
	case []any:
		out := make([]any, 0, len(v))

		for i, item := range v {
			rendered, err := r.renderValue(item, data)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}

			out = append(out, rendered)
		}

		return out, nil
	default:
		return value, nil
	}
}
