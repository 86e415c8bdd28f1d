package pipeline

import (
	"bytes"
	"fmt"
	"text/template"
)

// TemplateRenderer renders a named template against a set of bindings.
// It is deliberately tiny: cluster CommandExecutor implementations
// (internal/backend.ClusterExecutor) need some way to render a
// submit/poll/cancel command line from a template and a set of
// bindings, and callers constructing wrapper scripts need the same for
// the dispatched command text.
type TemplateRenderer struct{}

// NewTemplateRenderer returns a renderer backed by text/template.
func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{}
}

// Render parses templateText as a text/template and executes it against
// bindings, returning the rendered string.
func (TemplateRenderer) Render(templateText string, bindings map[string]any) (string, error) {
	tmpl, err := template.New("cmd").Parse(templateText)
	if err != nil {
		return "", fmt.Errorf("parsing command template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, bindings); err != nil {
		return "", fmt.Errorf("rendering command template: %w", err)
	}
	return buf.String(), nil
}
