package tools

import (
	"context"
)

// Category groups tools that share one collaborator (filesystem, subprocess
// runner, HTTP client, SQL executor, platform integration, ...).
type Category string

const (
	CategoryFilesystem      Category = "filesystem"
	CategoryCodeExecution   Category = "code_execution"
	CategoryNetwork         Category = "network"
	CategoryDatabase        Category = "database"
	CategoryControlFlow     Category = "control_flow"
	CategoryDataTransform   Category = "data_transform"
	CategoryCRM             Category = "crm"
	CategoryLeadGeneration  Category = "lead_generation"
	CategorySocialListening Category = "social_listening"
	CategoryAISales         Category = "ai_sales"
)

// knownCategories is the fixed set of categories with dedicated handlers.
// A definition naming any other category is served by the fallback handler.
var knownCategories = map[Category]bool{
	CategoryFilesystem:      true,
	CategoryCodeExecution:   true,
	CategoryNetwork:         true,
	CategoryDatabase:        true,
	CategoryControlFlow:     true,
	CategoryDataTransform:   true,
	CategoryCRM:             true,
	CategoryLeadGeneration:  true,
	CategorySocialListening: true,
	CategoryAISales:         true,
}

// Known reports whether c is one of the built-in categories.
func (c Category) Known() bool { return knownCategories[c] }

// Definition is the lookup record for a tool: resolved once per step from
// the step's tool name.
type Definition struct {
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	Description string   `json:"description,omitempty"`
}

// Handler performs (or delegates) the side effect of one named tool.
//
// Invoke must return an error to signal failure. A "business failure" such as
// a non-zero exit code or an HTTP 500 is a successful output whose fields say
// so. Handlers should honour ctx cancellation; one that does not keeps running
// after its step has already been declared timed out.
type Handler interface {
	Category() Category
	Name() string
	Invoke(ctx context.Context, input any) (map[string]any, error)
}

// Describer is implemented by handlers that carry a human-readable description.
type Describer interface {
	Description() string
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	ToolCategory Category
	ToolName     string
	Desc         string
	Fn           func(ctx context.Context, input any) (map[string]any, error)
}

func (h *HandlerFunc) Category() Category  { return h.ToolCategory }
func (h *HandlerFunc) Name() string        { return h.ToolName }
func (h *HandlerFunc) Description() string { return h.Desc }

func (h *HandlerFunc) Invoke(ctx context.Context, input any) (map[string]any, error) {
	return h.Fn(ctx, input)
}

func describe(h Handler) string {
	if d, ok := h.(Describer); ok {
		return d.Description()
	}
	return ""
}
