package tools

import "fmt"

// genericHandler serves every tool whose category has no dedicated handler.
// It always succeeds with an acknowledgment so that workflows referencing
// tools from newer catalogues still run.
type genericHandler struct{}

func (genericHandler) acknowledge(def Definition) map[string]any {
	return map[string]any{
		"acknowledged": true,
		"tool":         def.Name,
		"category":     string(def.Category),
		"message":      fmt.Sprintf("tool %q (%s) executed by generic handler", def.Name, def.Category),
	}
}
