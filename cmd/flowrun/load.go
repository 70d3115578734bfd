package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/flowrun/pkg/schema"
)

// loadDefinition reads a workflow from path ("-" is stdin). YAML is a
// superset of JSON so one decoder handles both; the document is then routed
// through JSON so the definition's json tags apply.
func loadDefinition(path string, stdin io.Reader) (*schema.WorkflowDefinition, error) {
	data, err := readSource(path, stdin)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("parse %s: empty document", path)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if def.ID == "" {
		def.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &def, nil
}

// loadResult reads an execution result JSON document.
func loadResult(path string) (*schema.ExecutionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var res schema.ExecutionResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &res, nil
}

// buildInput merges an optional YAML/JSON input file with k=v pairs. Pairs
// win. A value that parses as JSON (numbers, booleans, objects) is used as
// such; anything else is a string.
func buildInput(file string, pairs []string, stdin io.Reader) (map[string]any, error) {
	input := make(map[string]any)
	if file != "" {
		data, err := readSource(file, stdin)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &input); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		if input == nil {
			input = make(map[string]any)
		}
	}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --input %q: want key=value", p)
		}
		input[k] = inputValue(v)
	}
	return input, nil
}

func inputValue(s string) any {
	if s == "" {
		return s
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil || strings.ContainsAny(s[:1], "{[") || s == "true" || s == "false" || s == "null" {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	return s
}

func readSource(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}
