package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const yamlWorkflow = `
id: greet
name: Greeting
variables:
  who: world
steps:
  - id: shout
    tool: jq
    input:
      filter: ".name | ascii_upcase"
      data:
        name: "{{who}}"
  - id: report
    tool: format_text
    on_error: continue
    retry:
      max_attempts: 2
      delay_ms: 10
    timeout: 500
    input: "{{shout.result}}"
`

func TestLoadDefinition_YAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "greet.yaml", yamlWorkflow)

	def, err := loadDefinition(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "greet", def.ID)
	assert.Equal(t, "world", def.Variables["who"])
	require.Len(t, def.Steps, 2)
	assert.Equal(t, "jq", def.Steps[0].Tool)
	assert.Equal(t, "continue", string(def.Steps[1].OnError))
	require.NotNil(t, def.Steps[1].Retry)
	assert.Equal(t, 2, def.Steps[1].Retry.MaxAttempts)
	assert.EqualValues(t, 10, def.Steps[1].Retry.DelayMs)
	assert.EqualValues(t, 500, def.Steps[1].Timeout)
}

func TestLoadDefinition_JSONAndDefaultID(t *testing.T) {
	path := writeFile(t, t.TempDir(), "nightly-report.json", `{"steps":[{"id":"a","tool":"parse_json"}]}`)

	def, err := loadDefinition(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "nightly-report", def.ID)
	require.Len(t, def.Steps, 1)
}

func TestLoadDefinition_Stdin(t *testing.T) {
	def, err := loadDefinition("-", strings.NewReader(`{"id":"x","steps":[{"id":"a","tool":"jq"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "x", def.ID)
}

func TestLoadDefinition_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := loadDefinition(filepath.Join(dir, "missing.yaml"), nil)
	require.Error(t, err)

	_, err = loadDefinition(writeFile(t, dir, "empty.yaml", ""), nil)
	require.Error(t, err)

	_, err = loadDefinition(writeFile(t, dir, "bad.yaml", "steps: [unclosed"), nil)
	require.Error(t, err)
}

func TestBuildInput(t *testing.T) {
	file := writeFile(t, t.TempDir(), "in.yaml", "region: eu\nlimit: 5\n")

	input, err := buildInput(file, []string{"region=us", "count=3", "dry=true", "tags=[\"a\"]", "name=ada", "empty="}, nil)
	require.NoError(t, err)
	assert.Equal(t, "us", input["region"])
	assert.Equal(t, 5, input["limit"])
	assert.Equal(t, float64(3), input["count"])
	assert.Equal(t, true, input["dry"])
	assert.Equal(t, []any{"a"}, input["tags"])
	assert.Equal(t, "ada", input["name"])
	assert.Equal(t, "", input["empty"])
}

func TestBuildInput_BadPair(t *testing.T) {
	_, err := buildInput("", []string{"novalue"}, nil)
	require.Error(t, err)
	_, err = buildInput("", []string{"=x"}, nil)
	require.Error(t, err)
}

func TestInputValue_KeepsNonJSONStrings(t *testing.T) {
	assert.Equal(t, "{not json", inputValue("{not json"))
	assert.Equal(t, "1.2.3", inputValue("1.2.3"))
}
