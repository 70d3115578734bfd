package diagram

import (
	"testing"

	"github.com/rendis/flowrun/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearWorkflow() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:   "wf-linear",
		Name: "Lead intake",
		Steps: []schema.StepDefinition{
			{ID: "fetch", Tool: "http_request"},
			{ID: "transform", Name: "Shape lead", Tool: "jq", OnError: schema.OnErrorContinue},
			{ID: "store", Tool: "create_contact", Retry: &schema.RetryPolicy{MaxAttempts: 3}},
		},
	}
}

func branchingWorkflow() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID: "wf-branch",
		Steps: []schema.StepDefinition{
			{ID: "check", Tool: "condition"},
			{ID: "pause", Tool: "delay"},
			{ID: "send", Tool: "compose_email"},
		},
	}
}

func failedRunLog() []schema.LogEntry {
	return []schema.LogEntry{
		{StepID: "fetch", Tool: "http_request", Status: schema.StepStatusCompleted, DurationMs: 40, Attempts: 1},
		{StepID: "transform", Tool: "jq", Status: schema.StepStatusFailed, DurationMs: 2, Attempts: 1, Error: "jq: bad filter"},
	}
}

func TestBuildLinearWorkflow(t *testing.T) {
	model, err := Build(linearWorkflow(), nil)
	require.NoError(t, err)

	assert.Equal(t, "Lead intake", model.Title)
	require.Len(t, model.Nodes, 5)
	assert.Equal(t, startID, model.Nodes[0].ID)
	assert.Equal(t, endID, model.Nodes[4].ID)
	assert.Equal(t, NodeKindTool, model.Nodes[1].Kind)
	assert.Equal(t, "Shape lead\njq", model.Nodes[2].Label)
	assert.Equal(t, "fetch\nhttp_request", model.Nodes[1].Label)
	assert.Equal(t, 3, model.Nodes[3].Retries)

	require.Len(t, model.Edges, 4)
	assert.Equal(t, Edge{From: startID, To: "fetch"}, model.Edges[0])
	assert.Equal(t, Edge{From: "transform", To: "store", Label: "continue on error"}, model.Edges[2])
	assert.Equal(t, endID, model.Edges[3].To)

	for _, n := range model.Nodes {
		assert.Nil(t, n.Status, n.ID)
	}
}

func TestBuildKinds(t *testing.T) {
	model, err := Build(branchingWorkflow(), nil)
	require.NoError(t, err)
	assert.Equal(t, "wf-branch", model.Title)
	assert.Equal(t, NodeKindCondition, model.Nodes[1].Kind)
	assert.Equal(t, NodeKindWait, model.Nodes[2].Kind)
	assert.Equal(t, NodeKindTool, model.Nodes[3].Kind)
}

func TestBuildWithStatusOverlay(t *testing.T) {
	model, err := Build(linearWorkflow(), failedRunLog())
	require.NoError(t, err)

	fetch := model.Nodes[1].Status
	require.NotNil(t, fetch)
	assert.Equal(t, "completed", fetch.Status)
	assert.Equal(t, int64(40), fetch.DurationMs)

	transform := model.Nodes[2].Status
	require.NotNil(t, transform)
	assert.Equal(t, "failed", transform.Status)
	assert.Equal(t, "jq: bad filter", transform.Error)

	store := model.Nodes[3].Status
	require.NotNil(t, store)
	assert.Equal(t, "pending", store.Status)

	assert.Nil(t, model.Nodes[0].Status)
}

func TestBuildNilDefinition(t *testing.T) {
	_, err := Build(nil, nil)
	assert.Error(t, err)
}

func TestBuildEmptySteps(t *testing.T) {
	model, err := Build(&schema.WorkflowDefinition{ID: "empty"}, nil)
	require.NoError(t, err)
	assert.Len(t, model.Nodes, 2)
	require.Len(t, model.Edges, 1)
	assert.Equal(t, Edge{From: startID, To: endID}, model.Edges[0])
}
