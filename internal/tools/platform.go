package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rendis/flowrun/pkg/schema"
)

// IntegrationClient performs platform-side tools (CRM, lead generation,
// social listening, AI sales) on behalf of the engine.
type IntegrationClient interface {
	Call(ctx context.Context, category Category, name string, input map[string]any) (map[string]any, error)
}

// platformTool describes one delegated tool and the input keys it needs.
// anyOf lists keys of which at least one must be present.
type platformTool struct {
	category    Category
	name        string
	description string
	required    []string
	anyOf       []string
}

var platformCatalogue = []platformTool{
	{CategoryCRM, "create_contact", "Create a CRM contact", nil, []string{"email", "name"}},
	{CategoryCRM, "update_contact", "Update fields on a CRM contact", []string{"id"}, nil},
	{CategoryCRM, "log_activity", "Record an activity against a CRM contact", []string{"contact_id", "type"}, nil},
	{CategoryLeadGeneration, "search_leads", "Search for leads matching a query", []string{"query"}, nil},
	{CategoryLeadGeneration, "enrich_lead", "Enrich a lead by email or domain", nil, []string{"email", "domain"}},
	{CategorySocialListening, "monitor_mentions", "Fetch recent mentions of keywords", []string{"keywords"}, nil},
	{CategorySocialListening, "fetch_posts", "Fetch posts from a social platform account", []string{"platform"}, nil},
	{CategoryAISales, "compose_email", "Draft a sales email for a recipient", []string{"recipient"}, nil},
	{CategoryAISales, "score_lead", "Score a lead for sales readiness", []string{"lead"}, nil},
}

// PlatformHandlers returns the handlers for every platform category tool,
// all delegating to client.
func PlatformHandlers(client IntegrationClient) []Handler {
	out := make([]Handler, 0, len(platformCatalogue))
	for _, t := range platformCatalogue {
		out = append(out, &platformHandler{tool: t, client: client})
	}
	return out
}

type platformHandler struct {
	tool   platformTool
	client IntegrationClient
}

func (h *platformHandler) Category() Category  { return h.tool.category }
func (h *platformHandler) Name() string        { return h.tool.name }
func (h *platformHandler) Description() string { return h.tool.description }

func (h *platformHandler) Invoke(ctx context.Context, input any) (map[string]any, error) {
	params, err := paramsOf(h.tool.name, input)
	if err != nil {
		return nil, err
	}
	for _, k := range h.tool.required {
		if v, ok := params[k]; !ok || v == nil || v == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: %q is required", h.tool.name, k)
		}
	}
	if len(h.tool.anyOf) > 0 {
		found := false
		for _, k := range h.tool.anyOf {
			if v, ok := params[k]; ok && v != nil && v != "" {
				found = true
				break
			}
		}
		if !found {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: one of %s is required",
				h.tool.name, strings.Join(h.tool.anyOf, ", "))
		}
	}
	if h.client == nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "%s: no integration client configured", h.tool.name)
	}
	return h.client.Call(ctx, h.tool.category, h.tool.name, params)
}

// HTTPIntegration calls a platform integration service over HTTP: each tool
// is a JSON POST to {BaseURL}/{category}/{name}.
type HTTPIntegration struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	Timeout time.Duration
}

// Call implements IntegrationClient. A non-2xx response is an error.
func (c *HTTPIntegration) Call(ctx context.Context, category Category, name string, input map[string]any) (map[string]any, error) {
	if c.BaseURL == "" {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution,
			"%s: integration endpoint is not configured", name)
	}
	body, err := json.Marshal(input)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: input is not JSON-encodable", name).WithCause(err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/%s/%s", strings.TrimRight(c.BaseURL, "/"), category, name)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "%s: failed to create request", name).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "%s: integration call failed: %v", name, err).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "%s: failed to read response", name).WithCause(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "%s: integration returned %d", name, resp.StatusCode).
			WithDetails(map[string]any{"status_code": resp.StatusCode, "body": string(raw)})
	}

	out := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "%s: invalid integration response: %v", name, err).WithCause(err)
	}
	if m, ok := decoded.(map[string]any); ok {
		return m, nil
	}
	out["result"] = decoded
	return out, nil
}
