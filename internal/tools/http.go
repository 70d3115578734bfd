package tools

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/flowrun/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second

	// SignatureHeader carries the hex HMAC-SHA256 of a webhook body when a
	// secret is supplied.
	SignatureHeader = "X-Flowrun-Signature"
)

// HTTPConfig configures the network tools.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	// Transport overrides the base transport (tests, proxies).
	Transport http.RoundTripper
}

// NetworkHandlers returns the network category tools.
func NetworkHandlers(cfg HTTPConfig) []Handler {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	return []Handler{
		&httpRequest{cfg: cfg},
		&webhook{cfg: cfg},
	}
}

// httpCall is one outbound request after parameter decoding.
type httpCall struct {
	method          string
	url             string
	headers         map[string]string
	body            io.Reader
	contentType     string
	timeout         time.Duration
	followRedirects bool
	maxRedirects    int
	tlsSkipVerify   bool
}

func validURL(tool, rawURL string) error {
	if rawURL == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: \"url\" is required", tool)
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid url %q", tool, rawURL)
	}
	return nil
}

func (c HTTPConfig) timeoutFrom(params map[string]any) time.Duration {
	if ms := intParam(params, "timeout_ms", 0); ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	if ts := stringParam(params, "timeout", ""); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil {
			return d
		}
	}
	return c.DefaultTimeout
}

func (c HTTPConfig) client(call httpCall) *http.Client {
	var transport http.RoundTripper
	if c.Transport != nil {
		transport = c.Transport
	} else {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if call.tlsSkipVerify {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		transport = t
	}
	client := &http.Client{Transport: transport}

	if !call.followRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if call.maxRedirects > 0 {
		limit := call.maxRedirects
		client.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return fmt.Errorf("stopped after %d redirects", limit)
			}
			return nil
		}
	}
	return client
}

// do executes the call. Transport failures are errors; any HTTP status,
// including 4xx/5xx, is a successful output with "success" set accordingly.
func (c HTTPConfig) do(ctx context.Context, tool string, call httpCall) (map[string]any, error) {
	reqCtx, cancel := context.WithTimeout(ctx, call.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, call.method, call.url, call.body)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "%s: failed to create request", tool).WithCause(err)
	}
	if call.contentType != "" {
		req.Header.Set("Content-Type", call.contentType)
	}
	for k, v := range call.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client(call).Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "%s: request failed: %v", tool, err).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, c.MaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolExecution, "%s: failed to read response body", tool).WithCause(err)
	}

	respContentType := resp.Header.Get("Content-Type")
	var parsedBody any
	if len(bodyBytes) > 0 {
		parsedBody = string(bodyBytes)
		if strings.Contains(respContentType, "json") {
			var jsonBody any
			if err := json.Unmarshal(bodyBytes, &jsonBody); err == nil {
				parsedBody = jsonBody
			}
		}
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	return map[string]any{
		"success":      resp.StatusCode < 400,
		"status_code":  resp.StatusCode,
		"status":       resp.Status,
		"headers":      respHeaders,
		"body":         parsedBody,
		"content_type": respContentType,
		"duration_ms":  durationMs,
	}, nil
}

// --- http_request ---

type httpRequest struct{ cfg HTTPConfig }

func (*httpRequest) Category() Category { return CategoryNetwork }
func (*httpRequest) Name() string       { return "http_request" }
func (*httpRequest) Description() string {
	return "Execute an HTTP request with method, headers, body encoding, auth and redirect control"
}

func (a *httpRequest) Invoke(ctx context.Context, input any) (map[string]any, error) {
	params, err := paramsOf("http_request", input)
	if err != nil {
		return nil, err
	}
	rawURL := stringParam(params, "url", "")
	if err := validURL("http_request", rawURL); err != nil {
		return nil, err
	}

	call := httpCall{
		method:          strings.ToUpper(stringParam(params, "method", "GET")),
		url:             rawURL,
		headers:         stringMapParam(params, "headers"),
		timeout:         a.cfg.timeoutFrom(params),
		followRedirects: boolParam(params, "follow_redirects", true),
		maxRedirects:    intParam(params, "max_redirects", 10),
		tlsSkipVerify:   boolParam(params, "tls_skip_verify", false),
	}
	if call.headers == nil {
		call.headers = map[string]string{}
	}

	if rawBody, ok := params["body"]; ok && rawBody != nil {
		switch stringParam(params, "body_encoding", "json") {
		case "form":
			if formData, ok := rawBody.(map[string]any); ok {
				vals := url.Values{}
				for k, v := range formData {
					vals.Set(k, fmt.Sprintf("%v", v))
				}
				call.body = strings.NewReader(vals.Encode())
				call.contentType = "application/x-www-form-urlencoded"
			}
		case "text":
			call.body = strings.NewReader(fmt.Sprintf("%v", rawBody))
			call.contentType = "text/plain"
		case "raw":
			call.body = strings.NewReader(fmt.Sprintf("%v", rawBody))
		default:
			b, err := json.Marshal(rawBody)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "http_request: body is not JSON-encodable").WithCause(err)
			}
			call.body = bytes.NewReader(b)
			call.contentType = "application/json"
		}
	}

	applyAuth(mapParam(params, "auth"), call.headers)
	return a.cfg.do(ctx, "http_request", call)
}

func applyAuth(auth map[string]any, headers map[string]string) {
	if auth == nil {
		return
	}
	switch stringParam(auth, "type", "") {
	case "bearer":
		headers["Authorization"] = "Bearer " + stringParam(auth, "token", "")
	case "basic":
		req := &http.Request{Header: http.Header{}}
		req.SetBasicAuth(stringParam(auth, "username", ""), stringParam(auth, "password", ""))
		headers["Authorization"] = req.Header.Get("Authorization")
	case "api_key":
		if name := stringParam(auth, "header_name", ""); name != "" {
			headers[name] = stringParam(auth, "header_value", "")
		}
	}
}

// --- webhook ---

type webhook struct{ cfg HTTPConfig }

func (*webhook) Category() Category { return CategoryNetwork }
func (*webhook) Name() string       { return "webhook" }
func (*webhook) Description() string {
	return "POST a JSON payload to a URL, optionally signed with HMAC-SHA256"
}

func (a *webhook) Invoke(ctx context.Context, input any) (map[string]any, error) {
	params, err := paramsOf("webhook", input)
	if err != nil {
		return nil, err
	}
	rawURL := stringParam(params, "url", "")
	if err := validURL("webhook", rawURL); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(params["payload"])
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "webhook: payload is not JSON-encodable").WithCause(err)
	}

	headers := stringMapParam(params, "headers")
	if headers == nil {
		headers = map[string]string{}
	}
	if secret := stringParam(params, "secret", ""); secret != "" {
		headers[SignatureHeader] = Sign(secret, payload)
	}

	return a.cfg.do(ctx, "webhook", httpCall{
		method:          strings.ToUpper(stringParam(params, "method", "POST")),
		url:             rawURL,
		headers:         headers,
		body:            bytes.NewReader(payload),
		contentType:     "application/json",
		timeout:         a.cfg.timeoutFrom(params),
		followRedirects: false,
	})
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
