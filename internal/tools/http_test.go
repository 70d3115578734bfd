package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rendis/flowrun/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func netHandler(t *testing.T, name string) Handler {
	t.Helper()
	for _, h := range NetworkHandlers(HTTPConfig{}) {
		if h.Name() == name {
			return h
		}
	}
	t.Fatalf("network tool %q not found", name)
	return nil
}

func TestHTTPRequest_GET_JSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Custom", "test-value")
		_ = json.NewEncoder(w).Encode(map[string]any{"greeting": "hello", "count": 42})
	}))
	defer srv.Close()

	out, err := netHandler(t, "http_request").Invoke(context.Background(), map[string]any{"url": srv.URL})
	require.NoError(t, err)

	assert.Equal(t, 200, out["status_code"])
	assert.Equal(t, true, out["success"])
	assert.Contains(t, out["content_type"], "application/json")

	body, ok := out["body"].(map[string]any)
	require.True(t, ok, "body should be parsed map")
	assert.Equal(t, "hello", body["greeting"])
	assert.Equal(t, float64(42), body["count"])
	assert.Equal(t, "test-value", out["headers"].(map[string]any)["X-Custom"])
}

func TestHTTPRequest_POST_JSONBodyAndAuth(t *testing.T) {
	var received map[string]any
	var authHeader, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	out, err := netHandler(t, "http_request").Invoke(context.Background(), map[string]any{
		"method": "post",
		"url":    srv.URL,
		"body":   map[string]any{"name": "Ada"},
		"auth":   map[string]any{"type": "bearer", "token": "tok"},
	})
	require.NoError(t, err)
	assert.Equal(t, 201, out["status_code"])
	assert.Nil(t, out["body"])
	assert.Equal(t, "Bearer tok", authHeader)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, map[string]any{"name": "Ada"}, received)
}

func TestHTTPRequest_ErrorStatusIsSoftFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	out, err := netHandler(t, "http_request").Invoke(context.Background(), map[string]any{"url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, 500, out["status_code"])
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "exploded\n", out["body"])
}

func TestHTTPRequest_FormBody(t *testing.T) {
	var form string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm.Get("q")
	}))
	defer srv.Close()

	_, err := netHandler(t, "http_request").Invoke(context.Background(), map[string]any{
		"method": "POST", "url": srv.URL, "body": map[string]any{"q": "go"}, "body_encoding": "form",
	})
	require.NoError(t, err)
	assert.Equal(t, "go", form)
}

func TestHTTPRequest_InvalidURL(t *testing.T) {
	h := netHandler(t, "http_request")
	_, err := h.Invoke(context.Background(), map[string]any{"url": "ftp://example.com"})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	_, err = h.Invoke(context.Background(), map[string]any{})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestHTTPRequest_TransportFailureIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := netHandler(t, "http_request").Invoke(context.Background(), map[string]any{"url": url})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeToolExecution, schema.CodeOf(err))
}

func TestHTTPRequest_HonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := netHandler(t, "http_request").Invoke(ctx, map[string]any{"url": srv.URL})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWebhook_SignedPayload(t *testing.T) {
	var body []byte
	var sig, method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		sig = r.Header.Get(SignatureHeader)
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	out, err := netHandler(t, "webhook").Invoke(context.Background(), map[string]any{
		"url":     srv.URL,
		"payload": map[string]any{"event": "lead.created"},
		"secret":  "s3cret",
	})
	require.NoError(t, err)
	assert.Equal(t, 202, out["status_code"])
	assert.Equal(t, http.MethodPost, method)
	assert.JSONEq(t, `{"event":"lead.created"}`, string(body))
	assert.Equal(t, Sign("s3cret", body), sig)
}
