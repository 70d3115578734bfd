package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rendis/flowrun/pkg/schema"
)

// idempotentRun is the response for one Idempotency-Key. done is closed once
// status and body are set; concurrent duplicates wait on it.
type idempotentRun struct {
	done   chan struct{}
	status int
	body   any
}

// idempotent serves fn at most once per (scope, Idempotency-Key) within the
// cache TTL and replays the stored response for repeated keys. Requests
// without the header always run. 5xx responses and cancelled runs are not
// remembered, so a retry with the same key runs again.
func (s *Server) idempotent(c echo.Context, scope string, fn func() (int, any, error)) error {
	key := c.Request().Header.Get(IdempotencyHeader)
	if key == "" {
		status, body, err := fn()
		if err != nil {
			return err
		}
		return c.JSON(status, body)
	}

	cacheKey := scope + "\x00" + key
	entry := &idempotentRun{done: make(chan struct{})}
	held, fresh := s.runs.SetIfAbsent(cacheKey, entry)
	if !fresh {
		select {
		case <-held.done:
		case <-c.Request().Context().Done():
			return echo.NewHTTPError(http.StatusServiceUnavailable, "request cancelled while waiting for idempotent run")
		}
		c.Response().Header().Set(ReplayedHeader, "true")
		return c.JSON(held.status, held.body)
	}

	status, body, err := fn()
	if err != nil {
		// Errors go through the error handler; remember only client errors.
		status, body = s.errorResponse(err)
	}
	entry.status, entry.body = status, body
	close(entry.done)
	if status >= http.StatusInternalServerError || cancelled(body, err) {
		s.runs.Delete(cacheKey)
	}
	return c.JSON(status, body)
}

// cancelled reports whether a response describes a run that did not finish.
func cancelled(body any, err error) bool {
	if schema.CodeOf(err) == schema.ErrCodeCancelled {
		return true
	}
	res, ok := body.(*schema.ExecutionResult)
	return ok && res.ErrorCode == schema.ErrCodeCancelled
}
