package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/rendis/flowrun/internal/streaming"
)

// StreamEvents streams live run events as Server-Sent Events until the
// client disconnects.
// (GET /v1/stream?execution_id=&workflow_id=&types=a,b)
func (s *Server) StreamEvents(c echo.Context) error {
	if s.deps.Hub == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event streaming is not configured")
	}
	filter := streaming.Filter{
		ExecutionID: c.QueryParam("execution_id"),
		WorkflowID:  c.QueryParam("workflow_id"),
	}
	if types := c.QueryParam("types"); types != "" {
		filter.Types = strings.Split(types, ",")
	}

	ctx := c.Request().Context()
	ch, cancel, err := s.deps.Hub.Subscribe(ctx, filter)
	if err != nil {
		return err
	}
	defer cancel()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}
