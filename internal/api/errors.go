package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rendis/flowrun/pkg/schema"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// statusFor maps a FlowError code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case schema.ErrCodeValidation, schema.ErrCodeUnresolved:
		return http.StatusUnprocessableEntity
	case schema.ErrCodeNotFound, schema.ErrCodeToolNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict:
		return http.StatusConflict
	case schema.ErrCodeCancelled:
		return http.StatusServiceUnavailable
	case schema.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse renders err as a status and JSON body.
func (s *Server) errorResponse(err error) (int, errorBody) {
	status := http.StatusInternalServerError
	body := errorBody{Error: errorPayload{Code: "INTERNAL", Message: err.Error()}}

	var fe *schema.FlowError
	var he *echo.HTTPError
	switch {
	case errors.As(err, &fe):
		status = statusFor(fe.Code)
		body.Error = errorPayload{Code: fe.Code, Message: fe.Message, Details: fe.Details}
	case errors.As(err, &he):
		status = he.Code
		body.Error.Code = http.StatusText(he.Code)
		if msg, ok := he.Message.(string); ok {
			body.Error.Message = msg
		} else {
			body.Error.Message = http.StatusText(he.Code)
		}
	}
	return status, body
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := s.errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.log.ErrorContext(c.Request().Context(), "request failed", "status", status, "error", err.Error())
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.log.ErrorContext(c.Request().Context(), "write error response", "error", err.Error())
	}
}
