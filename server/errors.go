package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"chatui/chat"
	"chatui/db"
	"chatui/llm"
	"chatui/utils"
)

// errorBody is the JSON shape of every failed request
type errorBody struct {
	Error string    `json:"error"`
	Code  string    `json:"code"`
	Step  chat.Step `json:"step,omitempty"`
}

// errorResponse maps an error onto a status code and body
func errorResponse(err error) (int, errorBody) {
	body := errorBody{Error: err.Error()}

	var stepErr *chat.StepError
	if errors.As(err, &stepErr) {
		body.Step = stepErr.Step
	}

	var (
		httpErr        *echo.HTTPError
		validationErr  *utils.ValidationError
		unsupportedErr *llm.UnsupportedProviderError
		authErr        *llm.AuthError
		providerErr    *llm.ProviderError
		storageErr     *db.StorageError
	)

	switch {
	case errors.As(err, &httpErr):
		body.Code = "http_error"
		if msg, ok := httpErr.Message.(string); ok {
			body.Error = msg
		} else {
			body.Error = http.StatusText(httpErr.Code)
		}
		return httpErr.Code, body
	case errors.Is(err, db.ErrNotFound):
		body.Code = "not_found"
		return http.StatusNotFound, body
	case errors.As(err, &validationErr):
		body.Code = "validation_error"
		return http.StatusBadRequest, body
	case errors.As(err, &unsupportedErr):
		body.Code = "unsupported_provider"
		return http.StatusBadRequest, body
	case errors.As(err, &authErr):
		body.Code = "auth_error"
		return http.StatusInternalServerError, body
	case errors.As(err, &providerErr):
		body.Code = "provider_error"
		return http.StatusInternalServerError, body
	case errors.As(err, &storageErr):
		body.Code = "storage_error"
		return http.StatusInternalServerError, body
	}

	body.Code = "internal_error"
	return http.StatusInternalServerError, body
}

// handleError is the echo HTTPErrorHandler
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			"method", c.Request().Method,
			"path", c.Path(),
			"code", body.Code,
			"error", err,
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		s.logger.Error("failed to write error response", "error", err)
	}
}
