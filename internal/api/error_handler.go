package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/nicedentist/auth-service/internal/api/handler"
	"github.com/nicedentist/auth-service/internal/core/domain"
)

// errorResponse is the error envelope for every API error.
type errorResponse struct {
	Message string `json:"message"`
}

// NewHTTPErrorHandler renders errors as {"message": ...}. Echo errors keep
// their code, domain errors are mapped by kind, and anything else is logged
// and reported as a generic 500.
func NewHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, msg := resolveError(err, log, c)
		_ = c.JSON(code, errorResponse{Message: msg})
	}
}

func resolveError(err error, log zerolog.Logger, c echo.Context) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprintf("%v", he.Message)
	}

	if kind := domain.KindOf(err); kind != "" {
		code := handler.StatusFor(kind)
		if code >= http.StatusInternalServerError {
			logUnexpected(log, err, c)
		}
		return code, domain.MessageOf(err)
	}

	logUnexpected(log, err, c)
	return http.StatusInternalServerError, "internal server error"
}

func logUnexpected(log zerolog.Logger, err error, c echo.Context) {
	log.Error().
		Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("unhandled error")
}
