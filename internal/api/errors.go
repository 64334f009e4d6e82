package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/git-pkgs/feed/fetch"
	"github.com/git-pkgs/feed/internal/core"
	"github.com/git-pkgs/feed/internal/nuget"
	"github.com/git-pkgs/feed/internal/service"
)

// statusOf maps an operation error onto an HTTP status.
func statusOf(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &tooLarge), errors.Is(err, service.ErrArchiveTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrImportDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, fetch.ErrUpstreamDown), errors.Is(err, fetch.ErrRateLimited):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err as a problem document. Internal errors are recorded on
// the context for the request logger and not echoed to the client.
func fail(c *gin.Context, err error) {
	status := statusOf(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		detail = "internal error"
	}
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", `ApiKey header="X-NuGet-ApiKey"`)
	}
	c.AbortWithStatusJSON(status, nuget.Problem{
		Title:  http.StatusText(status),
		Detail: detail,
		Status: status,
	})
}

func badRequest(c *gin.Context, detail string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, nuget.Problem{
		Title:  http.StatusText(http.StatusBadRequest),
		Detail: detail,
		Status: http.StatusBadRequest,
	})
}

func notFound(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusNotFound, nuget.Problem{
		Title:  http.StatusText(http.StatusNotFound),
		Status: http.StatusNotFound,
	})
}
