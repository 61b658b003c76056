package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"collabrun/internal/service"
)

// HandleServiceError maps a service.Error's Kind to the exact HTTP status the external
// contract specifies, never inspecting error text.
func HandleServiceError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	status := statusForKind(kind)
	if kind == service.KindInternal || kind == service.KindIntegrity {
		logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("request failed")
		ErrorResponse(c, status, "internal server error")
		return
	}
	ErrorResponse(c, status, err.Error())
}

func statusForKind(kind service.Kind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindArchived:
		return http.StatusGone
	case service.KindRateLimited:
		return http.StatusTooManyRequests
	case service.KindQueueFull:
		return http.StatusServiceUnavailable
	case service.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
