package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"liveclass/internal/apperr"
	"liveclass/internal/observability"
)

// fail writes err as {"message", "code"} with the status of its kind. Unclassified errors
// become a generic 500; every 5xx is logged and reported.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.New(apperr.KindInternal, "internal", "Internal server error").Wrap(err)
	}
	status := e.Kind.Status()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("op", op), zap.String("code", e.Code), zap.Error(err))
		observability.CaptureErr(op, err)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"message": e.Message, "code": e.Code})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": msg, "code": "bad_request"})
}
