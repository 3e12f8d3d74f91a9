package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/A2AReg/a2a-registry/internal/apierr"
)

// writeError translates a taxonomy error to its HTTP response. Every
// service-layer error reaching a handler is expected to be *apierr.Error;
// anything else is a programming error and maps to 500 without leaking its
// text to the caller.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	e, ok := apierr.As(err)
	if !ok {
		if logger != nil {
			logger.Error("handler: unclassified error reached the boundary", zap.Error(err))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if e.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(e.RetryAfter.Seconds())))
	}
	body := gin.H{"error": e.Message, "kind": string(e.Kind)}
	if len(e.Fields) > 0 {
		fields := make([]gin.H, len(e.Fields))
		for i, f := range e.Fields {
			fields[i] = gin.H{"fieldPath": f.FieldPath, "reason": f.Reason}
		}
		body["fields"] = fields
	}
	c.JSON(e.HTTPStatus(), body)
}
