package http

import (
	"errors"
	stdhttp "net/http"

	"github.com/dkeye/liveroom/internal/domain"
	"github.com/dkeye/liveroom/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Code      string `json:"code"`
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return stdhttp.StatusNotFound
	case errors.Is(err, domain.ErrRejected), errors.Is(err, domain.ErrAlreadyExists):
		return stdhttp.StatusConflict
	case errors.Is(err, domain.ErrResourceExhausted):
		return stdhttp.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidArgument):
		return stdhttp.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimited):
		return stdhttp.StatusTooManyRequests
	default:
		return stdhttp.StatusInternalServerError
	}
}

func abort(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= stdhttp.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, errorResponse{
		Code:      domain.Code(err),
		Error:     err.Error(),
		RequestID: logging.RequestID(c),
	})
}

// bind decodes the JSON body, reporting malformed input as invalid argument.
func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		abort(c, domain.Invalid(err.Error()))
		return false
	}
	return true
}
