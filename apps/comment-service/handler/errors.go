package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"goim-comment/apps/comment-service/model"
	"goim-comment/pkg/httpx"
	"goim-comment/pkg/logger"
)

// errorStatus 领域错误到HTTP状态码与错误码
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, model.ErrUserBanned):
		return http.StatusForbidden, "user_banned"
	case errors.Is(err, model.ErrEditWindowClosed):
		return http.StatusForbidden, "edit_window_closed"
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrAlreadyFlagged):
		return http.StatusConflict, "already_flagged"
	case errors.Is(err, model.ErrDepthExceeded):
		return http.StatusUnprocessableEntity, "depth_exceeded"
	case errors.Is(err, model.ErrContentRejected):
		return http.StatusUnprocessableEntity, "content_rejected"
	case errors.Is(err, model.ErrThrottled):
		return http.StatusTooManyRequests, "throttled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError 输出错误；5xx 不暴露内部错误信息
func (h *HTTPHandler) writeError(c *gin.Context, op string, err error) {
	status, code := errorStatus(err)
	body := httpx.ErrorBody{Code: code, Message: err.Error()}

	var ve *model.ValidationError
	if errors.As(err, &ve) {
		body.Field = ve.Field
		body.Message = ve.Reason
	}
	var te *model.ThrottledError
	if errors.As(err, &te) {
		secs := int64(math.Ceil(te.RetryAfter.Seconds()))
		body.RetryAfter = secs
		c.Header("Retry-After", strconv.FormatInt(secs, 10))
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error(c.Request.Context(), "Request failed",
			logger.F("op", op),
			logger.F("error", err.Error()))
		body.Message = "internal server error"
		_ = c.Error(err)
	}
	httpx.WriteError(c, status, body)
}
