package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"nerfbot-server-go/internal/platform/errors"
)

// APIResponse 定义统一的接口返回结构体
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message"`
	Code    int         `json:"code"`
}

// RespondSuccess 返回成功响应
func RespondSuccess(c *gin.Context, httpStatus int, data interface{}, message string) {
	if message == "" {
		message = "ok"
	}
	c.JSON(httpStatus, APIResponse{
		Success: true,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

// RespondError 返回失败响应
func RespondError(c *gin.Context, httpStatus int, message string, data interface{}) {
	c.JSON(httpStatus, APIResponse{
		Success: false,
		Message: message,
		Code:    httpStatus,
		Data:    data,
	})
}

// StatusForError maps an error kind onto an HTTP status.
func StatusForError(err error) int {
	switch errors.KindOf(err) {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindAuthorization:
		return http.StatusForbidden
	case errors.KindDomain:
		return http.StatusNotFound
	case errors.KindDevice:
		return http.StatusServiceUnavailable
	case errors.KindConfig:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// RespondDomainError 按错误类型返回失败响应
func RespondDomainError(c *gin.Context, err error, data interface{}) {
	_ = c.Error(err)
	RespondError(c, StatusForError(err), err.Error(), data)
}
