package response

import (
	stderrors "errors"
	"net/http"

	"iam/pkg/errors"
	"iam/pkg/pagination"

	"github.com/gin-gonic/gin"
)

// Response 统一返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success 成功返回
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    errors.CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Created 新增成功，返回新记录ID
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    errors.CodeCreated,
		Message: "created",
		Data:    data,
	})
}

// SuccessWithPage 分页成功返回
func SuccessWithPage(c *gin.Context, data interface{}, pageInfo *pagination.PageInfo) {
	c.JSON(http.StatusOK, gin.H{
		"code":      errors.CodeSuccess,
		"message":   "success",
		"data":      data,
		"page_info": pageInfo,
	})
}

// Error 通用错误返回
func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, errors.CodeInvalidParam, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, errors.CodeUnauthorized, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, errors.CodeNotFound, message)
}

func Conflict(c *gin.Context, message string) {
	Error(c, errors.CodeConflict, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, errors.CodeServerError, message)
}

// FromError 按业务错误类型选择返回码，未知错误统一返回 fallback
func FromError(c *gin.Context, err error, fallback string) {
	var dup *errors.DuplicateIdentityError
	switch {
	case stderrors.As(err, &dup):
		Conflict(c, dup.Error())
	case stderrors.Is(err, errors.ErrRecordNotFound):
		NotFound(c, err.Error())
	case stderrors.Is(err, errors.ErrInvalidPassword), stderrors.Is(err, errors.ErrNotTenantMember):
		BadRequest(c, err.Error())
	case stderrors.Is(err, errors.ErrUserDisabled):
		Unauthorized(c, err.Error())
	case stderrors.Is(err, errors.ErrBuiltinProtected):
		Error(c, errors.CodeForbidden, err.Error())
	case stderrors.Is(err, errors.ErrAllocationExhausted):
		Error(c, errors.CodeUnavailable, err.Error())
	default:
		ServerError(c, fallback)
	}
}
