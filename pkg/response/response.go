package response

import (
	"errors"
	"net/http"

	"vendorpay/internal/apperr"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeConflict      = 409
	CodeUnprocessable = 422
	CodeServerError   = 500
	CodeUnavailable   = 503
)

// 业务错误码
const (
	CodeSignatureInvalid = 1001
	CodeIntegrityAnomaly = 1002
	CodeImmutableRecord  = 1003
	CodeGatewayDown      = 1004
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.AbortWithStatusJSON(httpStatus, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeParamError, message)
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, CodeForbidden, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, CodeServerError, message)
}

// FromError 按错误类别映射 HTTP 状态码；未归类的错误一律 500 且不回显内部细节
func FromError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrSignatureInvalid):
		Error(c, http.StatusBadRequest, CodeSignatureInvalid, err.Error())
	case errors.Is(err, apperr.ErrValidation):
		Error(c, http.StatusBadRequest, CodeParamError, err.Error())
	case errors.Is(err, apperr.ErrIntegrityAnomaly):
		// 未知订单 404，金额不符 422
		if errors.Is(err, apperr.ErrNotFound) {
			Error(c, http.StatusNotFound, CodeIntegrityAnomaly, err.Error())
			return
		}
		Error(c, http.StatusUnprocessableEntity, CodeIntegrityAnomaly, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		Error(c, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, apperr.ErrForbidden):
		Forbidden(c, err.Error())
	case errors.Is(err, apperr.ErrImmutableRecord):
		Error(c, http.StatusConflict, CodeImmutableRecord, err.Error())
	case errors.Is(err, apperr.ErrGatewayUnavailable):
		Error(c, http.StatusServiceUnavailable, CodeGatewayDown, err.Error())
	default:
		ServerError(c, "服务器内部错误")
	}
}
