package handlers

import (
	"errors"
	"net/http"

	"dbaudit/internal/common"

	"github.com/gin-gonic/gin"
)

// respondError 把业务错误映射成统一响应。
// 业务错误以 200 + 业务码返回，其余按内部错误处理。
func respondError(c *gin.Context, err error) {
	var bizErr *common.BusinessError
	if errors.As(err, &bizErr) {
		c.JSON(http.StatusOK, common.ErrorResponse(bizErr.Code, bizErr.Message))
		return
	}
	c.JSON(http.StatusInternalServerError, common.ErrorResponse(common.CodeInternalError, err.Error()))
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, common.SuccessResponse(data))
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, common.ErrorResponse(common.CodeInvalidRequest, message))
}
