package handlers

import (
	"errors"
	"net/http"

	"dbaudit/internal/auth"
	"dbaudit/internal/common"
	"dbaudit/internal/logger"
	"dbaudit/internal/resource"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// UserHandler 登录与用户信息接口
type UserHandler struct {
	db         *gorm.DB
	jwtService *auth.JWTService
	resolver   *resource.Resolver
}

// NewUserHandler 创建用户接口
func NewUserHandler(db *gorm.DB, jwtService *auth.JWTService, resolver *resource.Resolver) *UserHandler {
	return &UserHandler{db: db, jwtService: jwtService, resolver: resolver}
}

// LoginRequest 登录参数
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 账号密码登录，签发访问令牌
func (h *UserHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	var user resource.Users
	err := h.db.WithContext(c.Request.Context()).
		Where("username = ? AND is_active = ?", req.Username, true).
		First(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Error("查询用户失败", zap.String("username", req.Username), zap.Error(err))
		}
		c.JSON(http.StatusUnauthorized, common.ErrorResponse(common.CodeUnauthorized, "用户名或密码错误"))
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, common.ErrorResponse(common.CodeUnauthorized, "用户名或密码错误"))
		return
	}

	token, err := h.jwtService.GenerateToken(user.Username, user.IsSuperuser)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{
		"token": token,
		"user": gin.H{
			"username":    user.Username,
			"displayName": user.DisplayName,
			"isSuperuser": user.IsSuperuser,
		},
	})
}

// Me 当前用户可见的资源组
func (h *UserHandler) Me(c *gin.Context) {
	user, _ := auth.CurrentUser(c)
	groups, err := h.resolver.UserGroups(c.Request.Context(), user)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{
		"username":    user.Username,
		"isSuperuser": user.IsSuperuser,
		"groups":      groups,
	})
}
