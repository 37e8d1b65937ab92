package auth

import (
	"net/http"
	"strings"

	"dbaudit/internal/audit"

	"github.com/gin-gonic/gin"
)

// UserContextKey 用户上下文键
const UserContextKey = "auth_user"

// AuthMiddleware JWT 认证中间件
func AuthMiddleware(jwtService *JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少认证令牌"})
			c.Abort()
			return
		}

		token := extractBearer(authHeader)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的令牌格式"})
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "令牌验证失败: " + err.Error()})
			c.Abort()
			return
		}

		c.Set(UserContextKey, audit.User{
			Username:    claims.Username,
			IsSuperuser: claims.IsSuperuser,
		})
		c.Next()
	}
}

// CurrentUser 从请求上下文取出认证用户
func CurrentUser(c *gin.Context) (audit.User, bool) {
	v, ok := c.Get(UserContextKey)
	if !ok {
		return audit.User{}, false
	}
	user, ok := v.(audit.User)
	return user, ok
}

func extractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
