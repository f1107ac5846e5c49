package handler

import (
	"github.com/gin-gonic/gin"

	"pg-pointage/backend/internal/api/middleware"
	"pg-pointage/backend/pkg/jwt"
	"pg-pointage/backend/pkg/response"
)

// MustGetUserID 从 Gin 上下文中安全提取 user_id。
// JWT 中间件未注入时写入 401，调用方应在 ok=false 时直接 return。
func MustGetUserID(c *gin.Context) (string, bool) {
	return mustGetString(c, middleware.ContextUserID)
}

// MustGetRole 从 Gin 上下文中安全提取 role。
func MustGetRole(c *gin.Context) (string, bool) {
	return mustGetString(c, middleware.ContextRole)
}

func mustGetString(c *gin.Context, key string) (string, bool) {
	v, exists := c.Get(key)
	if !exists {
		response.Unauthorized(c, 10002, "未认证")
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		response.Unauthorized(c, 10002, "未认证")
		return "", false
	}
	return s, true
}

// isSupervisor 管理员与主管可以代他人打卡、重扫和审核
func isSupervisor(role string) bool {
	return role == jwt.RoleAdmin || role == jwt.RoleManager
}
