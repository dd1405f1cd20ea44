// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"net/http"
	"strings"

	"meme-guard-go/internal/service"
	"meme-guard-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它从请求头（或 websocket 升级请求的 query 参数）中提取 token，
// 验证有效性后将完整的 Operator 对象存入 Gin 的上下文。
func AuthMiddleware(jwtManager *token.JWTManager, authService service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "请求未包含授权凭据"})
			return
		}

		claims, err := jwtManager.VerifyToken(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "无效或已过期的 token"})
			return
		}

		operator, err := authService.FindOperator(claims.Username)
		if err != nil || operator == nil {
			// token 中的操作员可能已被删除
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "操作员不存在"})
			return
		}

		c.Set("operator", operator)
		c.Next()
	}
}

// extractToken 优先取 "Authorization: Bearer <token>"，
// websocket 握手无法携带自定义请求头时退回 query 参数 token。
func extractToken(c *gin.Context) string {
	const bearerPrefix = "Bearer "
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, bearerPrefix) {
		return strings.TrimPrefix(authHeader, bearerPrefix)
	}
	return c.Query("token")
}
