package httptransport

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"nerfbot-server-go/internal/domain/auth"
	"nerfbot-server-go/internal/platform/logging"
)

const claimsKey = "auth.claims"

// AuthService 签发并校验管理端 JWT
type AuthService struct {
	tokens      *auth.AdminToken
	serverToken string
	enabled     bool
	logger      *logging.Logger
}

func NewAuthService(tokens *auth.AdminToken, serverToken string, enabled bool, logger *logging.Logger) *AuthService {
	return &AuthService{tokens: tokens, serverToken: serverToken, enabled: enabled, logger: logger}
}

// Register 注册认证路由
func (s *AuthService) Register(router *gin.RouterGroup) {
	router.POST("/auth/token", s.handleIssueToken)
}

type tokenRequest struct {
	Token   string `json:"token" binding:"required"`
	Subject string `json:"subject"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s *AuthService) handleIssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "token is required", nil)
		return
	}
	if s.serverToken == "" || subtle.ConstantTimeCompare([]byte(req.Token), []byte(s.serverToken)) != 1 {
		s.logger.WarnTag("认证", "rejected token request from %s", c.ClientIP())
		RespondError(c, http.StatusUnauthorized, "invalid server token", nil)
		return
	}
	subject := req.Subject
	if subject == "" {
		subject = "operator"
	}
	token, exp, err := s.tokens.GenerateToken(subject, auth.RoleAdmin)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	RespondSuccess(c, http.StatusOK, tokenResponse{AccessToken: token, ExpiresAt: exp}, "")
}

// Middleware 校验 Bearer token；认证关闭时直接放行
func (s *AuthService) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.enabled {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" || token == header {
			RespondError(c, http.StatusUnauthorized, "missing bearer token", nil)
			c.Abort()
			return
		}
		claims, err := s.tokens.VerifyToken(token)
		if err != nil {
			s.logger.WarnTag("认证", "invalid token: %v", err)
			RespondError(c, http.StatusUnauthorized, "invalid token", nil)
			c.Abort()
			return
		}
		if claims.Role != auth.RoleAdmin {
			RespondError(c, http.StatusForbidden, "admin role required", nil)
			c.Abort()
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}
