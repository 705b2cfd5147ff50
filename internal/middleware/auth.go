package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/service/audit"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

const ContextActorID = "actor_id"

// AuthMiddleware verifies bearer tokens issued by the identity service.
// Tokens are never issued here.
type AuthMiddleware struct {
	secret []byte
	issuer string
}

func NewAuthMiddleware(cfg config.AuthConfig) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer}
}

// Authenticate verifies the JWT token and records its subject as the actor
// for audit entries. With no secret configured every request passes.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(m.secret) == 0 {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			Abort(c, unauthorized("missing authorization header", nil))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			Abort(c, unauthorized("invalid authorization format", nil))
			return
		}

		claims, err := m.parse(parts[1])
		if err != nil {
			Abort(c, unauthorized("invalid token", err))
			return
		}

		c.Set(ContextActorID, claims.Subject)
		c.Request = c.Request.WithContext(audit.WithActor(c.Request.Context(), claims.Subject))
		c.Next()
	}
}

func (m *AuthMiddleware) parse(token string) (*jwt.RegisteredClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func unauthorized(message string, err error) *apperrors.AppError {
	appErr := apperrors.Unauthorized(err)
	appErr.Message = message
	return appErr
}
