package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

// Gin context keys set by RequireCandidateJWT.
const (
	ContextKeyClaims      = "claims"
	ContextKeyUserID      = "user_id"
	ContextKeyTokenSource = "token_source"
)

const (
	tokenFromHeader = "header"
	tokenFromQuery  = "query"
)

// RequireCandidateJWT admits candidate tokens from the Authorization header.
func RequireCandidateJWT(authService *service.AuthService) gin.HandlerFunc {
	return candidateJWT(authService, false)
}

// RequireCandidateJWTOrQuery also accepts ?token=, for WebSocket upgrades and
// page-close beacons, neither of which can set headers. Keep it off every
// other route so tokens stay out of URLs and proxy logs.
func RequireCandidateJWTOrQuery(authService *service.AuthService) gin.HandlerFunc {
	return candidateJWT(authService, true)
}

func candidateJWT(authService *service.AuthService, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, source := extractToken(c, allowQuery)
		if raw == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		c.Set(ContextKeyTokenSource, source)

		claims, err := authService.ValidateToken(raw)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, tokenErrCode(err))
			return
		}
		if claims.TokenType != service.TokenTypeCandidate {
			response.AbortFail(c, http.StatusForbidden, response.ErrCandidateOnly)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Set(ContextKeyUserID, claims.UserID)
		c.Next()
	}
}

// GetClaims returns the caller's claims, or nil outside RequireCandidateJWT.
func GetClaims(c *gin.Context) *service.Claims {
	v, _ := c.Get(ContextKeyClaims)
	claims, _ := v.(*service.Claims)
	return claims
}

func tokenErrCode(err error) response.ErrCode {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return response.ErrTokenExpired
	}
	return response.ErrTokenInvalid
}

func extractToken(c *gin.Context, allowQuery bool) (string, string) {
	if scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " "); ok && strings.EqualFold(scheme, "bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return token, tokenFromHeader
		}
	}
	if token := c.Query("token"); allowQuery && token != "" {
		return token, tokenFromQuery
	}
	return "", ""
}
