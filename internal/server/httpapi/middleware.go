package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/server/auth"
	"github.com/gin-gonic/gin"
)

// authMiddleware requires a "Bearer <jwt>" header and stores the caller's
// wallet under common.WalletContextKey.
func (s *HTTPServer) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader(common.AuthorizationHeaderName)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		wallet, err := auth.GetWalletFromToken(token, s.jwtSecret)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, common.ErrTokenExpired) {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(common.WalletContextKey, wallet)
		c.Next()
	}
}

func walletFrom(c *gin.Context) string {
	return c.GetString(common.WalletContextKey)
}
