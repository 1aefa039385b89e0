package httpapi

import (
	"errors"
	"net/http"

	"github.com/dmitrijs2005/medvault/internal/acl"
	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/cryptox"
	"github.com/dmitrijs2005/medvault/internal/tokens"
	"github.com/dmitrijs2005/medvault/internal/vault"
	"github.com/gin-gonic/gin"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var rej *vault.RejectedError
	switch {
	case errors.Is(err, tokens.ErrTokenNotFound), errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.As(err, &rej),
		errors.Is(err, common.ErrorForbidden),
		errors.Is(err, acl.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, tokens.ErrDuplicateToken), errors.Is(err, common.ErrorAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, common.ErrorValidation),
		errors.Is(err, tokens.ErrInvalidOptions),
		errors.Is(err, tokens.ErrInvalidShareType),
		errors.Is(err, acl.ErrInvalidGrant),
		errors.Is(err, cryptox.ErrKeyFormat),
		errors.Is(err, cryptox.ErrInvalidMetadata):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrorUnauthorized):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func (s *HTTPServer) writeError(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error(c.Request.Context(), "request failed", "route", c.FullPath(), "error", err)
		c.AbortWithStatusJSON(code, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}
