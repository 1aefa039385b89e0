// Package auth issues and verifies the HS256 session tokens that carry a
// caller's wallet address.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the registered claims plus the wallet address.
type Claims struct {
	jwt.RegisteredClaims
	Wallet string `json:"wallet"`
}

func GenerateToken(wallet string, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   wallet,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		Wallet: wallet,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// GetWalletFromToken verifies tokenString and returns its wallet. Expired
// tokens yield common.ErrTokenExpired, anything else common.ErrInvalidToken.
func GetWalletFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", common.ErrInvalidToken
	}

	if !token.Valid || claims.Wallet == "" {
		return "", common.ErrInvalidToken
	}

	return claims.Wallet, nil
}
