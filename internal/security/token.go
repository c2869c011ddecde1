package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid download token")

const tokenIssuer = "pgbulk"

// DownloadClaims grant access to one stored export.
type DownloadClaims struct {
	JobID string `json:"job"`
	Key   string `json:"key"`
	jwt.RegisteredClaims
}

// IssueDownloadToken signs an HS256 token for the export stored under key.
func IssueDownloadToken(secret, jobID, key string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("token secret is not configured")
	}
	now := time.Now()
	claims := DownloadClaims{
		JobID: jobID,
		Key:   key,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   jobID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseDownloadToken verifies a token from IssueDownloadToken and returns
// its claims.
func ParseDownloadToken(secret, token string) (*DownloadClaims, error) {
	claims := &DownloadClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Key == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
