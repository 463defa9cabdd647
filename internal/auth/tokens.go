package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	tokenIssuer     = "rag-chatbot-platform"
	accessKeyPrefix = "access:"
	minSecretLength = 32
)

// Claims identify a dashboard owner.
type Claims struct {
	OwnerID string `json:"owner_id"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates HS256 owner tokens. When a Redis client is
// set, every token's jti is registered so tokens can be revoked before expiry.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	rdb    redis.UniversalClient
}

func NewTokenIssuer(secret string, ttl time.Duration, rdb redis.UniversalClient) (*TokenIssuer, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("JWT secret must be at least %d characters", minSecretLength)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, rdb: rdb}, nil
}

func (t *TokenIssuer) Issue(ctx context.Context, ownerID string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(t.ttl)
	jti := uuid.NewString()

	claims := Claims{
		OwnerID: ownerID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   ownerID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	if t.rdb != nil {
		if err := t.rdb.Set(ctx, accessKeyPrefix+jti, ownerID, t.ttl).Err(); err != nil {
			return "", time.Time{}, fmt.Errorf("register token: %w", err)
		}
	}
	return signed, exp, nil
}

// ValidateAccessToken parses a token and checks it has not been revoked.
// Every failure wraps ErrUnauthorized.
func (t *TokenIssuer) ValidateAccessToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(strings.TrimPrefix(tokenString, "Bearer "), claims,
		func(token *jwt.Token) (interface{}, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	if claims.OwnerID == "" {
		return nil, fmt.Errorf("%w: token has no owner", ErrUnauthorized)
	}

	if t.rdb != nil {
		exists, err := t.rdb.Exists(ctx, accessKeyPrefix+claims.ID).Result()
		if err != nil {
			return nil, fmt.Errorf("check token revocation: %w", err)
		}
		if exists != 1 {
			return nil, fmt.Errorf("%w: token revoked or expired", ErrUnauthorized)
		}
	}
	return claims, nil
}

func (t *TokenIssuer) Revoke(ctx context.Context, jti string) error {
	if t.rdb == nil {
		return errors.New("token revocation requires redis")
	}
	return t.rdb.Del(ctx, accessKeyPrefix+jti).Err()
}

// ExtractTokenFromHeader returns the bearer token of an Authorization header.
func ExtractTokenFromHeader(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
