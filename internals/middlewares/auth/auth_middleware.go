// internals/middlewares/auth/auth_middleware.go
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tuitionpay_backend/internals/kvstore"
)

const (
	RoleAdmin = "admin"

	LocalRole      = "userRole"
	LocalSessionID = "session_id"
	LocalExpiresAt = "session_expires_at"

	issuer = "tuitionpay"
)

// clock skew tolerated on exp and nbf
const leeway = 30 * time.Second

type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueAdminToken signs an HS256 session token valid for ttl from now.
func IssueAdminToken(secret string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if secret == "" {
		return "", time.Time{}, errors.New("jwt secret is empty")
	}
	exp := now.Add(ttl)
	claims := AdminClaims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   RoleAdmin,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ParseAdminToken verifies signature, algorithm and expiry.
func ParseAdminToken(secret, token string, now time.Time) (*AdminClaims, error) {
	claims := &AdminClaims{}
	parser := jwt.Parser{SkipClaimsValidation: true}
	if _, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}); err != nil {
		return nil, err
	}

	if claims.ExpiresAt == nil || now.After(claims.ExpiresAt.Add(leeway)) {
		return nil, errors.New("token expired")
	}
	if claims.NotBefore != nil && now.Add(leeway).Before(claims.NotBefore.Time) {
		return nil, errors.New("token not valid yet")
	}
	if claims.Issuer != issuer {
		return nil, errors.New("unexpected issuer")
	}
	return claims, nil
}

// AdminJWT gates /api/admin. Only tokens from IssueAdminToken pass, and only
// until their session is revoked by logout.
func AdminJWT(secret string, kv kvstore.Store, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			log.Error("admin gate has no JWT secret configured")
			return fiber.NewError(fiber.StatusInternalServerError, "Missing JWT Secret")
		}

		tokenString, err := extractBearerToken(c)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		claims, err := ParseAdminToken(secret, tokenString, time.Now().UTC())
		if err != nil {
			log.Debug("admin token rejected", zap.String("path", c.Path()), zap.Error(err))
			return fiber.NewError(fiber.StatusUnauthorized, "Unauthorized - invalid or expired token")
		}

		revoked, err := kvstore.Exists(c.UserContext(), kv, kvstore.RevokedSessionKey(claims.ID))
		if err != nil {
			log.Error("revocation check failed", zap.Error(err))
			return fiber.NewError(fiber.StatusInternalServerError, "Internal Server Error")
		}
		if revoked {
			return fiber.NewError(fiber.StatusUnauthorized, "Unauthorized - session revoked")
		}

		storeClaimsToLocals(c, claims)
		return c.Next()
	}
}
