// internals/middlewares/auth/claim_utils.go
package auth

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// SessionCookie carries the admin token for browser clients.
const SessionCookie = "admin_session"

/* ======== Extractors ======== */

func extractBearerToken(c *fiber.Ctx) (string, error) {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if auth == "" {
		if cookieTok := c.Cookies(SessionCookie); cookieTok != "" {
			auth = "Bearer " + cookieTok
		}
	}
	if auth == "" {
		return "", fmt.Errorf("unauthorized - no token provided")
	}

	// tolerate doubled spaces and any casing of the scheme
	fields := strings.Fields(auth)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", fmt.Errorf("unauthorized - invalid token format")
	}
	tok := strings.Trim(strings.TrimSpace(fields[1]), "\"'")
	if tok == "" {
		return "", fmt.Errorf("unauthorized - empty token")
	}
	return tok, nil
}

/* ======== Locals ======== */

func storeClaimsToLocals(c *fiber.Ctx, claims *AdminClaims) {
	c.Locals(LocalRole, claims.Role)
	c.Locals(LocalSessionID, claims.ID)
	if claims.ExpiresAt != nil {
		c.Locals(LocalExpiresAt, claims.ExpiresAt.Time)
	}
}

// RoleFrom returns the role set by AdminJWT, or "" outside the gate.
func RoleFrom(c *fiber.Ctx) string {
	role, _ := c.Locals(LocalRole).(string)
	return role
}
