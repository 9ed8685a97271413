package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/chamada/internal/domain"
)

// AdminTokenHeader carries the shared admin token.
const AdminTokenHeader = "X-Admin-Token"

// AdminToken rejects requests that do not present the configured token, either
// in X-Admin-Token or as a Bearer token.
func AdminToken(token string) fiber.Handler {
	want := sha256.Sum256([]byte(token))

	return func(c *fiber.Ctx) error {
		presented := c.Get(AdminTokenHeader)
		if presented == "" {
			presented = extractBearerToken(c)
		}
		if presented == "" || token == "" {
			return domain.ErrUnauthorized
		}

		// compare digests so timing does not leak the token length
		got := sha256.Sum256([]byte(presented))
		if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			return domain.ErrUnauthorized
		}

		return c.Next()
	}
}

// extractBearerToken extracts token from Authorization header
func extractBearerToken(c *fiber.Ctx) string {
	auth := c.Get("Authorization")
	if auth == "" {
		return ""
	}

	// Expected format: "Bearer <token>"
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
