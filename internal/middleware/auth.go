package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v3"
)

// UserAuth resolves the authenticated user id set by the gateway in front of
// this service. Requests without a valid id never reach the ledger.
func UserAuth() fiber.Handler {
	return func(c fiber.Ctx) error {
		header := c.Get("X-User-ID")
		if header == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing user identity",
			})
		}

		userID, err := strconv.ParseInt(header, 10, 64)
		if err != nil || userID <= 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid user identity",
			})
		}

		c.Locals("user_id", userID)
		return c.Next()
	}
}
