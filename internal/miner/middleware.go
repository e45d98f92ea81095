package miner

import (
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/tokengraph-labs/tokengraph/pkg/signature"
)

const (
	HotkeyHeader    = "X-Hotkey"
	SignatureHeader = "X-Signature"
)

// SignatureMiddleware verifies that the request body was signed by the hotkey
// named in the headers. Whitelisted routes skip verification.
func SignatureMiddleware(verifier signature.SignatureVerifier, whitelistedRoutes []string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()

		for _, route := range whitelistedRoutes {
			if path == route {
				return c.Next()
			}
		}

		sig := c.Get(SignatureHeader)
		hotkey := c.Get(HotkeyHeader)

		if hotkey == "" || sig == "" {
			errMsg := fmt.Sprintf("%s, missing headers, expected: %s, %s",
				http.StatusText(http.StatusBadRequest),
				HotkeyHeader, SignatureHeader)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": errMsg})
		}

		valid, err := verifier.Verify(string(c.Body()), sig, hotkey)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": fmt.Sprintf("Signature verification error: %s", err.Error()),
			})
		}
		if !valid {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": http.StatusText(http.StatusForbidden) + " due to invalid signature",
			})
		}

		log.Debug().
			Str("hotkey", hotkey).
			Str("path", path).
			Msg("Verified validator signature")

		return c.Next()
	}
}
