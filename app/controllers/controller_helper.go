package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// apiError writes the standard error envelope. Messages are generic; internal
// error detail never leaves the server.
func apiError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"code":    code,
		"message": message,
	})
}

// apiSuccess writes the standard success envelope with data merged in at the
// top level.
func apiSuccess(c *fiber.Ctx, status int, data fiber.Map) error {
	body := fiber.Map{"success": true}
	for k, v := range data {
		body[k] = v
	}
	return c.Status(status).JSON(body)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
