package handlers

import (
	"errors"
	"strconv"

	"bench2drive-leaderboard/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// busyRetryAfter is the Retry-After hint, in seconds, sent with 503 Busy.
const busyRetryAfter = 5

// respondError maps the service error taxonomy onto HTTP.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrTooLarge):
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "artifact too large", "cause": err.Error()})
	case errors.Is(err, services.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation error", "cause": err.Error()})
	case errors.Is(err, services.ErrUserExists):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "user already exists"})
	case errors.Is(err, services.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "cause": err.Error()})
	case errors.Is(err, services.ErrBusy):
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(busyRetryAfter))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "scoring queue is full, retry later"})
	case errors.Is(err, services.ErrTimeout):
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{"error": "timeout", "cause": err.Error()})
	case errors.Is(err, services.ErrNotFound):
		return notFound(c)
	case errors.Is(err, services.ErrInvalidCredentials):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials"})
	case errors.Is(err, services.ErrStorage):
		log.Errorf("[HTTP] %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage failure", "retryable": true})
	default:
		// Includes ErrInvalidTransition, which is never described to clients.
		log.Errorf("[HTTP] %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}

// ErrorHandler renders errors that escape route handlers, including recovered panics
// and body limit rejections, as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	log.Errorf("[HTTP] Server error on %s %s: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
}

// NotFound is mounted after every route.
func NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Endpoint not found"})
}

// pathID returns the :id parameter in canonical form, or false when it is not a UUID.
func pathID(c *fiber.Ctx) (string, bool) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return "", false
	}
	return id.String(), true
}

func notFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
}
