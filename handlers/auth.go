// handlers/auth.go
package handlers

import (
	"bench2drive-leaderboard/middleware"
	"bench2drive-leaderboard/models"
	"bench2drive-leaderboard/services"

	"github.com/gofiber/fiber/v2"
)

func SetupAuthRoutes(api fiber.Router, auth *services.AuthService, store *services.SubmissionStore) {
	api.Post("/auth/register", func(c *fiber.Ctx) error {
		var payload models.RegisterPayload
		if err := c.BodyParser(&payload); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body", "cause": err.Error()})
		}
		user, token, err := auth.Register(c.UserContext(), &payload)
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(models.AuthResponse{User: user.Public(), Token: token})
	})

	api.Post("/auth/login", func(c *fiber.Ctx) error {
		var payload models.LoginPayload
		if err := c.BodyParser(&payload); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body", "cause": err.Error()})
		}
		user, token, err := auth.Login(c.UserContext(), &payload)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(models.AuthResponse{User: user.Public(), Token: token})
	})

	api.Get("/users/:id", func(c *fiber.Ctx) error {
		id, ok := pathID(c)
		if !ok {
			return notFound(c)
		}
		user, err := auth.GetUser(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(user.Public())
	})

	// 🔐 Own submission history only
	api.Get("/users/:id/submissions", middleware.JWTAuth(auth), func(c *fiber.Ctx) error {
		if c.Params("id") != middleware.UserID(c) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "you can only list your own submissions"})
		}
		subs, err := store.ListByUser(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(subs)
	})
}
