package handlers

import "github.com/gofiber/fiber/v2"

// SetupIndexRoutes lists the public API on GET /.
func SetupIndexRoutes(app fiber.Router, version string) {
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Bench2Drive Leaderboard API",
			"version": version,
			"endpoints": fiber.Map{
				"auth": fiber.Map{
					"register": "POST /api/auth/register",
					"login":    "POST /api/auth/login",
				},
				"users": fiber.Map{
					"getUser":        "GET /api/users/:id",
					"getSubmissions": "GET /api/users/:id/submissions",
				},
				"leaderboard": "GET /api/leaderboard",
				"submissions": fiber.Map{
					"submit": "POST /api/submissions",
					"get":    "GET /api/submissions/:id",
				},
				"health": "GET /api/health",
			},
		})
	})
}
