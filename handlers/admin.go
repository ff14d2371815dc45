// handlers/admin.go
package handlers

import (
	"bench2drive-leaderboard/middleware"
	"bench2drive-leaderboard/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

func SetupAdminRoutes(api fiber.Router, intake *services.IntakeController, adminToken string) {
	admin := api.Group("/admin", middleware.ServiceTokenAuth(adminToken))

	admin.Post("/submissions/:id/audit", func(c *fiber.Ctx) error {
		id, ok := pathID(c)
		if !ok {
			return notFound(c)
		}
		report, err := intake.Audit(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(report)
	})

	admin.Post("/leaderboard/rebuild", func(c *fiber.Ctx) error {
		entries, err := intake.Aggregator.Rebuild(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		log.Infof("🔄 [ADMIN] leaderboard rebuilt with %d entrant(s)", len(entries))
		return c.JSON(fiber.Map{"entries": len(entries), "leaderboard": entries})
	})
}
