package handlers

import (
	"bench2drive-leaderboard/services"

	"github.com/gofiber/fiber/v2"
)

func SetupLeaderboardRoutes(api fiber.Router, aggregator *services.LeaderboardAggregator) {
	api.Get("/leaderboard", func(c *fiber.Ctx) error {
		entries, err := aggregator.Standings(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(entries)
	})
}
