package handlers

import (
	"bench2drive-leaderboard/workers"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func SetupHealthRoutes(api fiber.Router, db *gorm.DB, pool *workers.Pool) {
	api.Get("/health", func(c *fiber.Ctx) error {
		code, status := fiber.StatusOK, "ok"
		dbStatus := "ok"
		if sqlDB, err := db.DB(); err != nil {
			dbStatus = err.Error()
		} else if err := sqlDB.PingContext(c.UserContext()); err != nil {
			dbStatus = err.Error()
		}
		if dbStatus != "ok" {
			code, status = fiber.StatusServiceUnavailable, "degraded"
		}
		return c.Status(code).JSON(fiber.Map{
			"status":   status,
			"database": dbStatus,
			"jobs": fiber.Map{
				"admitted": pool.Admitted(),
				"running":  pool.Running(),
			},
		})
	})
}
