// handlers/submissions.go
package handlers

import (
	"errors"

	"bench2drive-leaderboard/middleware"
	"bench2drive-leaderboard/models"
	"bench2drive-leaderboard/services"

	"github.com/gofiber/fiber/v2"
)

// SubmitResponse is the body of POST /submissions. It always carries the status the
// submission was created with, so a replayed request gets the same body back.
type SubmitResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
}

func SetupSubmissionRoutes(api fiber.Router, intake *services.IntakeController, auth middleware.TokenValidator, rateLimit int) {
	secured := api.Group("/submissions", middleware.JWTAuth(auth))

	secured.Post("/", middleware.SubmissionLimiter(rateLimit), func(c *fiber.Ctx) error {
		file, err := c.FormFile("file")
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "multipart field 'file' is required"})
		}
		token := c.FormValue("idempotency_token")
		if token == "" {
			token = c.Get("Idempotency-Key")
		}

		body, err := file.Open()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "could not read upload", "cause": err.Error()})
		}
		defer body.Close()

		sub, err := intake.Submit(c.UserContext(), services.IntakeRequest{
			UserID:           middleware.UserID(c),
			IdempotencyToken: token,
			EntryName:        c.FormValue("entry"),
			Filename:         file.Filename,
			ContentType:      file.Header.Get(fiber.HeaderContentType),
			Size:             file.Size,
			Body:             body,
		})
		switch {
		case err == nil:
		case errors.Is(err, services.ErrReplay):
			c.Set("Idempotent-Replayed", "true")
		case errors.Is(err, services.ErrInFlight) && sub != nil:
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":         "a submission is already in flight",
				"submission_id": sub.ID,
				"status":        sub.Status,
			})
		default:
			return respondError(c, err)
		}

		return c.Status(fiber.StatusAccepted).JSON(SubmitResponse{
			SubmissionID: sub.ID,
			Status:       models.StatusPending,
		})
	})

	secured.Get("/:id", func(c *fiber.Ctx) error {
		id, ok := pathID(c)
		if !ok {
			return notFound(c)
		}
		sub, err := intake.Store.Get(c.UserContext(), id)
		if err != nil {
			return respondError(c, err)
		}
		// Other users' submissions are reported as missing.
		if sub.UserID != middleware.UserID(c) {
			return notFound(c)
		}
		return c.JSON(sub)
	})
}
