package middleware

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
)

type fakeValidator struct {
	validateFn func(token string) (string, error)
}

func (f fakeValidator) ValidateToken(token string) (string, error) {
	return f.validateFn(token)
}

func newAuthApp() *fiber.App {
	app := fiber.New()
	auth := fakeValidator{validateFn: func(token string) (string, error) {
		if token == "good" {
			return "user-1", nil
		}
		return "", errors.New("bad token")
	}}
	app.Get("/me", JWTAuth(auth), func(c *fiber.Ctx) error {
		return c.SendString(UserID(c))
	})
	return app
}

func TestJWTAuth(t *testing.T) {
	app := newAuthApp()
	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", fiber.StatusUnauthorized},
		{"wrong scheme", "Basic good", fiber.StatusUnauthorized},
		{"invalid", "Bearer nope", fiber.StatusUnauthorized},
		{"valid", "Bearer good", fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestServiceTokenAuth(t *testing.T) {
	app := fiber.New()
	app.Post("/admin", ServiceTokenAuth("s3cret"), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	check := func(header, value string, want int) {
		t.Helper()
		req := httptest.NewRequest("POST", "/admin", nil)
		if header != "" {
			req.Header.Set(header, value)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != want {
			t.Fatalf("%s=%q: expected %d, got %d", header, value, want, resp.StatusCode)
		}
	}
	check("", "", fiber.StatusUnauthorized)
	check("X-Service-Token", "wrong", fiber.StatusUnauthorized)
	check("X-Service-Token", "s3cret", fiber.StatusNoContent)
	check("Authorization", "Bearer s3cret", fiber.StatusNoContent)

	disabled := fiber.New()
	disabled.Post("/admin", ServiceTokenAuth(""), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	req := httptest.NewRequest("POST", "/admin", nil)
	req.Header.Set("X-Service-Token", "")
	resp, _ := disabled.Test(req)
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("expected disabled admin routes, got %d", resp.StatusCode)
	}
}

func TestSubmissionLimiter(t *testing.T) {
	app := fiber.New()
	app.Post("/submit", func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Get("X-Test-User"))
		return c.Next()
	}, SubmissionLimiter(2), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusAccepted) })

	send := func(user string) int {
		req := httptest.NewRequest("POST", "/submit", nil)
		req.Header.Set("X-Test-User", user)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		return resp.StatusCode
	}

	if send("a") != fiber.StatusAccepted || send("a") != fiber.StatusAccepted {
		t.Fatalf("first two requests should pass")
	}
	if code := send("a"); code != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := send("b"); code != fiber.StatusAccepted {
		t.Fatalf("limits are per user, got %d", code)
	}
}
