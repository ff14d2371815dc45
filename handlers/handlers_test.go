package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bench2drive-leaderboard/models"
	"bench2drive-leaderboard/services"
	"bench2drive-leaderboard/utils"
	"bench2drive-leaderboard/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const adminToken = "admin-secret"

const validResult = `{"entry": "TransFuser", "routes": [
  {"route_id": "r0", "completion": 1.0, "distance_km": 2.0, "infractions": []}
]}`

type testServer struct {
	app    *fiber.App
	db     *gorm.DB
	store  *services.SubmissionStore
	pool   *workers.Pool
	intake *services.IntakeController
}

func newTestServer(t *testing.T, workerCount, backlog int) *testServer {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := services.Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	artifacts, err := utils.NewLocalArtifactStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create artifact store: %v", err)
	}
	pool := workers.NewPool(workerCount, backlog)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pool.Shutdown(ctx)
	})

	store := services.NewSubmissionStore(db)
	auth := services.NewAuthService(db, "test-secret", time.Hour)
	intake := &services.IntakeController{
		Store:         store,
		Parser:        services.NewResultParser(1 << 20),
		Scorer:        services.NewScorer(),
		Artifacts:     artifacts,
		Aggregator:    services.NewLeaderboardAggregator(store, services.NewMemoryLeaderboardCache()),
		Pool:          pool,
		Events:        services.NewNoopPublisher(),
		UploadTimeout: time.Second,
		ParseTimeout:  time.Second,
	}

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/fail", func(c *fiber.Ctx) error { return errors.New("boom") })
	SetupIndexRoutes(app, "test")
	api := app.Group("/api")
	SetupHealthRoutes(api, db, pool)
	SetupAuthRoutes(api, auth, store)
	SetupLeaderboardRoutes(api, intake.Aggregator)
	SetupSubmissionRoutes(api, intake, auth, 100)
	SetupAdminRoutes(api, intake, adminToken)
	app.Use(NotFound)

	return &testServer{app: app, db: db, store: store, pool: pool, intake: intake}
}

func (s *testServer) do(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := s.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	return resp, body
}

func (s *testServer) register(t *testing.T, username string) models.AuthResponse {
	t.Helper()
	payload, _ := json.Marshal(models.RegisterPayload{
		Username: username, Email: username + "@example.com", Password: "password123",
	})
	req := httptest.NewRequest("POST", "/api/auth/register", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, body := s.do(t, req)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("register failed: %d %s", resp.StatusCode, body)
	}
	var out models.AuthResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("failed to decode register response: %v", err)
	}
	return out
}

func submitRequest(t *testing.T, token, idempotencyToken, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if idempotencyToken != "" {
		w.WriteField("idempotency_token", idempotencyToken)
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	part.Write([]byte(content))
	w.Close()

	req := httptest.NewRequest("POST", "/api/submissions", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (s *testServer) waitFinished(t *testing.T, id string) *models.Submission {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sub, err := s.store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if sub.Stage == models.StageDone || sub.Stage == models.StageFailed {
			return sub
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("submission %s never finished", id)
	return nil
}

func TestAuthRoutes(t *testing.T) {
	s := newTestServer(t, 1, 1)
	alice := s.register(t, "alice")
	if alice.Token == "" || alice.User.Username != "alice" {
		t.Fatalf("unexpected register response: %+v", alice)
	}

	dup, _ := json.Marshal(models.RegisterPayload{Username: "alice", Email: "alice@example.com", Password: "password123"})
	req := httptest.NewRequest("POST", "/api/auth/register", bytes.NewReader(dup))
	req.Header.Set("Content-Type", "application/json")
	if resp, _ := s.do(t, req); resp.StatusCode != fiber.StatusConflict {
		t.Fatalf("expected 409 for duplicate user, got %d", resp.StatusCode)
	}

	bad, _ := json.Marshal(models.LoginPayload{Email: "alice@example.com", Password: "nope-nope"})
	req = httptest.NewRequest("POST", "/api/auth/login", bytes.NewReader(bad))
	req.Header.Set("Content-Type", "application/json")
	if resp, _ := s.do(t, req); resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", resp.StatusCode)
	}

	good, _ := json.Marshal(models.LoginPayload{Email: "alice@example.com", Password: "password123"})
	req = httptest.NewRequest("POST", "/api/auth/login", bytes.NewReader(good))
	req.Header.Set("Content-Type", "application/json")
	if resp, _ := s.do(t, req); resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 for login, got %d", resp.StatusCode)
	}

	resp, body := s.do(t, httptest.NewRequest("GET", "/api/users/"+alice.User.ID, nil))
	if resp.StatusCode != fiber.StatusOK || strings.Contains(string(body), "password") {
		t.Fatalf("unexpected user response: %d %s", resp.StatusCode, body)
	}
	if resp, _ := s.do(t, httptest.NewRequest("GET", "/api/users/"+uuid.NewString(), nil)); resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", resp.StatusCode)
	}
}

func TestSubmitFlow(t *testing.T) {
	s := newTestServer(t, 1, 4)
	alice := s.register(t, "alice")

	resp, first := s.do(t, submitRequest(t, alice.Token, "tok-1", "results.json", validResult))
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", resp.StatusCode, first)
	}
	var out SubmitResponse
	if err := json.Unmarshal(first, &out); err != nil || out.Status != models.StatusPending || out.SubmissionID == "" {
		t.Fatalf("unexpected submit response: %s", first)
	}
	s.waitFinished(t, out.SubmissionID)

	// Same token again: same response, no new record.
	resp, again := s.do(t, submitRequest(t, alice.Token, "tok-1", "results.json", validResult))
	if resp.StatusCode != fiber.StatusAccepted || !bytes.Equal(first, again) {
		t.Fatalf("replay must return the identical response, got %d %s", resp.StatusCode, again)
	}
	if resp.Header.Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay header")
	}
	var count int64
	s.db.Model(&models.Submission{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected one record, got %d", count)
	}

	req := httptest.NewRequest("GET", "/api/submissions/"+out.SubmissionID, nil)
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	resp, body := s.do(t, req)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var sub models.Submission
	json.Unmarshal(body, &sub)
	if sub.Status != models.StatusAccepted || sub.Stage != models.StageDone || sub.Score != 100 {
		t.Fatalf("unexpected submission: %+v", sub)
	}

	resp, body = s.do(t, httptest.NewRequest("GET", "/api/leaderboard", nil))
	var entries []models.LeaderboardEntry
	json.Unmarshal(body, &entries)
	if resp.StatusCode != fiber.StatusOK || len(entries) != 1 || entries[0].Entry != "TransFuser" || entries[0].Rank != 1 {
		t.Fatalf("unexpected leaderboard: %d %s", resp.StatusCode, body)
	}

	req = httptest.NewRequest("GET", "/api/users/"+alice.User.ID+"/submissions", nil)
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	resp, body = s.do(t, req)
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(body), out.SubmissionID) {
		t.Fatalf("unexpected history: %d %s", resp.StatusCode, body)
	}
}

func TestSubmit_Errors(t *testing.T) {
	s := newTestServer(t, 1, 0)
	alice := s.register(t, "alice")

	if resp, _ := s.do(t, submitRequest(t, "", "tok", "results.json", validResult)); resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if resp, _ := s.do(t, submitRequest(t, alice.Token, "", "results.json", validResult)); resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 without idempotency token, got %d", resp.StatusCode)
	}

	req := submitRequest(t, alice.Token, "", "results.json", validResult)
	req.Header.Set("Idempotency-Key", "from-header")
	resp, body := s.do(t, req)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("expected header token to be accepted, got %d %s", resp.StatusCode, body)
	}
	var out SubmitResponse
	json.Unmarshal(body, &out)
	s.waitFinished(t, out.SubmissionID)

	if resp, _ := s.do(t, submitRequest(t, alice.Token, "big", "results.json", strings.Repeat(" ", 2<<20))); resp.StatusCode != fiber.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
}

func TestSubmit_InFlightAndBusy(t *testing.T) {
	s := newTestServer(t, 1, 1)
	alice := s.register(t, "alice")
	bob := s.register(t, "bob")

	// Hold the only worker so alice's submission stays pending.
	release := make(chan struct{})
	blocker, err := s.pool.Reserve()
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	started := make(chan struct{})
	blocker.Go(func(ctx context.Context) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
	})
	<-started
	defer close(release)

	resp, body := s.do(t, submitRequest(t, alice.Token, "a1", "results.json", validResult))
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("expected 202, got %d %s", resp.StatusCode, body)
	}
	var first SubmitResponse
	json.Unmarshal(body, &first)

	resp, body = s.do(t, submitRequest(t, alice.Token, "a2", "results.json", validResult))
	if resp.StatusCode != fiber.StatusConflict || !strings.Contains(string(body), first.SubmissionID) {
		t.Fatalf("expected 409 naming the open submission, got %d %s", resp.StatusCode, body)
	}

	resp, _ = s.do(t, submitRequest(t, bob.Token, "b1", "results.json", validResult))
	if resp.StatusCode != fiber.StatusServiceUnavailable || resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected 503 with Retry-After, got %d", resp.StatusCode)
	}
}

func TestGetSubmission_OwnerOnly(t *testing.T) {
	s := newTestServer(t, 1, 1)
	alice := s.register(t, "alice")
	bob := s.register(t, "bob")

	resp, body := s.do(t, submitRequest(t, alice.Token, "tok", "results.json", `{"routes": []}`))
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var out SubmitResponse
	json.Unmarshal(body, &out)
	done := s.waitFinished(t, out.SubmissionID)
	if done.Status != models.StatusRejected || done.FailureKind != models.FailureValidation {
		t.Fatalf("expected validation rejection, got %+v", done)
	}

	req := httptest.NewRequest("GET", "/api/submissions/"+out.SubmissionID, nil)
	req.Header.Set("Authorization", "Bearer "+bob.Token)
	if resp, _ := s.do(t, req); resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for another user's submission, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest("GET", "/api/users/"+alice.User.ID+"/submissions", nil)
	req.Header.Set("Authorization", "Bearer "+bob.Token)
	if resp, _ := s.do(t, req); resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("expected 403 for another user's history, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest("GET", "/api/submissions/"+out.SubmissionID, nil)
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	resp, body = s.do(t, req)
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(body), "no routes") {
		t.Fatalf("owner should see the failure reason, got %d %s", resp.StatusCode, body)
	}
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t, 1, 1)
	alice := s.register(t, "alice")

	_, body := s.do(t, submitRequest(t, alice.Token, "tok", "results.json", validResult))
	var out SubmitResponse
	json.Unmarshal(body, &out)
	s.waitFinished(t, out.SubmissionID)

	req := httptest.NewRequest("POST", "/api/admin/submissions/"+out.SubmissionID+"/audit", nil)
	if resp, _ := s.do(t, req); resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without service token, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest("POST", "/api/admin/submissions/"+out.SubmissionID+"/audit", nil)
	req.Header.Set("X-Service-Token", adminToken)
	resp, body := s.do(t, req)
	var report services.AuditReport
	json.Unmarshal(body, &report)
	if resp.StatusCode != fiber.StatusOK || !report.Reproduced {
		t.Fatalf("expected reproducible audit, got %d %s", resp.StatusCode, body)
	}

	req = httptest.NewRequest("POST", "/api/admin/leaderboard/rebuild", nil)
	req.Header.Set("X-Service-Token", adminToken)
	if resp, body := s.do(t, req); resp.StatusCode != fiber.StatusOK || !strings.Contains(string(body), `"entries":1`) {
		t.Fatalf("unexpected rebuild response: %d %s", resp.StatusCode, body)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 1, 1)
	resp, body := s.do(t, httptest.NewRequest("GET", "/api/health", nil))
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(body), `"database":"ok"`) {
		t.Fatalf("unexpected health response: %d %s", resp.StatusCode, body)
	}
}

func TestIndexAndFallbacks(t *testing.T) {
	s := newTestServer(t, 1, 1)

	resp, body := s.do(t, httptest.NewRequest("GET", "/", nil))
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(body), "POST /api/submissions") {
		t.Fatalf("unexpected index response: %d %s", resp.StatusCode, body)
	}

	resp, body = s.do(t, httptest.NewRequest("GET", "/api/nope", nil))
	if resp.StatusCode != fiber.StatusNotFound || string(body) != `{"error":"Endpoint not found"}` {
		t.Fatalf("unexpected 404 response: %d %s", resp.StatusCode, body)
	}

	resp, body = s.do(t, httptest.NewRequest("GET", "/fail", nil))
	if resp.StatusCode != fiber.StatusInternalServerError || string(body) != `{"error":"Internal server error"}` {
		t.Fatalf("unexpected error response: %d %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("expected JSON error, got %q", ct)
	}
}

func TestNonUUIDPathsAreNotFound(t *testing.T) {
	s := newTestServer(t, 1, 1)
	alice := s.register(t, "alice")

	if resp, _ := s.do(t, httptest.NewRequest("GET", "/api/users/not-a-uuid", nil)); resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for a malformed user id, got %d", resp.StatusCode)
	}

	req := httptest.NewRequest("GET", "/api/submissions/not-a-uuid", nil)
	req.Header.Set("Authorization", "Bearer "+alice.Token)
	if resp, _ := s.do(t, req); resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for a malformed submission id, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest("POST", "/api/admin/submissions/not-a-uuid/audit", nil)
	req.Header.Set("X-Service-Token", adminToken)
	if resp, _ := s.do(t, req); resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for a malformed audit id, got %d", resp.StatusCode)
	}

	resp, body := s.do(t, httptest.NewRequest("GET", "/api/users/"+strings.ToUpper(alice.User.ID), nil))
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(body), alice.User.ID) {
		t.Fatalf("uppercase id should resolve to the same user: %d %s", resp.StatusCode, body)
	}
}
