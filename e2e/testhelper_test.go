package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/onera/studio/internal/auth"
	"github.com/onera/studio/internal/handler"
	"github.com/onera/studio/internal/middleware"
	"github.com/onera/studio/internal/model"
	"github.com/onera/studio/internal/service"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testRedisAddr = "localhost:6379"
	testRedisDB   = 15 // use DB 15 for tests to avoid collision
)

// testApp holds all components needed for testing
type testApp struct {
	app           *fiber.App
	redis         *redis.Client
	renderService *service.RenderService
}

type appOptions struct {
	authRequired bool
}

// setupApp creates a Fiber app wired like main.go, with auth required and no
// object storage configured. Tests are skipped when redis is not running.
func setupApp(t *testing.T) *testApp {
	return setupAppWith(t, appOptions{authRequired: true})
}

func setupAppWith(t *testing.T, opts appOptions) *testApp {
	t.Helper()

	redisClient := redis.NewClient(&redis.Options{
		Addr: testRedisAddr,
		DB:   testRedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		t.Skipf("redis not available at %s: %v", testRedisAddr, err)
	}
	t.Cleanup(func() { redisClient.Close() })

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: testRedisAddr,
		DB:   testRedisDB,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()

	// Services; nil storage makes signing fail with 500
	renderService := service.NewRenderService(redisClient, asynqClient, model.DefaultCanvas())
	assetService := service.NewAssetService(nil)

	// Handlers
	authenticator := auth.NewAuthenticator(nil, testJWTSecret)
	renderHandler := handler.NewRenderHandler(renderService, validate)
	assetHandler := handler.NewAssetHandler(assetService, validate)
	authHandler := handler.NewAuthHandler(authenticator)

	authMiddleware := middleware.NewAuthMiddleware(authenticator, opts.authRequired)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024,
	})

	// Base routes
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis": true,
				"r2":    false,
				"auth":  true,
			},
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	// API routes; very high rate limits so tests don't get blocked
	api := app.Group("/api", authMiddleware.Authenticate())
	api.Post("/render", rateLimiter.RenderLimit(10000), renderHandler.Submit)
	api.Get("/jobs/:id", renderHandler.Status)
	api.Post("/assets/sign", rateLimiter.SignLimit(10000), assetHandler.Sign)

	return &testApp{app: app, redis: redisClient, renderService: renderService}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	signed, err := auth.IssueLegacyToken(testJWTSecret, "test-user-123", "test@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
