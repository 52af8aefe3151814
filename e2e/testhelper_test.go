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

	"github.com/safetymv/api/internal/client"
	"github.com/safetymv/api/internal/handler"
	"github.com/safetymv/api/internal/middleware"
	"github.com/safetymv/api/internal/service"
)

// testApp holds all components needed for testing
type testApp struct {
	app   *fiber.App
	store *service.JobStore
}

// setupApp creates a Fiber app identical to main.go but with unconfigured
// external clients and in-memory storage. Tests that need Redis must call
// requireRedis first.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	// Redis on localhost, required for the stateful tests
	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()

	// External clients left unconfigured; storage is in-memory
	sunoClient := &unconfiguredMusicClient{}
	storageClient := client.NewMockStorageClient("test-bucket")

	// Services
	jobStore := service.NewJobStore(redisClient)
	flowService := service.NewFlowService(jobStore, asynqClient, "skip")
	sunoService := service.NewSunoService(jobStore, redisClient, asynqClient, sunoClient, storageClient, "")

	// Handlers
	jobHandler := handler.NewJobHandler(flowService, storageClient, validate)
	sunoHandler := handler.NewSunoHandler(sunoService, validate)

	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New()

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": time.Now().Unix()})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"llm":     false,
				"video":   false,
				"image":   false,
				"suno":    false,
				"storage": true,
			},
		})
	})

	api := app.Group("/api")

	// Use very high rate limits so tests don't get blocked
	api.Post("/jobs", rateLimiter.JobsLimit(10000), jobHandler.Create)
	api.Get("/jobs/:jobId", jobHandler.Get)
	api.Post("/jobs/:jobId/cancel", jobHandler.Cancel)
	api.Post("/jobs/:jobId/hitl", jobHandler.Resume)

	api.Post("/suno/generate", rateLimiter.SunoLimit(10000), sunoHandler.Generate)
	api.Get("/suno/tasks/:taskId", sunoHandler.GetTask)

	app.Post("/callbacks/suno/music", sunoHandler.Callback)

	return &testApp{app: app, store: jobStore}
}

// unconfiguredMusicClient rejects every submission, mirroring a deployment
// without a music API key.
type unconfiguredMusicClient struct{}

func (c *unconfiguredMusicClient) GenerateMusic(ctx context.Context, req client.GenerateMusicRequest) (*client.GenerateMusicResponse, error) {
	return nil, errUnconfigured
}

func (c *unconfiguredMusicClient) IsConfigured() bool { return false }

func (c *unconfiguredMusicClient) DefaultModel() string { return "V4_5ALL" }

var errUnconfigured = &unconfiguredError{}

type unconfiguredError struct{}

func (e *unconfiguredError) Error() string { return "music provider not configured" }

// requireRedis skips the test when the local Redis is not reachable.
func requireRedis(t *testing.T) {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string) (*http.Response, error) {
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

	return app.Test(req, -1)
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
