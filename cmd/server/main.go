package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/safetymv/api/internal/client"
	"github.com/safetymv/api/internal/config"
	"github.com/safetymv/api/internal/handler"
	"github.com/safetymv/api/internal/middleware"
	"github.com/safetymv/api/internal/service"
	"github.com/safetymv/api/internal/worker"
	ws "github.com/safetymv/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize external clients
	llmClient := client.NewLLMClient(&cfg.LLM)
	videoClient := client.NewSoraClient(&cfg.Video)
	imageClient := client.NewImageClient(&cfg.Image)
	sunoClient := client.NewSunoClient(&cfg.Suno)

	// Initialize storage (falls back to in-memory when not configured)
	var storageClient client.StorageClient
	if cfg.Storage.AccessKeyID != "" && cfg.Storage.SecretAccessKey != "" {
		s3Client, err := client.NewS3Client(&cfg.Storage)
		if err != nil {
			log.Printf("Warning: storage client not initialized: %v", err)
		} else {
			storageClient = s3Client
		}
	}
	if storageClient == nil {
		log.Println("Info: object storage not configured, using in-memory mock storage")
		storageClient = client.NewMockStorageClient(cfg.Storage.Bucket)
	}

	// Initialize services
	jobStore := service.NewJobStore(redisClient)
	flowService := service.NewFlowService(jobStore, asynqClient, cfg.Flow.HITLMode)
	sunoService := service.NewSunoService(jobStore, redisClient, asynqClient, sunoClient, storageClient, cfg.Suno.CallbackURL)

	// Initialize handlers
	jobHandler := handler.NewJobHandler(flowService, storageClient, validate)
	sunoHandler := handler.NewSunoHandler(sunoService, validate)

	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024, // 10MB
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"llm":     llmClient.IsConfigured(),
				"video":   videoClient.IsConfigured(),
				"image":   imageClient.IsConfigured(),
				"suno":    sunoClient.IsConfigured(),
				"storage": storageClient != nil,
			},
		})
	})

	// API routes
	api := app.Group("/api")

	// Job routes
	api.Post("/jobs", rateLimiter.JobsLimit(cfg.RateLimit.JobsPerHour), jobHandler.Create)
	api.Get("/jobs/:jobId", jobHandler.Get)
	api.Post("/jobs/:jobId/cancel", jobHandler.Cancel)
	api.Post("/jobs/:jobId/hitl", jobHandler.Resume)

	// Music routes
	suno := api.Group("/suno")
	suno.Post("/generate", rateLimiter.SunoLimit(cfg.RateLimit.SunoPerHour), sunoHandler.Generate)
	suno.Get("/tasks/:taskId", sunoHandler.GetTask)

	// Provider webhooks
	app.Post("/callbacks/suno/music", sunoHandler.Callback)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, jobStore, asynqClient, llmClient, videoClient, imageClient, storageClient, sunoService, hub)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(
	cfg *config.Config,
	jobStore *service.JobStore,
	asynqClient *asynq.Client,
	llmClient *client.LLMClient,
	videoClient *client.SoraClient,
	imageClient *client.OpenAIImageClient,
	storageClient client.StorageClient,
	sunoService *service.SunoService,
	hub *ws.Hub,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				service.QueueFlow:  6,
				service.QueueMedia: 4,
			},
			LogLevel: asynqLogLevel,
		},
	)

	// Create workers with external clients
	flowWorker := worker.NewFlowWorker(jobStore, llmClient, imageClient, sunoService, asynqClient, hub)
	sceneWorker := worker.NewSceneWorker(jobStore, videoClient, storageClient, asynqClient, hub,
		time.Duration(cfg.Video.PollIntervalSeconds)*time.Second,
		time.Duration(cfg.Video.PollTimeoutSeconds)*time.Second,
	)
	assemblyWorker := worker.NewAssemblyWorker(jobStore, storageClient, hub)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeFlowRun, flowWorker.ProcessFlowTask)
	mux.HandleFunc(service.TaskTypeFlowResume, flowWorker.ProcessResumeTask)
	mux.HandleFunc(service.TaskTypeSceneRender, sceneWorker.ProcessSceneRenderTask)
	mux.HandleFunc(service.TaskTypeAssembly, assemblyWorker.ProcessAssemblyTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
