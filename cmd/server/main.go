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

	"github.com/onera/studio/internal/auth"
	"github.com/onera/studio/internal/client"
	"github.com/onera/studio/internal/config"
	"github.com/onera/studio/internal/handler"
	"github.com/onera/studio/internal/logging"
	"github.com/onera/studio/internal/middleware"
	"github.com/onera/studio/internal/model"
	"github.com/onera/studio/internal/service"
	ws "github.com/onera/studio/internal/websocket"
	"github.com/onera/studio/internal/worker"
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
	asynqClient := asynq.NewClient(redisOpt(cfg))
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize R2 client (optional - renders are kept on disk if not configured)
	var storage client.StorageClient
	if cfg.R2.Configured() {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		} else {
			storage = r2Client
		}
	} else {
		log.Printf("Info: R2 storage not configured, renders are kept under %s", cfg.Render.OutputDir)
	}

	// Initialize Zitadel JWKS verifier (optional - falls back to legacy JWT)
	var tokenVerifier auth.TokenVerifier
	if cfg.Zitadel.Issuer != "" {
		jwksVerifier, err := auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Printf("Warning: JWKS verifier not initialized: %v", err)
		} else {
			defer jwksVerifier.Close()
			tokenVerifier = jwksVerifier
		}
	}
	authenticator := auth.NewAuthenticator(tokenVerifier, cfg.JWT.Secret)

	// Initialize services
	canvas := model.Canvas{Width: cfg.Canvas.Width, Height: cfg.Canvas.Height, BgColor: cfg.Canvas.BgColor}
	renderService := service.NewRenderService(redisClient, asynqClient, canvas)
	assetService := service.NewAssetService(storage)

	// Initialize handlers
	renderHandler := handler.NewRenderHandler(renderService, validate)
	assetHandler := handler.NewAssetHandler(assetService, validate)
	authHandler := handler.NewAuthHandler(authenticator)

	// Initialize middleware
	if !cfg.Auth.Enabled {
		log.Println("Info: auth disabled, bearer tokens are checked only when present")
	}
	authMiddleware := middleware.NewAuthMiddleware(authenticator, cfg.Auth.Enabled)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024, // 10MB of timeline JSON
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
		AllowMethods: "GET,POST,OPTIONS",
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
				"redis":   redisClient.Ping(c.UserContext()).Err() == nil,
				"r2":      storage != nil,
				"auth":    tokenVerifier != nil || cfg.JWT.Secret != "",
				"ffmpeg":  cfg.Render.FFmpegBinary,
				"workers": cfg.Render.Concurrency,
			},
		})
	})

	// ForwardAuth verification endpoint (internal, called by Traefik)
	app.Get("/auth/verify", authHandler.Verify)

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())
	api.Post("/render", rateLimiter.RenderLimit(cfg.RateLimit.RenderPerHour), renderHandler.Submit)
	api.Get("/jobs/:id", renderHandler.Status)
	api.Post("/assets/sign", rateLimiter.SignLimit(cfg.RateLimit.SignPerHour), assetHandler.Sign)

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
	workerServer := newWorkerServer(cfg)
	startWorkerServer(workerServer, cfg, renderService, storage, hub)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		workerServer.Shutdown()
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

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func newWorkerServer(cfg *config.Config) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	return asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Concurrency: cfg.Render.Concurrency,
			Queues: map[string]int{
				service.QueueRender: 1,
			},
			LogLevel: asynqLogLevel,
		},
	)
}

func startWorkerServer(
	srv *asynq.Server,
	cfg *config.Config,
	renderService *service.RenderService,
	storage client.StorageClient,
	hub *ws.Hub,
) {
	renderWorker := worker.NewRenderWorker(renderService, storage, hub, worker.RenderOptions{
		FPS:           cfg.Render.FPS,
		SeekTimeout:   time.Duration(cfg.Render.SeekTimeout) * time.Second,
		Tolerance:     cfg.Render.PreviewTolerance,
		WorkDir:       cfg.Render.WorkDir,
		OutputDir:     cfg.Render.OutputDir,
		FFmpegBinary:  cfg.Render.FFmpegBinary,
		FFprobeBinary: cfg.Render.FFprobeBinary,
	}, worker.WithLogger(logging.New(os.Stderr, cfg.Server.LogLevel)))

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeRender, renderWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
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
