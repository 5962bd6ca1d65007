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

	"github.com/wandertune/api/internal/client"
	"github.com/wandertune/api/internal/config"
	"github.com/wandertune/api/internal/handler"
	"github.com/wandertune/api/internal/middleware"
	"github.com/wandertune/api/internal/service"
	"github.com/wandertune/api/internal/store"
	"github.com/wandertune/api/internal/worker"
	ws "github.com/wandertune/api/internal/websocket"
)

// @title          WanderTune API
// @version        1.0
// @description    Backend API for WanderTune — turn travel photos into music.
// @host           localhost:8000
// @BasePath       /
// @schemes        http https
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
// @description    Enter your bearer token in the format **Bearer &lt;token&gt;**
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Open the task store
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open task store: %v", err)
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

	// Fail tasks stranded mid-pipeline by a previous crash or restart
	if n, err := st.FailStuck(ctx, cfg.Server.StuckTaskAge); err != nil {
		log.Printf("Warning: stuck task sweep failed: %v", err)
	} else if n > 0 {
		log.Printf("Marked %d stuck task(s) as failed", n)
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize external clients
	geminiClient := client.NewGeminiClient(&cfg.Gemini)
	sunoClient := client.NewSunoClient(&cfg.Suno)

	// Initialize services
	analysisService := service.NewAnalysisService(geminiClient)
	taskService := service.NewTaskService(st, asynqClient, cfg.Upload.Dir)

	// Initialize handlers
	taskHandler := handler.NewTaskHandler(taskService, validate)
	uploadHandler := handler.NewUploadHandler(cfg.Upload.Dir, cfg.Upload.MaxFileSize)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(cfg.Upload.MaxFileSize) * 4,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
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
				"store":  st.Ping(c.Context()) == nil,
				"redis":  redisClient.Ping(c.Context()).Err() == nil,
				"gemini": geminiClient.IsConfigured(),
				"suno":   sunoClient.IsConfigured(),
			},
		})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Identify())

	// Task routes
	tasks := api.Group("/tasks")
	tasks.Post("/", rateLimiter.TaskLimit(cfg.RateLimit.TasksPerHour), taskHandler.Create)
	tasks.Get("/", taskHandler.List)
	tasks.Get("/:id", taskHandler.Get)
	tasks.Delete("/:id", taskHandler.Delete)
	tasks.Post("/:id/callback", taskHandler.Callback)

	// Upload routes
	uploads := api.Group("/uploads", rateLimiter.UploadLimit(cfg.RateLimit.UploadsPerHour))
	uploads.Post("/images", uploadHandler.UploadImages)

	// Maintenance routes
	maintenance := api.Group("/maintenance")
	maintenance.Post("/cleanup-files", taskHandler.CleanupFiles)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/tasks/:id", websocket.New(func(c *websocket.Conn) {
		taskID := c.Params("id")
		hub.HandleConnection(c, taskID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, st, asynqClient, analysisService, sunoClient, hub)

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
	st store.TaskStore,
	asynqClient *asynq.Client,
	analysisService *service.AnalysisService,
	sunoClient *client.SunoClient,
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
				service.QueueGenerate: 6,
				service.QueuePoll:     4,
			},
			LogLevel: asynqLogLevel,
		},
	)

	generateWorker := worker.NewGenerateWorker(st, analysisService, sunoClient, asynqClient, hub, cfg.Suno.CallbackURL)
	pollWorker := worker.NewPollWorker(st, sunoClient, asynqClient, hub)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeGenerate, generateWorker.ProcessTask)
	mux.HandleFunc(service.TaskTypePoll, pollWorker.ProcessTask)

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
