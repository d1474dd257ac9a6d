package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/jasondsmith72/CWM-MCP/internal/config"
	"github.com/jasondsmith72/CWM-MCP/internal/handlers"
	"github.com/jasondsmith72/CWM-MCP/internal/jobs"
	"github.com/jasondsmith72/CWM-MCP/internal/logging"
	"github.com/jasondsmith72/CWM-MCP/internal/middleware"
	"github.com/jasondsmith72/CWM-MCP/internal/pwsh"
	"github.com/jasondsmith72/CWM-MCP/internal/services"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting CWM-MCP Bridge...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Load configuration
	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, Shell: %s)", cfg.Port, cfg.ShellPath)

	if cfg.CWM.IsZero() {
		log.Println("⚠️  No ambient CWM_* credentials configured - connect requests must supply them or stage a bundle")
	}

	// Context registry - the in-memory session store
	registry := services.NewContextRegistry()

	// PowerShell executor with bounded concurrency and per-call timeout
	executor := pwsh.NewExecutor(cfg.ShellPath, cfg.MaxConcurrent, cfg.CommandTimeout)
	log.Printf("🐚 PowerShell executor ready (max %d concurrent, %s timeout)", cfg.MaxConcurrent, cfg.CommandTimeout)

	// ConnectWise Manage command service
	cwmService := services.NewCWMService(executor, cfg)

	// Watch the credential bundle for changes (hot-reload)
	go startBundleWatcher(cfg.CredentialBundlePath, cwmService)

	// Hourly context sweep
	sweeper, err := jobs.NewContextSweeper(registry, cfg.SweepInterval, cfg.IdleThreshold)
	if err != nil {
		log.Fatalf("❌ Failed to create context sweeper: %v", err)
	}
	if err := sweeper.Start(); err != nil {
		log.Fatalf("❌ Failed to start context sweeper: %v", err)
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "CWM-MCP Bridge v1.0",
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 120 * time.Second, // PowerShell cold starts are slow
		BodyLimit:    1 * 1024 * 1024,   // 1MB is plenty for command bodies
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("cwm_bridge")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	// CORS configuration with environment-based origins
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Global rate limiter - command routes spawn interpreter processes
	rateLimitConfig := middleware.LoadRateLimitConfig()
	app.Use("/context", middleware.GlobalRateLimiter(rateLimitConfig))
	log.Printf("🛡️  [RATE-LIMIT] Global limiter enabled (%d req/%s per IP)",
		rateLimitConfig.GlobalMax, rateLimitConfig.GlobalExpiration)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(registry)
	contextHandler := handlers.NewContextHandler(registry, cwmService)

	// Routes
	app.Get("/health", healthHandler.Handle)

	app.Post("/context", contextHandler.Create)
	app.Get("/context", contextHandler.List)
	app.Post("/context/:id/connect", contextHandler.Connect)
	app.Post("/context/:id/getSystemInfo", contextHandler.GetSystemInfo)
	app.Post("/context/:id/getCompanies", contextHandler.GetCompanies)
	app.Post("/context/:id/getTickets", contextHandler.GetTickets)
	app.Post("/context/:id/executeCommand", contextHandler.ExecuteCommand)
	app.Delete("/context/:id", contextHandler.Delete)

	log.Printf("🌐 Context API: http://localhost:%s/context", cfg.Port)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("🕐 Background jobs: context sweep (every %s, idle threshold %s)", cfg.SweepInterval, cfg.IdleThreshold)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		// Stop the sweep first so it cannot race the final requests
		if err := sweeper.Stop(); err != nil {
			log.Printf("⚠️ Error stopping context sweeper: %v", err)
		}

		// Shutdown Fiber
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// startBundleWatcher watches the credential bundle file for changes and
// reloads it into the CWM service
func startBundleWatcher(filePath string, cwmService *services.CWMService) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("⚠️  Failed to create file watcher: %v", err)
		return
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		log.Printf("⚠️  Failed to get absolute path for %s: %v", filePath, err)
		watcher.Close()
		return
	}

	// Watch the directory containing the file (more reliable than watching the file directly)
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)

	if err := watcher.Add(dir); err != nil {
		log.Printf("⚠️  Failed to watch directory %s: %v", dir, err)
		watcher.Close()
		return
	}

	log.Printf("👁️  Watching %s for changes (hot-reload enabled)", filePath)

	// Debounce timer to avoid multiple reloads for rapid file changes
	var debounceTimer *time.Timer
	debounceDuration := 500 * time.Millisecond

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != filename {
				continue
			}

			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}

				debounceTimer = time.AfterFunc(debounceDuration, func() {
					log.Printf("🔄 Detected changes in %s, reloading credential bundle...", filePath)

					if err := cwmService.ReloadBundle(); err != nil {
						log.Printf("❌ Failed to reload credential bundle: %v", err)
					} else {
						log.Printf("✅ Credential bundle reloaded from %s", filePath)
					}
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  File watcher error: %v", err)
		}
	}
}
