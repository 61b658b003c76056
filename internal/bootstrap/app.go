// Package bootstrap is the composition root: it loads configuration, wires every
// repository/service/handler together, and owns the process's start/shutdown sequence.
// Grounded on the teacher's internal/bootstrap/app.go NewApp/Start/Shutdown shape.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"collabrun/internal/authedge"
	httphandler "collabrun/internal/handler/http"
	wshandler "collabrun/internal/handler/websocket"
	"collabrun/internal/hub"
	gormpersistence "collabrun/internal/infra/persistence/gorm"
	"collabrun/internal/infra/setup"
	redisstate "collabrun/internal/infra/state/redis"
	"collabrun/internal/middleware"
	"collabrun/internal/sandbox"
	"collabrun/internal/service"
	"collabrun/internal/telemetry"
	"collabrun/internal/worker"
)

// Config holds every value §6.4 lists as environment-sourced.
type Config struct {
	DatabaseURL       string
	RedisURL          string
	MaxExecutionMs    int
	MaxMemoryLimit    string
	MaxCPULimit       float64
	RateLimitMax      int
	RateLimitWindowMs int
	AppURL            string
	Port              string

	AppEnv      string
	LogLevel    string
	JWTSecret   string
	DockerImage string
}

// LoadConfig reads a .env file if present, then the environment, applying the defaults
// §6.4 names.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		AppURL:      os.Getenv("APP_URL"),
		Port:        os.Getenv("PORT"),
		AppEnv:      os.Getenv("APP_ENV"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		DockerImage: os.Getenv("SANDBOX_IMAGE"),
	}

	cfg.MaxExecutionMs = envInt("MAX_EXECUTION_TIME_MS", 30_000)
	cfg.RateLimitMax = envInt("RATE_LIMIT_MAX", 100)
	cfg.RateLimitWindowMs = envInt("RATE_LIMIT_WINDOW_MS", 1_000)

	cfg.MaxMemoryLimit = os.Getenv("MAX_MEMORY_LIMIT")
	if cfg.MaxMemoryLimit == "" {
		cfg.MaxMemoryLimit = "128m"
	}

	cpuStr := os.Getenv("MAX_CPU_LIMIT")
	if cpuStr == "" {
		cpuStr = "0.5"
	}
	cpu, err := strconv.ParseFloat(cpuStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_CPU_LIMIT %q: %w", cpuStr, err)
	}
	cfg.MaxCPULimit = cpu

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.DockerImage == "" {
		cfg.DockerImage = "collabrun-sandbox:latest"
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("environment variable DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("environment variable REDIS_URL must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Mode selects which parts of the process cmd/server's -mode flag brings up, so the
// Execution Dispatcher's worker loop can scale horizontally independent of the
// HTTP/WebSocket process.
type Mode string

const (
	// ModeAll runs the HTTP/WebSocket server and the worker pool in one process.
	ModeAll Mode = "all"
	// ModeHTTP runs only the HTTP/WebSocket server; jobs are enqueued but not executed.
	ModeHTTP Mode = "http"
	// ModeWorker runs only the sandbox reaper and worker pool; no HTTP listener.
	ModeWorker Mode = "worker"
)

// App holds every long-lived component the running process needs to start and
// gracefully shut down.
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client

	Hub        *hub.Hub
	JobService *service.JobService
	Worker     *worker.Server
	Pool       *sandbox.Pool
	HTTPServer *http.Server

	asynqQueue     *worker.AsynqQueue
	reaperStop     context.CancelFunc
	mode           Mode
	tracerShutdown func(context.Context) error
}

// NewApp builds the full dependency graph: config -> infra -> repositories ->
// services -> handlers -> router -> HTTP server.
func NewApp() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return nil, err
	}

	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)
	log.SetOutput(os.Stdout)
	log.Info("configuration loaded")

	tracerShutdown := telemetry.Init("collabrun")

	db, err := setup.InitDB(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	if err := db.AutoMigrate(&authedge.Credential{}); err != nil {
		return nil, fmt.Errorf("migrate edge credentials: %w", err)
	}

	redisClient, err := setup.InitRedis(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	redisOpt, err := asynqRedisOpt(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url for asynq: %w", err)
	}

	log.Info("initializing repositories")
	roomRepo := gormpersistence.NewGormRoomRepository(db)
	participantRepo := gormpersistence.NewGormParticipantRepository(db)
	jobRepo := gormpersistence.NewGormJobRepository(db)
	snapshotRepo := gormpersistence.NewGormSnapshotRepository(db)
	updateRepo := gormpersistence.NewGormUpdateRepository(db)
	credentialRepo := gormpersistence.NewGormCredentialRepository(db)
	stateRepo := redisstate.NewRedisStateRepository(redisClient, "collabrun:")

	log.Info("initializing services")
	roomService := service.NewRoomService(roomRepo, participantRepo)
	collabService := service.NewCollaborationService(roomRepo, snapshotRepo, updateRepo, stateRepo)
	presenceTracker := service.NewPresenceTracker()
	authEdge := authedge.NewService(credentialRepo, cfg.JWTSecret)

	asynqQueue := worker.NewAsynqQueue(redisOpt)
	jobConfig := service.DefaultJobServiceConfig()
	jobConfig.MaxWallTimeoutMs = cfg.MaxExecutionMs
	jobConfig.MaxMemoryLimit = cfg.MaxMemoryLimit
	jobConfig.MaxCPULimit = cfg.MaxCPULimit
	jobService := service.NewJobService(jobRepo, asynqQueue, jobConfig)

	log.Info("initializing sandbox runner and pool")
	runner := sandbox.NewRunner(sandbox.RunnerConfig{
		Image: cfg.DockerImage,
	})
	pool := sandbox.NewPool(runner, stateRepo, sandbox.PoolConfig{MaxConcurrent: 5})

	hubInstance := hub.NewHub()
	wsHandler := wshandler.NewHandler(hubInstance, roomService, collabService, presenceTracker)

	log.Info("initializing worker server")
	workerServer := worker.NewServer(redisOpt, jobRepo, pool, nil, roomService, presenceTracker, collabService, hubInstance, worker.ServerConfig{
		Concurrency:   10,
		RetentionDays: 7,
	})

	log.Info("initializing HTTP handlers")
	authHandler := httphandler.NewAuthHandler(authEdge)
	roomHandler := httphandler.NewRoomHandler(roomService)
	jobHandler := httphandler.NewJobHandler(jobService)
	healthHandler := httphandler.NewHealthHandler(db, jobService)

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))
	router.Use(middleware.Tracing())
	router.Use(corsMiddleware(cfg.AppURL))

	api := router.Group("/api")
	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
	}

	rooms := api.Group("/rooms")
	{
		rooms.POST("", middleware.RateLimit(stateRepo, "rooms:create", 5, 15*time.Minute), roomHandler.CreateRoom)
		rooms.POST("/join", middleware.RateLimit(stateRepo, "rooms:join", 20, time.Minute), roomHandler.JoinRoom)
		rooms.POST("/leave", roomHandler.LeaveRoom)
		rooms.GET("/:roomId", roomHandler.GetRoom)
		rooms.PUT("/:roomId", roomHandler.UpdateRoom)
		rooms.GET("/:roomId/participants", roomHandler.ListParticipants)
		rooms.PUT("/:roomId/cursor", roomHandler.UpdateCursor)
	}

	compile := api.Group("/compile")
	{
		compile.POST("", middleware.RateLimit(stateRepo, "compile:submit", cfg.RateLimitMax, time.Duration(cfg.RateLimitWindowMs)*time.Millisecond), jobHandler.SubmitJob)
		compile.GET("/:jobId", jobHandler.JobStatus)
		compile.DELETE("/:jobId", jobHandler.CancelJob)
	}

	health := api.Group("/health")
	{
		health.GET("/db", healthHandler.DBHealth)
		health.GET("/queue", healthHandler.QueueHealth)
	}

	api.GET("/socket/io", wsHandler.Serve)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	return &App{
		Config:         cfg,
		Log:            log,
		DB:             db,
		RedisClient:    redisClient,
		Hub:            hubInstance,
		JobService:     jobService,
		Worker:         workerServer,
		Pool:           pool,
		HTTPServer:     httpServer,
		asynqQueue:     asynqQueue,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Start launches the components mode selects (sandbox reaper and worker server for
// ModeAll/ModeWorker, the HTTP/WebSocket listener for ModeAll/ModeHTTP) and returns
// once they are all running; it does not block. An empty mode defaults to ModeAll.
func (a *App) Start(ctx context.Context, mode Mode) {
	if mode == "" {
		mode = ModeAll
	}
	a.mode = mode

	if mode == ModeAll || mode == ModeWorker {
		reaperCtx, cancel := context.WithCancel(ctx)
		a.reaperStop = cancel
		go a.Pool.RunReaper(reaperCtx)
		go a.Worker.Start()
	}

	if mode == ModeAll || mode == ModeHTTP {
		go func() {
			a.Log.Infof("http server listening on %s", a.HTTPServer.Addr)
			if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Log.WithError(err).Fatal("http server failed")
			}
		}()
	}
}

// Shutdown tears every component Start brought up down in reverse dependency order,
// bounded by ctx.
func (a *App) Shutdown(ctx context.Context) {
	a.Log.Info("shutting down")

	if a.mode == ModeAll || a.mode == ModeHTTP {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Log.WithError(err).Error("http server shutdown error")
		}
	}
	if a.mode == ModeAll || a.mode == ModeWorker {
		if a.reaperStop != nil {
			a.reaperStop()
		}
		a.Worker.Shutdown()
		a.Pool.Shutdown(ctx)
	}
	if err := a.asynqQueue.Close(); err != nil {
		a.Log.WithError(err).Error("asynq client close error")
	}
	if err := a.RedisClient.Close(); err != nil {
		a.Log.WithError(err).Error("redis close error")
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.Log.WithError(err).Error("tracer shutdown error")
		}
	}
	a.Log.Info("shutdown complete")
}

func requestLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
		})
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request failed")
		case c.Writer.Status() >= 400:
			entry.Warn("request rejected")
		default:
			entry.Info("request handled")
		}
	}
}

func corsMiddleware(allowedOrigin string) gin.HandlerFunc {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func asynqRedisOpt(redisURL string) (asynq.RedisClientOpt, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}, nil
}
