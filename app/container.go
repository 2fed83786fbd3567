package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"securechat/app/config"
	"securechat/internal/adapters"
	"securechat/internal/codec"
	"securechat/internal/handlers"
	"securechat/internal/repositories"
	"securechat/internal/services"
	websocket "securechat/internal/websocet"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.opentelemetry.io/otel/trace"
)

type Container struct {
	isShuttingDown bool

	GinEngine   *gin.Engine
	Config      *config.Config
	Redis       *redis.Client
	RateLimiter *RateLimiter

	Metrics        *Metrics
	Logger         *slog.Logger
	TracerProvider *tracesdk.TracerProvider
	Tracer         trace.Tracer

	Server *http.Server

	Repository *repositories.RepositoryAdapter
	Codec      *codec.Codec

	AuthService    *services.AuthService
	GroupService   *services.GroupService
	MessageService *services.MessageService
	SuggestService *services.SuggestService

	AuthHandler      *handlers.AuthHandler
	GroupHandler     *handlers.GroupHandler
	MessageHandler   *handlers.MessageHandler
	WebSocketHandler *handlers.WebsocketHandler

	WsHub *websocket.Hub
}

func NewContainer() (*Container, error) {
	container := &Container{}

	if err := container.initCore(); err != nil {
		return nil, err
	}

	if err := container.initProductionFeatures(); err != nil {
		return nil, err
	}

	return container, nil
}

func (c *Container) initCore() error {
	var cfg, err = config.LoadConfig()
	if err != nil {
		return err
	}
	c.Config = &cfg

	c.Logger = c.initLogger()
	c.Redis = c.initRedis()

	if err = c.initTracing(); err != nil {
		return err
	}

	c.Codec, err = codec.New(cfg.Encryption.Key)
	if err != nil {
		c.Logger.Error("invalid encryption key", "error", err.Error())
		return err
	}

	c.Repository, err = repositories.NewRepositoryAdapter(cfg.Database, cfg.DatabaseConnections, c.Logger)
	if err != nil {
		c.Logger.Error("repository initialize error", "error", err.Error())
		return err
	}

	c.MessageService = services.NewMessageService(c.Repository.Group, c.Repository.Message, c.Codec, c.Logger)
	c.GroupService = services.NewGroupService(c.Repository.Group, c.Repository.Message, c.Logger)

	var provider services.SuggestionProvider
	if cfg.Suggest.URL != "" {
		provider = services.NewHTTPSuggestionProvider(cfg.Suggest.URL, cfg.Suggest.Timeout)
	}
	c.SuggestService = services.NewSuggestService(c.Repository.Message, c.Codec, provider, c.Logger)

	c.WsHub = websocket.NewHub(c.MessageService, c.Logger)
	go c.WsHub.Run()

	c.RateLimiter = NewRateLimiter(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)

	c.AuthService = services.NewAuthService(c.Repository.User, &services.BcryptHasher{}, adapters.NewRedisTokenRepository(c.Redis), []byte(cfg.JWT.SecretKey), c.Logger)

	c.AuthHandler = handlers.NewAuthHandler(c.AuthService, c.Logger)
	c.GroupHandler = handlers.NewGroupHandler(c.GroupService, c.Logger)
	c.MessageHandler = handlers.NewMessageHandler(c.MessageService, c.SuggestService, c.Logger, c.Tracer)
	c.WebSocketHandler = handlers.NewWebSocketHandler(c.WsHub, c.AuthService, c.Logger)

	c.Server = c.initServer()
	c.GinEngine = c.initGinEngine()
	c.Server.Handler = c.GinEngine

	return nil
}

func (c *Container) initProductionFeatures() error {
	c.initMetrics()
	c.WsHub.ActiveSessions = c.Metrics.ActiveWebSockets

	c.initHealthRoutes(c.GinEngine)

	c.GinEngine.Use(MetricsMiddleware(c.Metrics))
	c.GinEngine.Use(services.SecurityMiddleware())
	c.GinEngine.Use(services.RequestIDMiddleware())

	return nil
}

func (c *Container) initMetrics() {
	c.Metrics = &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "http_request_duration_seconds",
				Help: "HTTP request duration",
			},
			[]string{"method", "endpoint"},
		),
		ActiveWebSockets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "websocket_active_sessions",
				Help: "Currently connected websocket sessions",
			},
		),
	}
	prometheus.MustRegister(c.Metrics.RequestsTotal, c.Metrics.RequestDuration, c.Metrics.ActiveWebSockets)
}

func (c *Container) initTracing() error {
	if !c.Config.Tracing.Enabled {
		// Global provider is a no-op until someone installs a real one.
		c.Tracer = otel.Tracer("securechat-app")
		c.Logger.Info("tracing disabled")
		return nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(c.Config.Tracing.JaegerURL)))
	if err != nil {
		return err
	}

	c.TracerProvider = tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(c.Config.Tracing.ServiceName),
			attribute.String("environment", c.Config.Environment.Current),
		)),
	)

	otel.SetTracerProvider(c.TracerProvider)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	c.Tracer = c.TracerProvider.Tracer("securechat-app")

	c.Logger.Info("tracing initialized", "endpoint", c.Config.Tracing.JaegerURL)
	return nil
}

func (c *Container) initHealthRoutes(eng *gin.Engine) {
	eng.GET("/health", func(ctx *gin.Context) {
		health := map[string]string{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}

		if err := c.Repository.HealthCheck(ctx); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			ctx.JSON(503, health)
			return
		}

		if err := c.Redis.Ping().Err(); err != nil {
			health["redis"] = "unhealthy"
			health["status"] = "degraded"
			ctx.JSON(503, health)
			return
		}

		health["database"] = "healthy"
		health["redis"] = "healthy"
		ctx.JSON(200, health)
	})

	eng.GET("/ready", func(ctx *gin.Context) {
		if c.isShuttingDown {
			ctx.JSON(503, gin.H{"status": "shutting down"})
			return
		}
		ctx.JSON(200, gin.H{"status": "ready"})
	})

	eng.GET("/live", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "live"})
	})

	eng.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (c *Container) initGinEngine() *gin.Engine {
	var eng = gin.Default()

	eng.Use(otelgin.Middleware(c.Config.Tracing.ServiceName))
	eng.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	api := eng.Group("/api")

	api.Use(RateLimitMiddleware(c.RateLimiter))
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", c.AuthHandler.Register)
			authGroup.POST("/login", c.AuthHandler.Login)
			authGroup.POST("/logout", c.AuthHandler.AuthMiddleware(), c.AuthHandler.Logout)
		}

		groupsGroup := api.Group("/groups")
		groupsGroup.Use(c.AuthHandler.AuthMiddleware())
		{
			groupsGroup.POST("", c.GroupHandler.CreateGroup)
			groupsGroup.GET("", c.GroupHandler.GetUserGroups)
			groupsGroup.POST("/:id/join", c.GroupHandler.JoinGroup)
			groupsGroup.POST("/:id/leave", c.GroupHandler.LeaveGroup)
			groupsGroup.POST("/:id/transfer", c.GroupHandler.TransferOwnership)
			groupsGroup.DELETE("/:id", c.GroupHandler.DeleteGroup)
		}

		messagesGroup := api.Group("/messages")
		messagesGroup.Use(c.AuthHandler.AuthMiddleware())
		{
			messagesGroup.POST("", c.MessageHandler.SendMessage)
			messagesGroup.GET("/group/:id", c.MessageHandler.GetGroupMessages)
			messagesGroup.POST("/:id/read", c.MessageHandler.MarkRead)
			messagesGroup.GET("/:id/suggestions", c.MessageHandler.GetSuggestions)
		}

		api.GET("/ws", c.WebSocketHandler.HandleWebSocket)
	}

	return eng
}

func (c *Container) initLogger() *slog.Logger {
	var logger *slog.Logger
	if c.Config.Environment.Current == "development" {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	slog.SetDefault(logger)
	return logger
}

func (c *Container) initRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Addr,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
}

func (c *Container) initServer() *http.Server {
	return &http.Server{
		Addr:         ":" + c.Config.Server.Port,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (c *Container) Close() error {
	c.isShuttingDown = true

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Error("failed to close redis client", "error", err)
		}
	}

	if c.Repository != nil {
		if err := c.Repository.Close(c.Logger); err != nil {
			return err
		}
	}

	if c.TracerProvider != nil {
		if err := c.TracerProvider.Shutdown(context.Background()); err != nil {
			c.Logger.Error("failed to shutdown tracer provider", "error", err)
		}
	}

	return nil
}
