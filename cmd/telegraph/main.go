package main

import (
	"context"
	"strings"
	"time"

	"chatworks/internal/events"
	"chatworks/internal/handlers"
	"chatworks/internal/metrics"
	"chatworks/internal/presence"
	"chatworks/internal/store"
	"chatworks/internal/verify"
	"chatworks/internal/websocket"
	"chatworks/pkg/auth"
	"chatworks/pkg/config"
	"chatworks/pkg/database"
	"chatworks/pkg/kafka"
	"chatworks/pkg/logging"
	"chatworks/pkg/monitoring"
	"chatworks/pkg/redis"
	"chatworks/pkg/server"
	"chatworks/pkg/version"

	goredis "github.com/redis/go-redis/v9"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("telegraph")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Telegraph (Chat Delivery Hub)")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("telegraph", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("telegraph", version.Version, version.GitCommit)

	// Create custom metrics
	serviceMetrics := &metrics.Metrics{
		HubConnections:     metricsCollector.NewGauge("websocket_hub_connections_active", "Active WebSocket sessions", nil),
		HubMessages:        metricsCollector.NewCounter("websocket_hub_messages_total", "WebSocket hub messages", []string{"type", "direction"}),
		HubEvictions:       metricsCollector.NewCounter("websocket_hub_evictions_total", "WebSocket session evictions", []string{"reason"}),
		MessageDeliveryLag: metricsCollector.NewHistogram("message_delivery_lag_seconds", "Message delivery latency", []string{"type"}, nil),
		EventsPublished:    metricsCollector.NewCounter("chat_events_published_total", "Chat events published", []string{"event_type"}),
	}
	serviceMetrics.DBQueries, serviceMetrics.DBDuration, serviceMetrics.DBConnections = metricsCollector.CreateDatabaseMetrics()
	serviceMetrics.KafkaMessages, serviceMetrics.KafkaDuration, serviceMetrics.KafkaLag = metricsCollector.CreateKafkaMetrics()

	// Connect to Postgres and apply the schema
	dbConfig := database.DefaultConfig()
	dbConfig.URL = config.RequireEnv("DATABASE_URL")
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	st := store.NewStore(db)
	st.SetMetrics(serviceMetrics)
	if err := st.EnsureSchema(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to apply database schema")
	}

	jwtSecret := []byte(config.RequireEnv("JWT_SECRET"))

	// Optional Redis: login codes survive restarts and presence is visible to
	// other instances
	var redisClient goredis.UniversalClient
	redisAddr := config.GetEnv("REDIS_ADDR", "")
	if redisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := redis.NewUniversalClient(ctx, redis.Config{
			Mode:     redis.ModeSingle,
			Addrs:    []string{redisAddr},
			Password: config.GetEnv("REDIS_PASSWORD", ""),
		})
		cancel()
		if err != nil {
			logger.WithError(err).Warn("Failed to connect to Redis; using in-memory login codes")
		} else {
			redisClient = client
			healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
		}
	}

	var codeStore verify.CodeStore = verify.NewMemoryCodeStore()
	if redisClient != nil {
		codeStore = verify.NewRedisCodeStore(redisClient)
	}

	// Optional Kafka: chat activity firehose for downstream consumers
	publisher := events.NewPublisher(nil, logger, serviceMetrics)
	kafkaBrokers := config.GetEnv("KAFKA_BROKERS", "")
	if kafkaBrokers != "" {
		brokers := strings.Split(kafkaBrokers, ",")
		clientID := config.GetEnv("KAFKA_CLIENT_ID", "telegraph")
		producer, err := kafka.NewKafkaProducer(brokers, clientID, logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to initialize Kafka producer; event publishing disabled")
		} else {
			defer producer.Close()
			publisher = events.NewPublisher(producer, logger, serviceMetrics)
			healthChecker.AddCheck("kafka", monitoring.KafkaProducerHealthCheck(producer.GetClient()))
		}
	}

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": config.GetEnv("DATABASE_URL", ""),
		"JWT_SECRET":   config.GetEnv("JWT_SECRET", ""),
	}))

	// Initialize WebSocket hub with unified metrics
	tracker := presence.NewTracker(st, redisClient, logger)
	hub := websocket.NewHub(st, tracker, publisher, logger, serviceMetrics)
	hub.SetReplayLimit(config.GetEnvInt("CHAT_REPLAY_LIMIT", 50))
	hub.SetTypingTimeout(config.GetEnvDuration("TYPING_TIMEOUT", 3*time.Second))
	go hub.Run()

	// Initialize handlers
	handlers.Init(st, hub, publisher, codeStore, jwtSecret, logger)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "telegraph", healthChecker, metricsCollector)

	// Public routes
	public := router.Group("/api/v1")
	{
		public.POST("/auth/register", handlers.Register)
		public.POST("/auth/login", handlers.Login)
		public.POST("/auth/code", handlers.RequestCode)
		public.POST("/auth/verify-code", handlers.VerifyCode)
	}

	// Protected routes with JWT auth
	protected := router.Group("/api/v1")
	protected.Use(auth.JWTAuthMiddleware(jwtSecret))
	{
		protected.GET("/ws", handlers.HandleWebSocket)
		protected.GET("/auth/me", handlers.GetMe)
		protected.PUT("/auth/me", handlers.UpdateMe)
		protected.GET("/users", handlers.SearchUsers)
		protected.GET("/users/:id", handlers.GetUser)
		protected.POST("/chats", handlers.CreateChat)
		protected.GET("/chats", handlers.GetChats)
		protected.GET("/chats/:id", handlers.GetChat)
		protected.PUT("/chats/:id", handlers.UpdateChat)
		protected.DELETE("/chats/:id", handlers.DeleteChat)
		protected.GET("/chats/:id/members", handlers.GetMembers)
		protected.POST("/chats/:id/members", handlers.AddMember)
		protected.DELETE("/chats/:id/members/:userId", handlers.RemoveMember)
		protected.POST("/chats/:id/leave", handlers.LeaveChat)
		protected.GET("/chats/:id/messages", handlers.GetMessages)
		protected.POST("/chats/:id/messages", handlers.SendMessage)
		protected.POST("/chats/:id/read", handlers.MarkChatRead)
		protected.PUT("/messages/:id", handlers.EditMessage)
		protected.DELETE("/messages/:id", handlers.DeleteMessage)
	}
	router.NoRoute(handlers.HandleNotFound)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("telegraph", "18040")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}

	// HTTP listener is down; close out live WebSocket sessions.
	hub.Shutdown()
}
