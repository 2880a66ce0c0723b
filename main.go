package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"chat-realtime/internal/auth"
	"chat-realtime/internal/blob"
	"chat-realtime/internal/bus"
	"chat-realtime/internal/chat"
	"chat-realtime/internal/config"
	"chat-realtime/internal/db"
	"chat-realtime/internal/events"
	"chat-realtime/internal/handlers"
	"chat-realtime/internal/logging"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/notifications"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/rabbitmq"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
	"chat-realtime/internal/workerpool"
	"chat-realtime/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, !cfg.Production())
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, logger)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer shutdownTracer(context.Background())

	database, err := db.Connect(ctx, cfg.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRouting, cfg.ServiceName, cfg.Environment, logger)

	var producer events.Producer = events.NoopProducer{}
	if len(cfg.KafkaBrokers) > 0 {
		producer = events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, events.BreakerSettings{
			MaxFailures: cfg.BreakerMaxFailures,
			Timeout:     cfg.BreakerTimeout,
		}, logger)
	}
	defer producer.Close()

	relay := bus.NewRedisBus(ws.NewHub(), rdb, cfg.BusPrefix, cfg.NodeID, logger)
	go func() {
		if err := relay.Run(ctx); err != nil {
			logger.Error("bus relay stopped", zap.Error(err))
		}
	}()

	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	notificationRepo := repositories.NewNotificationRepo(database)

	notifier := notifications.NewService(notificationRepo, roomRepo, relay, logger)
	opts := []chat.Option{
		chat.WithPublisher(relay),
		chat.WithEvents(producer),
		chat.WithNotifier(notifier),
		chat.WithEditWindow(cfg.EditWindow),
	}
	if cfg.S3Bucket != "" {
		store, err := blob.NewS3Store(ctx, blob.S3Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Endpoint:  cfg.S3Endpoint,
			PublicURL: cfg.S3PublicURL,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return err
		}
		opts = append(opts, chat.WithStorage(store))
	} else {
		logger.Info("attachment uploads disabled", zap.String("reason", "empty S3_BUCKET"))
	}
	chatService := chat.NewService(roomRepo, messageRepo, logger, opts...)

	validator := auth.NewJWTValidator(cfg.JWTSecret, cfg.JWTIssuer)
	gateway := ws.NewGateway(validator, chatService, relay, presence.NewRedisStore(rdb, cfg.PresenceTTL), workerpool.New(cfg.WorkerPoolSize), ws.Options{
		PingInterval:    cfg.WSPingInterval,
		PongWait:        cfg.WSPongWait,
		WriteWait:       cfg.WSWriteWait,
		MaxMessageBytes: cfg.WSMaxMessageBytes,
		SendBuffer:      cfg.WSSendBuffer,
		RatePerSec:      cfg.WSRatePerSec,
		RateBurst:       cfg.WSRateBurst,
	}, logger)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.RequestIDMiddleware())
	router.Use(observability.HTTPMetricsMiddleware())

	roomHandler := handlers.NewRoomHandler(chatService, audit, logger)
	messageHandler := handlers.NewMessageHandler(chatService, audit, logger)
	notificationHandler := handlers.NewNotificationHandler(notifier, logger)
	chatWS := ws.NewChatWebSocketHandler(gateway, logger)
	notificationWS := ws.NewNotificationWebSocketHandler(gateway, logger)

	authMiddleware := middleware.AuthMiddleware(validator)

	router.POST("/rooms", authMiddleware, roomHandler.CreateRoom)
	router.POST("/rooms/:room_id/join", authMiddleware, roomHandler.JoinRoom)
	router.POST("/rooms/:room_id/leave", authMiddleware, roomHandler.LeaveRoom)
	router.GET("/rooms/:room_id/messages", authMiddleware, roomHandler.GetMessages)
	router.POST("/rooms/:room_id/attachments", authMiddleware, roomHandler.UploadAttachment)
	router.PATCH("/messages/:message_id", authMiddleware, messageHandler.EditMessage)
	router.DELETE("/messages/:message_id", authMiddleware, messageHandler.DeleteMessage)

	router.POST("/notifications/:id/read", authMiddleware, notificationHandler.MarkRead)
	router.POST("/notifications/:id/unread", authMiddleware, notificationHandler.MarkUnread)
	router.POST("/notifications/read", authMiddleware, notificationHandler.BulkMarkRead)
	router.POST("/notifications/read-all", authMiddleware, notificationHandler.MarkAllRead)
	router.GET("/notifications/unread-count", authMiddleware, notificationHandler.UnreadCount)

	router.GET("/ws/chat/:room_id/", chatWS.Handle)
	router.GET("/ws/notifications/", notificationWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	handlers.RegisterAuditRoutes(router, audit, cfg.Debug)

	healthServer := health.NewServer()
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server stopped", zap.Error(err))
		}
	}()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr), zap.String("node_id", cfg.NodeID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down")
	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	grpcServer.GracefulStop()
	return srv.Shutdown(shutdownCtx)
}
