package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"callcore/internal/attachment"
	"callcore/internal/bus"
	"callcore/internal/call"
	"callcore/internal/config"
	"callcore/internal/database"
	"callcore/internal/domain"
	attachmentHandler "callcore/internal/handler/http/attachment"
	callHandler "callcore/internal/handler/http/call"
	messageHandler "callcore/internal/handler/http/message"
	presenceHandler "callcore/internal/handler/http/presence"
	typingHandler "callcore/internal/handler/http/typing"
	wsHandler "callcore/internal/handler/ws"
	"callcore/internal/identity"
	"callcore/internal/media"
	"callcore/internal/middleware"
	"callcore/internal/msgstore"
	"callcore/internal/notify"
	"callcore/internal/presence"
	"callcore/internal/repository/cockroach"
	redisRepo "callcore/internal/repository/redis"
	"callcore/internal/signaling"
	"callcore/internal/storage"
	"callcore/internal/typing"
	"callcore/pkg/constants"
	"callcore/pkg/jwt"
	"callcore/pkg/logger"
	"callcore/pkg/metrics"
)

func main() {
	cfg := config.Load()

	logger.InitDefault()
	defer logger.Sync()
	log := logger.Log

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics("call-agent")

	// 1. Identity: the agent runs on behalf of one authenticated user
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	jwtManager := jwt.NewManager(cfg.JWTSecret, 24*time.Hour)

	// 2. Redis: signaling bus plus the peer directory
	redisDB, err := database.NewRedisDB(&database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       0,
		PoolSize: 10,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}
	defer redisDB.Close()
	redisDB.StartHealthCheck(ctx, 10*time.Second)

	signalBus := bus.NewRedisBus(redisDB.Client)
	directory := redisRepo.NewDirectoryRepository(redisDB.Client)

	provider, err := identity.NewProvider(jwtManager, cfg.AccessToken, directory, logger.Component("identity"))
	if err != nil {
		log.Fatal("access token rejected", zap.Error(err))
	}
	selfID := provider.SelfID()
	log.Info("agent identity established", zap.String("user_id", selfID.String()))

	// 3. Durable message history in Cassandra; degrade to memory when absent
	var messages msgstore.MessageStore
	cassandra, err := database.NewCassandraDB(&database.CassandraConfig{
		Hosts:    config.SplitHosts(cfg.CassandraHosts),
		Keyspace: cfg.CassandraKeyspace,
	})
	if err != nil {
		log.Warn("cassandra unavailable, message history is in-memory only", zap.Error(err))
		messages = msgstore.NewMemoryStore()
	} else {
		defer cassandra.Close()
		messages = msgstore.NewCassandraStore(cassandra)
	}

	// 4. Call log in CockroachDB; optional
	var callRepo *cockroach.CallRepository
	connString := fmt.Sprintf("postgresql://%s@%s:%d/%s?sslmode=disable",
		cfg.CockroachUser, cfg.CockroachHost, cfg.CockroachPort, cfg.CockroachDB)
	db, err := database.NewDB(ctx, connString, database.DefaultDBConfig())
	if err != nil {
		log.Warn("cockroachdb unavailable, call log disabled", zap.Error(err))
	} else {
		defer db.Close()
		callRepo = cockroach.NewCallRepository(db.Pool)
	}

	// 5. Object store for attachments
	var store storage.ObjectStore
	minioStore, err := storage.NewMinioStore(ctx, storage.MinioConfig{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		UseSSL:    cfg.MinIOSecure,
	}, logger.Component("storage"))
	if err != nil {
		log.Warn("minio unavailable, uploads will fail until it returns", zap.Error(err))
		store = storage.NewMemoryStore()
	} else {
		store = minioStore
	}

	// 6. Event feed to the UI
	hub := wsHandler.NewEventHub(logger.Component("events"))
	go hub.Run()
	defer hub.Stop()

	notifier := notify.NewCoordinator(notify.NopRingtone{}, hub, logger.Component("notify"))

	// 7. Call session state machine over the pion transport
	// Synthetic capture stack; a platform backend plugs in behind the
	// same Devices interface.
	devices := &media.MockDevices{}
	callStore := call.NewStore(call.StoreConfig{
		SelfID:    selfID,
		Devices:   devices,
		Sender:    nil, // bound below once the adapter exists
		Transport: call.NewPionTransportFactory(cfg.IceServers),
		Notifier:  notifier,
		Records:   recorderOrNil(callRepo),
		Metrics:   m,
		Logger:    logger.Component("call"),
	})

	adapter := signaling.NewAdapter(signaling.AdapterConfig{
		SelfID:     selfID,
		Bus:        signalBus,
		Dispatcher: callStore,
		Resolve: func(peerID uuid.UUID) string {
			return provider.DisplayName(context.Background(), peerID)
		},
		Metrics:    m,
		Logger:     logger.Component("signaling"),
	})
	callStore.BindSender(adapter)
	if err := adapter.Start(ctx); err != nil {
		log.Fatal("signaling adapter failed to start", zap.Error(err))
	}
	defer adapter.Stop()

	// 8. Presence, driven offline-aware by the Redis health check
	tracker := presence.NewTracker(presence.TrackerConfig{
		SelfID:            selfID,
		Bus:               signalBus,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StaleTimeout:      cfg.PresenceTimeout,
		MaxPeers:          constants.MaxTrackedPeers,
		OnChange: func(userID uuid.UUID, status domain.PresenceStatus) {
			hub.Deliver(notify.Event{
				Type:      notify.EventPresenceChanged,
				Presence:  &notify.PresenceChange{UserID: userID, Status: status},
				Timestamp: time.Now().UTC(),
			})
		},
		Metrics: m,
		Logger:  logger.Component("presence"),
	})
	if err := tracker.Start(ctx); err != nil {
		log.Fatal("presence tracker failed to start", zap.Error(err))
	}
	defer tracker.Stop()

	redisDB.OnDegradedChange(func(degraded bool) {
		tracker.SetNetworkOnline(context.Background(), !degraded)
	})

	// 9. Typing indicators
	typingCoord := typing.NewCoordinator(typing.CoordinatorConfig{
		SelfID:   selfID,
		Bus:      signalBus,
		Debounce: cfg.TypingDebounce,
		Expiry:   cfg.TypingExpiry,
		OnChange: func(conversationID uuid.UUID, typists []domain.TypingEntry) {
			hub.Deliver(notify.Event{
				Type:      notify.EventTypingChanged,
				Typing:    &notify.TypingChange{ConversationID: conversationID, Typists: typists},
				Timestamp: time.Now().UTC(),
			})
		},
		Logger: logger.Component("typing"),
	})
	if err := typingCoord.Start(ctx); err != nil {
		log.Fatal("typing coordinator failed to start", zap.Error(err))
	}
	defer typingCoord.Stop()

	// 10. Message feed and attachment pipeline
	feed := msgstore.NewFeed(selfID, messages, signalBus, logger.Component("messages"))
	err = feed.Start(ctx, func(msg *domain.Message) {
		hub.Deliver(notify.Event{
			Type:      notify.EventMessageReceived,
			Message:   msg,
			Timestamp: time.Now().UTC(),
		})
	})
	if err != nil {
		log.Fatal("message feed failed to start", zap.Error(err))
	}
	defer feed.Stop()

	pipeline := attachment.NewPipeline(attachment.PipelineConfig{
		Store: store,
		OnUpdate: func(att domain.MediaAttachment) {
			hub.Deliver(notify.Event{
				Type:       notify.EventAttachmentUpdated,
				Attachment: &att,
				Timestamp:  time.Now().UTC(),
			})
		},
		Metrics: m,
		Logger:  logger.Component("attachments"),
	})
	recorder := attachment.NewRecorder(devices)

	// 11. HTTP control plane
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery(log))
	router.Use(middleware.RequestLogger(logger.Component("http")))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.NewPrometheusMiddleware(m).Handler())
	router.Use(middleware.HealthCheck("call-agent"))

	router.GET("/metrics", middleware.MetricsHandler())

	callH := callHandler.NewHandler(callStore, provider, callRepo)
	attachH := attachmentHandler.NewHandler(pipeline, recorder)
	presenceH := presenceHandler.NewHandler(tracker)
	typingH := typingHandler.NewHandler(typingCoord)
	messageH := messageHandler.NewHandler(feed, pipeline, typingCoord)

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	{
		v1.GET("/call", callH.Current)
		v1.POST("/call", callH.Start)
		v1.POST("/call/accept", callH.Accept)
		v1.POST("/call/reject", callH.Reject)
		v1.POST("/call/end", callH.End)
		v1.POST("/call/mute", callH.ToggleMute)
		v1.POST("/call/video", callH.ToggleVideo)
		v1.POST("/call/speaker", callH.ToggleSpeaker)
		v1.GET("/call/history", callH.History)

		v1.GET("/attachments", attachH.List)
		v1.POST("/attachments", attachH.Add)
		v1.DELETE("/attachments", attachH.Clear)
		v1.DELETE("/attachments/:id", attachH.Remove)
		v1.POST("/attachments/upload", attachH.UploadAll)
		v1.POST("/attachments/:id/upload", attachH.Upload)
		v1.POST("/attachments/:id/retry", attachH.Retry)
		v1.POST("/attachments/voice/start", attachH.StartRecording)
		v1.POST("/attachments/voice/chunk", attachH.AppendChunk)
		v1.POST("/attachments/voice/stop", attachH.StopRecording)
		v1.POST("/attachments/voice/cancel", attachH.CancelRecording)

		v1.GET("/presence", presenceH.Self)
		v1.PUT("/presence", presenceH.SetStatus)
		v1.GET("/presence/peers", presenceH.Peers)
		v1.GET("/presence/peers/:id", presenceH.Peer)

		v1.GET("/typing/:conversation_id", typingH.Typists)
		v1.POST("/typing/:conversation_id", typingH.Notify)
		v1.DELETE("/typing/:conversation_id", typingH.Stop)

		v1.POST("/messages", messageH.Send)
		v1.GET("/messages", messageH.Recent)

		v1.GET("/events", hub.Handler)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("call agent listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	// End any live call cleanly before the transports are torn down
	callStore.EndCall()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
}

func recorderOrNil(repo *cockroach.CallRepository) call.CallRecorder {
	if repo == nil {
		return nil
	}
	return repo
}
