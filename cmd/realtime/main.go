package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/jinfei29/mychat-realtime/config"
	"github.com/jinfei29/mychat-realtime/internal/call"
	"github.com/jinfei29/mychat-realtime/internal/group"
	"github.com/jinfei29/mychat-realtime/internal/handlers"
	"github.com/jinfei29/mychat-realtime/internal/middleware"
	"github.com/jinfei29/mychat-realtime/internal/presence"
	"github.com/jinfei29/mychat-realtime/internal/relay"
	"github.com/jinfei29/mychat-realtime/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to Redis (call store and group directory)
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	log.Println("Redis connection established")

	var callStore store.CallStore
	switch cfg.CallStore {
	case "postgres":
		pg, err := store.NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to open postgres call store: %v", err)
		}
		callStore = pg
		log.Println("Using postgres call store")
	default:
		callStore = store.NewRedisStore(rdb)
	}

	groups := group.NewRedisDirectory(rdb)

	// The presence directory is the only shared mutable structure; it is
	// created here and handed to everything that delivers events.
	dir := presence.NewDirectory()
	rly := relay.New(dir)
	registry := call.NewRegistry(callStore, groups, rly, dir, cfg.RingTimeout)

	api := handlers.NewAPI(registry, groups)
	ws := handlers.NewWS(dir)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(middleware.OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		authed := apiGroup.Group("", middleware.JWTAuth(cfg.JWTSecret))
		{
			authed.POST("/calls/initiate", api.InitiateCall)
			authed.POST("/calls/signal", api.Signal)
			authed.GET("/calls/history", api.CallHistory)
			authed.POST("/calls/:callId/accept", api.AcceptCall)
			authed.POST("/calls/:callId/reject", api.RejectCall)
			authed.POST("/calls/:callId/end", api.EndCall)

			authed.POST("/groups", api.CreateGroup)
			authed.GET("/groups/:groupId", api.GetGroup)
		}
	}

	// Realtime endpoint; the token travels as a query parameter here
	router.GET("/ws", middleware.JWTAuth(cfg.JWTSecret), ws.HandleConnection)

	// Start server
	log.Printf("Starting realtime server on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
