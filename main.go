package main

import (
	"log"
	"os"
	"time"

	"minichat/internal/api"
	"minichat/internal/auth"
	"minichat/internal/config"
	"minichat/internal/hub"
	"minichat/internal/redis"
	"minichat/internal/service/chat"
	"minichat/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("MINICHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("MINICHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	// Sessions fall back to database-only validation when redis is down.
	rdb, err := redis.NewClient(cfg)
	if err != nil {
		log.Printf("redis unavailable, session cache disabled: %v", err)
		rdb = nil
	} else {
		defer rdb.Close()
	}

	chatService := chat.NewService(db)
	sessionTTL := time.Duration(cfg.BasicConfig.SessionTTL) * time.Hour
	authService := auth.NewService(db, rdb, sessionTTL)
	provider := auth.NewGitHubProvider(cfg.GitHub)

	chatHub := hub.NewHub(chatService)
	go chatHub.Run()
	defer func() {
		if err := chatHub.Shutdown(5 * time.Second); err != nil {
			log.Printf("hub shutdown: %v", err)
		}
	}()

	staticDir := cfg.BasicConfig.StaticDir
	if staticDir == "" {
		staticDir = "./web"
	}
	handlers := api.NewHandler(chatService, authService, provider, chatHub, staticDir)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":3000"
	}
	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
