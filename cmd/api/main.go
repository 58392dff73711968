package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gatehouse/api/internal/app"
	"gatehouse/api/internal/chat"
	"gatehouse/api/internal/config"
	"gatehouse/api/internal/directory"
	"gatehouse/api/internal/identity"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var store directory.Store
	switch {
	case strings.TrimSpace(cfg.RedisURL) != "":
		log.Printf("Using Redis for directory storage")
		redisStore, err := directory.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		store = redisStore
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		log.Printf("Using PostgreSQL for directory storage")
		pgStore, err := directory.OpenPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		store = pgStore
	default:
		log.Printf("Using in-memory directory storage")
		store = directory.NewMemoryStore()
	}
	defer store.Close()

	var (
		issuer     app.TokenIssuer
		dialChat   app.ChatDialer
		gatewayURL string
	)
	if strings.TrimSpace(cfg.ResourceConnectionString) != "" {
		cs, err := config.ParseConnectionString(cfg.ResourceConnectionString)
		if err != nil {
			log.Fatalf("invalid resource connection string: %v", err)
		}
		restIssuer, err := identity.NewRESTIssuer(cs.Endpoint, cs.AccessKey)
		if err != nil {
			log.Fatalf("identity client setup failed: %v", err)
		}
		factory := chat.NewRESTFactory(cs.Endpoint)
		issuer = restIssuer
		dialChat = func(token string) app.ChatClient { return factory.WithToken(token) }
		gatewayURL = cs.Endpoint
	} else {
		log.Printf("No resource connection string configured, running with local identity and chat backends")
		localIssuer, err := identity.NewLocalIssuer(cfg.DevTokenSecret, cfg.AccessTTL)
		if err != nil {
			log.Fatalf("local issuer setup failed: %v", err)
		}
		backend := chat.NewLocalBackend()
		issuer = localIssuer
		dialChat = func(token string) app.ChatClient { return backend.WithToken(token) }
		gatewayURL = "http://localhost" + cfg.Addr
	}

	service := app.New(cfg, store, issuer, dialChat, gatewayURL)
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Gatehouse API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
