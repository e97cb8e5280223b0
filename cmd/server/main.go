package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/phishing-trainer/internal/api"
	"github.com/ignite/phishing-trainer/internal/campaign"
	"github.com/ignite/phishing-trainer/internal/config"
	"github.com/ignite/phishing-trainer/internal/mailer"
	"github.com/ignite/phishing-trainer/internal/report"
	"github.com/ignite/phishing-trainer/internal/template"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("database.url (or DATABASE_URL) is required")
	}

	ctx := context.Background()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.Ping(); err != nil {
		log.Fatalf("failed to reach database: %v", err)
	}

	store := campaign.NewStore(db, cfg.Database.CurrentPointer)
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("redis unavailable, stats cache disabled: %v", err)
			rdb = nil
		}
	}

	mail, err := mailer.New(ctx, cfg.Mailer)
	if err != nil {
		log.Fatalf("failed to build mailer: %v", err)
	}

	renderer := template.NewService(cfg.Tracking.TemplateDir)
	recorder := campaign.NewEventRecorder(store)
	engine := campaign.NewDispatchEngine(store, mail, renderer, cfg.Mailer.Subject, cfg.Tracking.DeliveryDir)
	exporter := report.NewExporter(store, cfg.Reports.OutputDir)
	stats := campaign.NewStatsService(store, rdb, cfg.Redis.TTL())

	server := api.NewServer(store, recorder, engine, exporter, stats, renderer, cfg.Tracking.BaseURL)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port),
		Handler:      server.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("phishing-trainer listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	db.Close()
	if rdb != nil {
		rdb.Close()
	}
}
