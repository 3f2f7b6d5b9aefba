package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/rukataka0505/ailuna-call-engine/internal/config"
	"github.com/rukataka0505/ailuna-call-engine/internal/httpserver"
	"github.com/rukataka0505/ailuna-call-engine/internal/migrations"
	"github.com/rukataka0505/ailuna-call-engine/internal/notify"
	"github.com/rukataka0505/ailuna-call-engine/internal/orchestrator"
	"github.com/rukataka0505/ailuna-call-engine/internal/reservation"
	reservationpg "github.com/rukataka0505/ailuna-call-engine/internal/reservation/postgres"
	"github.com/rukataka0505/ailuna-call-engine/internal/storage"
	"github.com/rukataka0505/ailuna-call-engine/internal/telemetry"
	"github.com/rukataka0505/ailuna-call-engine/internal/tenant"
	tenantpg "github.com/rukataka0505/ailuna-call-engine/internal/tenant/postgres"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	shutdownTelemetry := telemetry.Setup("ailuna-call-engine")
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			log.Printf("main: telemetry shutdown: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: connecting to database: %v", err)
	}
	defer pool.Close()

	migrationDB := stdlib.OpenDBFromPool(pool)
	if err := migrations.Up(migrationDB); err != nil {
		log.Fatalf("main: applying migrations: %v", err)
	}
	_ = migrationDB.Close()

	tenantStore := tenantpg.NewStore(pool)
	resStore := reservationpg.NewStore(pool)

	loader := tenant.New(tenantStore, tenantStore)
	notifier := notify.New(cfg.NotifyTarget)
	finalizer := reservation.New(resStore, notifier)
	registry := orchestrator.NewRegistry()

	var archiver storage.Archiver
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceRoleKey != "" {
		store, err := storage.New(storage.Config{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
			Bucket:         cfg.SupabaseBucket,
		})
		if err != nil {
			log.Printf("main: call artifact archiving disabled: %v", err)
		} else {
			archiver = store
		}
	} else {
		log.Println("main: SUPABASE_URL/SUPABASE_SERVICE_ROLE_KEY not set, call artifact archiving disabled")
	}

	srv := httpserver.New(httpserver.Deps{
		Cfg:       cfg,
		Loader:    loader,
		Finalizer: finalizer,
		ResStore:  resStore,
		Registry:  registry,
		Archiver:  archiver,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}

	log.Printf("active calls at shutdown: %d", registry.Len())
}
