package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deepsearch-be/internal/bootstrap"
	"deepsearch-be/internal/config"
	"deepsearch-be/internal/pkg/logger"
	"deepsearch-be/internal/server"
	"deepsearch-be/internal/tracer"
	"deepsearch-be/pkg/database"

	"gorm.io/gorm"
)

// shutdownGrace bounds how long cancelled sessions get to synthesize.
const shutdownGrace = 2 * time.Minute

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	defer sysLogger.Sync()

	// 2. Initialize Tracer
	shutdownTracer := tracer.InitTracer(sysLogger)
	defer shutdownTracer(context.Background())

	// 3. Initialize Database (history is kept whenever a DSN is configured)
	var gormDB *gorm.DB
	if cfg.Database.Connection != "" {
		gormDB, err = database.NewGormDBFromDSN(cfg.Database.Connection, !cfg.IsProduction())
		if err != nil {
			log.Panicf("Unable to connect to GORM DB: %v", err)
		}
	}

	// 4. Bootstrap Dependencies (Container)
	container, err := bootstrap.NewContainer(gormDB, cfg, sysLogger)
	if err != nil {
		log.Fatalf("Bootstrap failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Start Background Services
	if err := container.Start(ctx); err != nil {
		log.Fatalf("Failed to start progress consumer: %v", err)
	}

	// 6. Initialize Server
	srv := server.New(cfg, container)

	go func() {
		if err := srv.Run(); err != nil {
			sysLogger.Error("Main", "Server stopped", map[string]interface{}{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	sysLogger.Info("Main", "Shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sysLogger.Error("Main", "Graceful shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}
