// Command server runs the SPiTAK rewards HTTP API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	app "github.com/spitak/steps-rewards/internal/app"
	"github.com/spitak/steps-rewards/internal/app/httpapi"
	"github.com/spitak/steps-rewards/internal/app/metrics"
	"github.com/spitak/steps-rewards/internal/app/storage"
	"github.com/spitak/steps-rewards/internal/app/storage/postgres"
	"github.com/spitak/steps-rewards/internal/config"
	"github.com/spitak/steps-rewards/internal/middleware"
	"github.com/spitak/steps-rewards/internal/platform/migrations"
	"github.com/spitak/steps-rewards/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging).WithField("component", "server")

	store, cleanup, err := openStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer cleanup()

	application := app.New(store, log)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", httpapi.NewHandler(application))

	cors := middleware.NewCORS(cfg.CORS.AllowedOrigins)
	root := cors.Handler(metrics.InstrumentHandler(mux))

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      root,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("shutdown incomplete")
	}
}

// openStore connects to Postgres when a DSN is configured and applies pending
// migrations. Without a DSN the application falls back to the in-memory store,
// which is enough for local development.
func openStore(cfg *config.Config, log *logger.Logger) (storage.Store, func(), error) {
	if cfg.Database.DSN == "" {
		log.Warn("DATABASE_URL not set, using in-memory store")
		return nil, func() {}, nil
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, nil, err
	}

	return postgres.New(db), func() { db.Close() }, nil
}
