package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/config"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/dbhelper"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/logger"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/mailer"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/middlewares"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/payments"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/routes"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/utils"
)

const (
	shutdownTimeout     = 15 * time.Second
	revokedPurgeEvery   = time.Hour
	serverReadTimeout   = 10 * time.Second
	serverWriteTimeout  = 30 * time.Second
	serverHeaderTimeout = 5 * time.Second
)

func main() {
	// Setting up environment variables
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatal(err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	// Setting up logs
	zlog, err := logger.New(cfg.App.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.AppConfig, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Setting up database
	db, err := dbhelper.OpenDB(cfg.Database)
	if err != nil {
		return err
	}
	if err := dbhelper.InitDB(db); err != nil {
		return err
	}
	store := dbhelper.New(db)

	webhookMetrics, err := payments.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	httpMetrics, err := middlewares.NewHTTPMetrics(middlewares.HTTPMetricsOptions{})
	if err != nil {
		return err
	}

	server := routes.NewServer(routes.Deps{
		Config:     cfg,
		Store:      store,
		Signer:     utils.NewTokenSigner(cfg.Auth.SessionSecret, cfg.App.Name, cfg.Auth.TokenTTL),
		Mailer:     mailer.New(cfg.Mail, zlog),
		Verifier:   payments.NewVerifier(cfg.Payments),
		Reconciler: payments.NewReconciler(store, zlog, webhookMetrics),
		Limiter:    middlewares.NewRateLimiter(cfg.RateLimit, zlog),
		Logger:     zlog,
	})

	realIP, err := middlewares.RealIP(cfg.App.TrustedProxies)
	if err != nil {
		return err
	}

	// Opening the webserver
	r := mux.NewRouter()
	r.Use(realIP, middlewares.RequestID(zlog), middlewares.AccessLog(zlog), httpMetrics.Middleware)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	routes.CreateRoutes(r, server)

	go purgeRevokedTokens(ctx, store, zlog)

	srv := &http.Server{
		Addr:              cfg.App.Addr(),
		Handler:           r,
		ReadTimeout:       serverReadTimeout,
		ReadHeaderTimeout: serverHeaderTimeout,
		WriteTimeout:      serverWriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		zlog.Info("http server listening", zap.String("addr", srv.Addr), zap.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zlog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	return nil
}

func purgeRevokedTokens(ctx context.Context, store *dbhelper.Store, zlog *zap.Logger) {
	ticker := time.NewTicker(revokedPurgeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeRevokedTokens(ctx)
			if err != nil {
				zlog.Warn("purge revoked tokens", zap.Error(err))
				continue
			}
			if n > 0 {
				zlog.Info("purged expired revoked tokens", zap.Int64("count", n))
			}
		}
	}
}
