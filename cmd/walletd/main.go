// Command walletd runs the wallet server: credential lifecycle plus the
// signing and encrypting storage proxy, over a configured backend store.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/statewire/statewire/internal/config"
	"github.com/statewire/statewire/internal/server/walletd"
	"github.com/statewire/statewire/internal/wallet"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}
	if cfg.Wallet.JWTSecret == "" {
		log.Fatal("WALLET_JWT_SECRET must be set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Wallet store ──────────────────────────────────────────────────────────
	// The wallet's own store is trusted and unvalidated; credentials live
	// under reserved vault:// programs no public surface exposes.
	store, err := config.OpenBackend(ctx, cfg.Wallet.StoreURL, log)
	if err != nil {
		log.Fatal("wallet store init failed", zap.Error(err))
	}
	defer store.Close()

	w, err := wallet.New(ctx, store, wallet.Config{
		JWTSecret:  []byte(cfg.Wallet.JWTSecret),
		SessionTTL: cfg.Wallet.SessionTTL(),
	}, nil, log)
	if err != nil {
		log.Fatal("wallet init failed", zap.Error(err))
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: walletd.New(w, log, walletd.Options{CORSOrigins: cfg.Server.CORSOrigin}).Router(),
	}

	go func() {
		log.Info("wallet server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("wallet server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("wallet server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}
