package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mreyes/despacho/internal/backup"
	billingstripe "github.com/mreyes/despacho/internal/billing/stripe"
	"github.com/mreyes/despacho/internal/database"
	"github.com/mreyes/despacho/internal/email"
	"github.com/mreyes/despacho/internal/logging"
	"github.com/mreyes/despacho/internal/server"
)

func main() {
	logger := logging.Setup(os.Getenv("DESPACHO_LOG_LEVEL"), os.Getenv("DESPACHO_ENV"))

	port := os.Getenv("DESPACHO_PORT")
	if port == "" {
		port = "8090"
	}

	dbPath := os.Getenv("DESPACHO_DB_PATH")
	if dbPath == "" {
		dbPath = "despacho.db"
	}

	baseURL := os.Getenv("DESPACHO_BASE_URL")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%s", port)
	}

	pinSalt := os.Getenv("DESPACHO_PIN_SALT")
	if pinSalt == "" {
		slog.Error("DESPACHO_PIN_SALT must be set")
		os.Exit(1)
	}

	db, err := database.Open(dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	postmarkToken := os.Getenv("DESPACHO_POSTMARK_TOKEN")
	fromEmail := os.Getenv("DESPACHO_FROM_EMAIL")
	emailClient := email.NewClient(postmarkToken, fromEmail, baseURL)

	cfg := server.Config{
		Stripe: billingstripe.Config{
			SecretKey:  os.Getenv("STRIPE_SECRET_KEY"),
			PriceID:    os.Getenv("STRIPE_PRICE_ID"),
			SuccessURL: baseURL + "/account?session_id={CHECKOUT_SESSION_ID}",
			CancelURL:  baseURL + "/pricing",
		},
		AdminEmail:  os.Getenv("DESPACHO_SUPER_ADMIN_EMAIL"),
		PinSalt:     pinSalt,
		BaseURL:     baseURL,
		EmailClient: emailClient,
	}

	srv := server.New(db, cfg, logger)

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	backupMgr := backup.NewManager(backup.Config{
		Bucket:     os.Getenv("DESPACHO_BACKUP_BUCKET"),
		Region:     os.Getenv("DESPACHO_BACKUP_REGION"),
		Endpoint:   os.Getenv("DESPACHO_BACKUP_ENDPOINT"),
		AccessKey:  os.Getenv("DESPACHO_BACKUP_ACCESS_KEY"),
		SecretKey:  os.Getenv("DESPACHO_BACKUP_SECRET_KEY"),
		Passphrase: os.Getenv("DESPACHO_BACKUP_PASSPHRASE"),
	}, dbPath, logger.With("component", "backup"))

	// Background janitor: expired sessions, expired reset tokens, stale
	// rate-limit entries.
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.SessionStore().DeleteExpired(); err != nil {
					slog.Error("cleanup expired sessions", "error", err)
				} else if n > 0 {
					slog.Info("cleaned up expired sessions", "count", n)
				}
				if n, err := srv.PinLockStore().ClearExpiredResetTokens(); err != nil {
					slog.Error("cleanup expired reset tokens", "error", err)
				} else if n > 0 {
					slog.Info("cleared expired reset tokens", "count", n)
				}
				srv.RateLimiter().Cleanup()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	backupMgr.Start(cleanupCtx)

	go func() {
		slog.Info("despacho access service starting", "addr", ":"+port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
