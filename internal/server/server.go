package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mreyes/despacho/internal/access"
	"github.com/mreyes/despacho/internal/billing"
	billingstripe "github.com/mreyes/despacho/internal/billing/stripe"
	"github.com/mreyes/despacho/internal/email"
	"github.com/mreyes/despacho/internal/handler"
	"github.com/mreyes/despacho/internal/middleware"
	"github.com/mreyes/despacho/internal/pin"
	"github.com/mreyes/despacho/internal/store"
)

type Config struct {
	Stripe      billingstripe.Config
	AdminEmail  string
	PinSalt     string
	BaseURL     string
	EmailClient *email.Client
}

type Server struct {
	db            *sql.DB
	accountStore  *store.AccountStore
	pinLockStore  *store.PinLockStore
	sessionStore  *store.SessionStore
	authH         *handler.AuthHandler
	pinH          *handler.PinHandler
	subscriptionH *handler.SubscriptionHandler
	adminH        *handler.AdminHandler
	rateLimiter   *middleware.RateLimiter
	logger        *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	accountStore := store.NewAccountStore(db)
	pinLockStore := store.NewPinLockStore(db)
	sessionStore := store.NewSessionStore(db)
	rateLimiter := middleware.NewRateLimiter()

	hasher := pin.NewHasher(cfg.PinSalt)
	gate := pin.NewGate(pinLockStore, hasher, rateLimiter)
	recovery := pin.NewRecovery(pinLockStore, hasher, cfg.EmailClient, logger.With("component", "pin-recovery"))

	var stripeClient *billingstripe.Client
	if cfg.Stripe.SecretKey != "" {
		stripeClient = billingstripe.NewClient(cfg.Stripe)
	}

	resolver := access.NewResolver(cfg.AdminEmail)

	var reconciler *billing.Reconciler
	var checkout handler.CheckoutProvider
	if stripeClient != nil {
		reconciler = billing.NewReconciler(stripeClient, accountStore, logger.With("component", "reconciler"))
		checkout = stripeClient
	}

	authH := handler.NewAuthHandler(accountStore, sessionStore, cfg.EmailClient, logger.With("component", "auth"))
	pinH := handler.NewPinHandler(gate, recovery, accountStore, logger.With("component", "pin"))
	subscriptionH := handler.NewSubscriptionHandler(accountStore, resolver, reconciler, checkout, cfg.AdminEmail, logger.With("component", "subscription"))
	adminH := handler.NewAdminHandler(accountStore, cfg.AdminEmail, logger.With("component", "admin"))

	return &Server{
		db:            db,
		accountStore:  accountStore,
		pinLockStore:  pinLockStore,
		sessionStore:  sessionStore,
		authH:         authH,
		pinH:          pinH,
		subscriptionH: subscriptionH,
		adminH:        adminH,
		rateLimiter:   rateLimiter,
		logger:        logger,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// PinLockStore returns the PIN lock store for cleanup tasks.
func (s *Server) PinLockStore() *store.PinLockStore {
	return s.pinLockStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthCheck)

	// Auth (public, rate-limited by IP)
	mux.HandleFunc("POST /auth/login", s.rateLimitedHandler(s.authH.Login))
	mux.HandleFunc("GET /auth/verify", s.authH.Verify)
	mux.HandleFunc("POST /auth/logout", s.authH.Logout)

	// PIN recovery by token (public)
	mux.HandleFunc("POST /finance-pin/reset/verify", s.rateLimitedHandler(s.pinH.VerifyResetToken))
	mux.HandleFunc("POST /finance-pin/reset/complete", s.rateLimitedHandler(s.pinH.CompleteReset))

	// Everything below requires a session.
	authMw := middleware.RequireAuth(s.sessionStore)

	mux.Handle("POST /finance-pin/verify", authMw(http.HandlerFunc(s.pinH.Verify)))
	mux.Handle("POST /finance-pin/settings", authMw(http.HandlerFunc(s.pinH.Settings)))
	mux.Handle("POST /finance-pin/reset/request", authMw(http.HandlerFunc(s.rateLimitedHandler(s.pinH.RequestReset))))

	mux.Handle("GET /subscription/status", authMw(http.HandlerFunc(s.subscriptionH.Status)))
	mux.Handle("POST /billing/reconcile", authMw(http.HandlerFunc(s.subscriptionH.Reconcile)))
	mux.Handle("POST /api/checkout", authMw(http.HandlerFunc(s.subscriptionH.CreateCheckout)))
	mux.Handle("POST /api/billing-portal", authMw(http.HandlerFunc(s.subscriptionH.BillingPortal)))

	mux.Handle("POST /admin/trial", authMw(http.HandlerFunc(s.adminH.Trial)))

	return middleware.RequestLogger(s.logger)(mux)
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
