// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/helanet/helanet/internal/clients"
	"github.com/helanet/helanet/internal/config"
	"github.com/helanet/helanet/internal/health"
	"github.com/helanet/helanet/internal/logging"
	"github.com/helanet/helanet/internal/metrics"
	"github.com/helanet/helanet/internal/mpesa"
	"github.com/helanet/helanet/internal/notify"
	"github.com/helanet/helanet/internal/payments"
	"github.com/helanet/helanet/internal/provisioning"
	"github.com/helanet/helanet/internal/ratelimit"
	"github.com/helanet/helanet/internal/realtime"
	"github.com/helanet/helanet/internal/renewal"
	"github.com/helanet/helanet/internal/security"
	"github.com/helanet/helanet/internal/traces"
	"github.com/helanet/helanet/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	clientStore  clients.Store
	paymentStore payments.Store
	provStore    provisioning.Store

	gateway        payments.Gateway
	notifier       notify.Sender
	paymentService *payments.Service
	monitor        *payments.Monitor
	reconciler     *payments.Reconciler
	provService    *provisioning.Service
	renewalProc    *renewal.Processor
	renewalTimer   *renewal.Timer
	realtimeHub    *realtime.Hub
	rateLimiter    *ratelimit.Limiter
	healthReg      *health.Registry

	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run
	tracesShutdown func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGateway sets a custom payment gateway (for testing)
func WithGateway(g payments.Gateway) Option {
	return func(s *Server) {
		s.gateway = g
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set gateway/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.clientStore = clients.NewPostgresStore(db)
		s.paymentStore = payments.NewPostgresStore(db)
		s.provStore = provisioning.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.clientStore = clients.NewMemoryStore()
		s.paymentStore = payments.NewMemoryStore()
		s.provStore = provisioning.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Distributed tracing (no-op without an OTLP endpoint)
	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesShutdown = shutdown
	}

	// Payment gateway: real client when credentials are configured,
	// simulator otherwise (development mode)
	if s.gateway == nil {
		if cfg.MpesaConsumerKey != "" {
			s.gateway = mpesa.New(mpesa.Config{
				BaseURL:        cfg.MpesaBaseURL,
				ConsumerKey:    cfg.MpesaConsumerKey,
				ConsumerSecret: cfg.MpesaConsumerSecret,
				ShortCode:      cfg.MpesaShortCode,
				Passkey:        cfg.MpesaPasskey,
				CallbackURL:    cfg.MpesaCallbackURL,
			})
			s.logger.Info("mobile money gateway enabled", "base_url", cfg.MpesaBaseURL)
		} else {
			s.gateway = mpesa.NewSimulator(s.logger)
			s.logger.Info("mobile money gateway simulated (no credentials configured)")
		}
	}

	// Notifications: SMS gateway when configured, log-only otherwise
	if cfg.NotifyURL != "" {
		sender, err := notify.NewHTTPSender(cfg.NotifyURL, cfg.NotifyAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create notification sender: %w", err)
		}
		s.notifier = sender
		s.logger.Info("notifications enabled", "url", cfg.NotifyURL)
	} else {
		s.notifier = notify.NewLogSender(s.logger)
		s.logger.Info("notifications log-only (no gateway configured)")
	}

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)

	// Provisioning: pushes credential changes to the access server
	pusher := provisioning.NewHTTPPusher(cfg.AccessServerURL, cfg.AccessServerSecret)
	s.provService = provisioning.NewService(s.provStore, s.clientStore, pusher, s.logger).
		WithEvents(s.realtimeHub)
	s.logger.Info("provisioning enabled", "access_server", cfg.AccessServerURL)

	// Payments: wallet credit, renewal-from-wallet, receipts
	s.paymentService = payments.NewService(s.paymentStore, s.clientStore, s.provService, s.notifier, s.logger)
	s.monitor = payments.NewMonitor(s.gateway, s.paymentStore, s.logger)
	s.reconciler = payments.NewReconciler(s.paymentStore, s.paymentService, s.logger)

	// Renewal batch (hourly)
	s.renewalProc = renewal.NewProcessor(s.clientStore, s.provService, s.notifier, s.logger)
	s.renewalTimer = renewal.NewTimer(s.renewalProc, s.logger)

	// Subsystem health checks
	s.healthReg = health.NewRegistry()
	if s.db != nil {
		db := s.db
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	s.healthReg.Register("realtime", func(ctx context.Context) health.Status {
		return health.Status{
			Name:    "realtime",
			Healthy: true,
			Detail:  fmt.Sprintf("%d connected", s.realtimeHub.ClientCount()),
		}
	})

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (back-office dashboards only - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limitCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limitCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(limitCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time streaming to ops dashboards
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	// Client lifecycle (registration handled here, access operations by
	// the provisioning handler)
	v1.POST("/clients", s.createClient)
	v1.GET("/clients/:id", s.getClient)
	v1.POST("/packages", s.createPackage)

	// Payments: charges, gateway webhook, unmatched reconciliation
	paymentHandler := payments.NewHandler(s.gateway, s.paymentStore, s.clientStore,
		s.paymentService, s.monitor, s.reconciler).
		WithEvents(s.realtimeHub)
	paymentHandler.RegisterRoutes(v1)

	// Provisioning: connect/disconnect/qos, sync callbacks, audit, routers
	provHandler := provisioning.NewHandler(s.provService, s.provStore)
	provHandler.RegisterRoutes(v1)

	// Renewal batch trigger (for external schedulers; the hourly timer
	// covers normal operation)
	v1.POST("/renewals/run", s.runRenewals)

	// Realtime hub stats
	v1.GET("/realtime/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})
}

// -----------------------------------------------------------------------------
// Client handlers
// -----------------------------------------------------------------------------

// createClient handles POST /v1/clients
func (s *Server) createClient(c *gin.Context) {
	ctx := c.Request.Context()

	var req struct {
		Name        string `json:"name" binding:"required"`
		Phone       string `json:"phone" binding:"required"`
		Email       string `json:"email"`
		PackageID   string `json:"packageId" binding:"required"`
		MonthlyRate string `json:"monthlyRate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	req.Phone = validation.NormalizePhone(req.Phone)
	if verrs := validation.Validate(
		validation.ValidPhone("phone", req.Phone),
		validation.ValidAmount("monthlyRate", req.MonthlyRate),
		validation.MaxLength("name", req.Name, 200),
	); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": verrs,
		})
		return
	}

	pkg, err := s.clientStore.GetPackage(ctx, req.PackageID)
	if err != nil {
		if errors.Is(err, clients.ErrPackageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "package_not_found",
				"message": "No such package",
			})
			return
		}
		s.logger.Error("failed to load package", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	rate := req.MonthlyRate
	if rate == "" {
		rate = pkg.MonthlyPrice
	}

	now := time.Now()
	client := &clients.Client{
		ID:            clients.NewID(),
		Name:          validation.SanitizeString(req.Name, 200),
		Phone:         req.Phone,
		Email:         validation.SanitizeString(req.Email, 200),
		Status:        clients.StatusPending,
		WalletBalance: "0.00",
		MonthlyRate:   rate,
		PackageID:     pkg.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.clientStore.Create(ctx, client); err != nil {
		s.logger.Error("failed to create client", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to register client",
		})
		return
	}

	s.logger.Info("client registered",
		"clientId", client.ID,
		"packageId", pkg.ID,
	)

	c.JSON(http.StatusCreated, gin.H{"client": client})
}

// getClient handles GET /v1/clients/:id
func (s *Server) getClient(c *gin.Context) {
	client, err := s.clientStore.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, clients.ErrClientNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "client_not_found",
				"message": "No such client",
			})
			return
		}
		s.logger.Error("failed to load client", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"client": client})
}

// createPackage handles POST /v1/packages
func (s *Server) createPackage(c *gin.Context) {
	var req struct {
		Name              string `json:"name" binding:"required"`
		Speed             string `json:"speed" binding:"required"`
		MonthlyPrice      string `json:"monthlyPrice" binding:"required"`
		SessionTimeoutSec int    `json:"sessionTimeoutSec"`
		IdleTimeoutSec    int    `json:"idleTimeoutSec"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if verrs := validation.Validate(
		validation.ValidAmount("monthlyPrice", req.MonthlyPrice),
		validation.MaxLength("name", req.Name, 200),
	); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": verrs,
		})
		return
	}

	pkg := &clients.Package{
		ID:                clients.NewPackageID(),
		Name:              validation.SanitizeString(req.Name, 200),
		Speed:             req.Speed,
		MonthlyPrice:      req.MonthlyPrice,
		SessionTimeoutSec: req.SessionTimeoutSec,
		IdleTimeoutSec:    req.IdleTimeoutSec,
	}

	if err := s.clientStore.CreatePackage(c.Request.Context(), pkg); err != nil {
		s.logger.Error("failed to create package", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"package": pkg})
}

// runRenewals handles POST /v1/renewals/run
func (s *Server) runRenewals(c *gin.Context) {
	result, err := s.renewalProc.ProcessRenewals(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("renewal batch failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "renewal_failed",
			"message": "Renewal batch failed",
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// -----------------------------------------------------------------------------
// Info and health handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, statuses := s.healthReg.CheckAll(c.Request.Context())

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Helanet",
		"description": "Subscription billing and network access sync for ISPs",
		"version":     "0.1.0",
		"currency":    "KES",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start renewal batch timer
	go s.renewalTimer.Start(runCtx)

	// Sample DB pool stats into Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, timers)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	if s.cfg.IsProduction() {
		time.Sleep(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// httpSrv is only set once Run has started listening.
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop renewal timer
	if s.renewalTimer != nil {
		s.renewalTimer.Stop()
		s.logger.Info("renewal timer stopped")
	}

	// Stop active charge monitors
	if s.monitor != nil {
		s.monitor.StopAll()
		s.logger.Info("charge monitors stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
