// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/storeloft/storeloft/internal/access"
	"github.com/storeloft/storeloft/internal/admin"
	"github.com/storeloft/storeloft/internal/auth"
	"github.com/storeloft/storeloft/internal/billing"
	"github.com/storeloft/storeloft/internal/catalog"
	"github.com/storeloft/storeloft/internal/config"
	"github.com/storeloft/storeloft/internal/health"
	"github.com/storeloft/storeloft/internal/logging"
	"github.com/storeloft/storeloft/internal/metrics"
	"github.com/storeloft/storeloft/internal/override"
	"github.com/storeloft/storeloft/internal/ratelimit"
	"github.com/storeloft/storeloft/internal/rbac"
	"github.com/storeloft/storeloft/internal/realtime"
	"github.com/storeloft/storeloft/internal/retry"
	"github.com/storeloft/storeloft/internal/security"
	"github.com/storeloft/storeloft/internal/tenant"
	"github.com/storeloft/storeloft/internal/traces"
	"github.com/storeloft/storeloft/internal/validation"
	"github.com/storeloft/storeloft/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg           *config.Config
	cat           *catalog.Catalog
	tenants       tenant.Store
	overrides     override.Store
	authMgr       *auth.Manager
	engine        *access.Engine
	realtimeHub   *realtime.Hub
	webhookStore  webhooks.Store
	webhookEmit   *webhooks.Emitter
	healthReg     *health.Registry
	rateLimiter   *ratelimit.Limiter
	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	shutdownTrace func(context.Context) error
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

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

// WithCatalog sets a custom tier catalog (for testing)
func WithCatalog(cat *catalog.Catalog) Option {
	return func(s *Server) {
		s.cat = cat
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set catalog/logger)
	for _, opt := range opts {
		opt(s)
	}

	if s.cat == nil {
		s.cat = catalog.Default()
	}

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

		// Test connection, retrying briefly in case the database is still
		// coming up alongside the server.
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 30*time.Second)
		err = retry.Do(pingCtx, 5, 500*time.Millisecond, func() error {
			return db.PingContext(pingCtx)
		})
		cancelPing()
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.tenants = tenant.NewPostgresStore(db)
		s.overrides = override.NewPostgresStore(db)
		s.authMgr = auth.NewManager(auth.NewPostgresStore(db))
		s.webhookStore = webhooks.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
		s.logger.Info("run cmd/migrate before first start if the schema is not up to date")
	} else {
		s.tenants = tenant.NewMemoryStore()
		s.overrides = override.NewMemoryStore()
		s.authMgr = auth.NewManager(auth.NewMemoryStore())
		s.webhookStore = webhooks.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Access decision engine with the default permission matrix
	s.engine = access.NewEngine(s.tenants, s.overrides, s.cat, rbac.NewResolver(), cfg.DecisionCacheTTL)
	s.logger.Info("access engine enabled", "cache_ttl", cfg.DecisionCacheTTL)

	// Create realtime hub for WebSocket streaming of entitlement changes
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Outbound webhooks for tenant integrations
	s.webhookEmit = webhooks.NewEmitter(webhooks.NewDispatcher(s.webhookStore), s.logger)
	s.logger.Info("outbound webhooks enabled")

	// Health checks
	s.healthReg = health.NewRegistry()
	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	// Tracing (no-op without an OTLP endpoint)
	shutdownTrace, err := traces.Init(context.Background(), cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTrace = shutdownTrace
	}

	s.logger.Info("API authentication enabled")

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

	// CORS (allow all origins for development - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
		rlCfg.BurstSize = s.cfg.RateLimitRPS
	}
	s.rateLimiter = ratelimit.New(rlCfg)
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

	// WebSocket for real-time entitlement streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group. Every request passes the auth middleware; it never
	// rejects on its own, enforcement happens per route group below.
	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.authMgr, s.cfg.AdminSecret))
	v1.Use(validation.TenantIDParamMiddleware())

	// PUBLIC ROUTES (no auth required)
	v1.GET("/tiers", s.tiersHandler)
	v1.GET("/ws/stats", s.wsStatsHandler)

	// Entitlement changes fan out to WebSocket clients and registered webhooks.
	events := eventFanout{s.realtimeHub, s.webhookEmit}

	// Stripe webhook (authenticated by signature, not API key)
	if s.cfg.StripeWebhookSecret != "" {
		billingHandler := billing.NewHandler(s.tenants, s.cfg.StripeWebhookSecret, s.engine, events)
		billingHandler.RegisterRoutes(v1)
		s.logger.Info("billing webhook enabled")
	} else {
		s.logger.Info("billing webhook disabled (no STRIPE_WEBHOOK_SECRET set)")
	}

	// ACCESS ROUTES (require any authenticated principal)
	accessHandler := access.NewHandler(s.engine, s.cat)
	authed := v1.Group("")
	authed.Use(auth.RequireAuth())
	accessHandler.RegisterRoutes(authed)

	// TENANT SELF-SERVICE ROUTES (must belong to the tenant)
	tenantHandler := tenant.NewHandler(s.tenants, s.cat, s.authMgr, s.engine, events)
	tenantScoped := v1.Group("")
	tenantScoped.Use(auth.RequireAuth(), auth.RequireTenant("id"))
	tenantHandler.RegisterProtectedRoutes(tenantScoped)

	// Webhook subscription management is tenant self-service too
	webhookHandler := webhooks.NewHandler(s.webhookStore)
	webhookHandler.RegisterRoutes(tenantScoped)

	// ORG ADMIN ROUTES (tenant provisioning, subscription patches, overrides)
	orgAdmin := v1.Group("")
	orgAdmin.Use(auth.RequireRole(rbac.RoleOrgAdmin))
	tenantHandler.RegisterAdminRoutes(orgAdmin)

	overrideHandler := override.NewHandler(s.overrides, s.cat, s.engine, events)
	overrideHandler.RegisterRoutes(orgAdmin)

	// PLATFORM ADMIN ROUTES (showcase provisioning, inspection, sweeps)
	platformAdmin := v1.Group("")
	platformAdmin.Use(auth.RequireRole(rbac.RolePlatformAdmin))
	adminHandler := admin.NewHandler(s.tenants, s.overrides, s.cat, s.engine)
	adminHandler.RegisterRoutes(platformAdmin)
}

// eventFanout forwards internal entitlement events to every configured sink.
type eventFanout []interface {
	Publish(event string, tenantID string, payload any)
}

func (f eventFanout) Publish(event string, tenantID string, payload any) {
	for _, sink := range f {
		sink.Publish(event, tenantID, payload)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
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
		"name":        "Storeloft",
		"description": "Tenant lifecycle and access control for local retail storefronts",
		"version":     "0.1.0",
	})
}

// tiersHandler returns the tier catalog, cheapest first.
func (s *Server) tiersHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tiers": s.cat.TiersOrderedByPrice(),
	})
}

func (s *Server) wsStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
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
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start database pool stats collector
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
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

	// Cancel the context for all background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.shutdownTrace != nil {
		if err := s.shutdownTrace(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
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
