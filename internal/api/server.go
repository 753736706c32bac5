// Package api exposes the ledger and the reconciliation passes over HTTP.
//
// Routes:
//
//	GET    /health
//	POST   /api/v1/import              multipart "bills" and/or "payments"
//	POST   /api/v1/reconcile/strict
//	POST   /api/v1/reconcile/loose     {"restrict_to": {"bill_ids": [...], "payment_ids": [...]}}
//	GET    /api/v1/results
//	GET    /api/v1/groups/:id
//	POST   /api/v1/unmatched           {"bill_ids": [...], "payment_ids": [...]}
//	GET    /api/v1/ledger
//	DELETE /api/v1/ledger
//	GET    /api/v1/stats
package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ledger-matching-service/internal/models"
	"ledger-matching-service/internal/parsers"
	"ledger-matching-service/internal/reconciler"
	"ledger-matching-service/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Store is the part of the storage layer the HTTP handlers read from.
type Store interface {
	reconciler.Importer
	ReportRows(ctx context.Context) ([]models.ReportRow, error)
	GroupDetail(ctx context.Context, groupID int64) (*models.GroupDetail, error)
	UnmatchedDetail(ctx context.Context, set models.UnmatchedSet) (*models.UnmatchedDetail, error)
	ListBills(ctx context.Context) ([]models.LedgerEntry, error)
	ListPayments(ctx context.Context) ([]models.LedgerEntry, error)
	Stats(ctx context.Context) (*models.LedgerStats, error)
	ClearLedger(ctx context.Context) error
}

// Config holds the HTTP server settings
type Config struct {
	Port            int           `json:"port" mapstructure:"port"`
	AllowedOrigins  []string      `json:"allowed_origins" mapstructure:"allowed-origins"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read-timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown-timeout"`
	// MaxUploadBytes caps the size of one import request.
	MaxUploadBytes int64 `json:"max_upload_bytes" mapstructure:"max-upload-bytes"`

	BillParser    *parsers.BillParserConfig       `json:"-"`
	PaymentParser *parsers.PaymentParserConfig    `json:"-"`
	Preprocessing *reconciler.PreprocessingConfig `json:"-"`
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:            8080,
		AllowedOrigins:  []string{"http://localhost:3000", "http://localhost:5173", "http://localhost:8080"},
		ReadTimeout:     30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxUploadBytes:  64 << 20,
	}
}

// Validate checks the server configuration
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.ShutdownTimeout < 0 || c.ReadTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	return nil
}

// Server serves the HTTP API
type Server struct {
	store   Store
	service *reconciler.Service
	config  *Config
	logger  logger.Logger
	router  *gin.Engine
}

// NewServer creates the API server and its routes.
func NewServer(store Store, service *reconciler.Service, config *Config, log logger.Logger) (*Server, error) {
	if store == nil || service == nil {
		return nil, fmt.Errorf("store and reconciliation service are required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	s := &Server{
		store:   store,
		service: service,
		config:  config,
		logger:  log.WithComponent("api"),
	}
	s.router = s.setupRouter()
	return s, nil
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(s.logger, "/health"))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", requestIDHeader},
		ExposeHeaders:    []string{"Content-Length", requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/import", s.importLedger)
		v1.POST("/reconcile/strict", s.reconcileStrict)
		v1.POST("/reconcile/loose", s.reconcileLoose)
		v1.GET("/results", s.getResults)
		v1.GET("/groups/:id", s.getGroup)
		v1.POST("/unmatched", s.getUnmatched)
		v1.GET("/ledger", s.getLedger)
		v1.DELETE("/ledger", s.clearLedger)
		v1.GET("/stats", s.getStats)
	}

	return router
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("port", s.config.Port).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return <-errCh
}
