package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/valorwatch/valorwatch/internal/config"
	verrors "github.com/valorwatch/valorwatch/internal/errors"
	"github.com/valorwatch/valorwatch/internal/logging"
	"github.com/valorwatch/valorwatch/internal/metrics"
	"github.com/valorwatch/valorwatch/internal/riot"
	"github.com/valorwatch/valorwatch/internal/store"
	"github.com/valorwatch/valorwatch/internal/valapi"
)

// Server is the admin HTTP surface: health, metrics and a few operational
// endpoints. It is meant to be bound to localhost or an internal network.
type Server struct {
	cfg      config.ServerConfig
	engine   *gin.Engine
	http     *http.Server
	metrics  *metrics.Metrics
	gameData *valapi.Client
	version  *riot.ClientVersion
	store    store.Store
	logger   *logging.Logger
}

// NewServer creates the admin server.
func NewServer(cfg config.ServerConfig, m *metrics.Metrics, gameData *valapi.Client, version *riot.ClientVersion, st store.Store, logger *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:      cfg,
		engine:   engine,
		metrics:  m,
		gameData: gameData,
		version:  version,
		store:    st,
		logger:   logger,
	}
	s.routes()

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.HTTPPort),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	admin := s.engine.Group("/admin")
	admin.POST("/cache/clear", s.handleCacheClear)
	admin.GET("/accounts", s.handleAccounts)
}

// Handler exposes the router, used by tests and embedding callers.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving. It returns once the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	if s.logger != nil {
		s.logger.Info("admin server listening", "addr", s.http.Addr)
	}
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return &verrors.ErrServerStart{Addr: s.http.Addr, Err: err}
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"version_ready": s.version != nil && s.version.IsReady(),
	})
}

func (s *Server) handleCacheClear(c *gin.Context) {
	s.gameData.ClearCache()
	if s.logger != nil {
		s.logger.Info("cache cleared via admin endpoint", "remote", c.ClientIP())
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

// accountSummary is the admin view of a credential record. Token material
// never leaves the store through this endpoint.
type accountSummary struct {
	PUUID     string `json:"puuid"`
	OwnerID   int64  `json:"owner_id"`
	RiotID    string `json:"riot_id"`
	Region    string `json:"region"`
	ExpiresAt int64  `json:"expires_at"`
	Expired   bool   `json:"expired"`
	CreatedAt string `json:"created_at"`
}

func (s *Server) handleAccounts(c *gin.Context) {
	recs, err := s.store.ListAllCredentials(c.Request.Context())
	if err != nil {
		if s.logger != nil {
			s.logger.Error("admin account listing failed", "error", err.Error())
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}

	now := time.Now()
	out := make([]accountSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, accountSummary{
			PUUID:     rec.PUUID,
			OwnerID:   rec.OwnerID,
			RiotID:    rec.RiotID(),
			Region:    rec.Region,
			ExpiresAt: rec.ExpiresAt,
			Expired:   rec.Expired(now),
			CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}
