// Package server exposes the operational HTTP surface of the settlement
// daemon: liveness, readiness and Prometheus metrics.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RequeueFunc re-enqueues processing for a withdrawal that lost its queue
// job (enqueue failed after the record was created).
type RequeueFunc func(ctx context.Context, withdrawalID uuid.UUID) error

// Server is the ops HTTP server.
type Server struct {
	httpServer *http.Server
	rdb        *redis.Client
	db         *gorm.DB
	requeue    RequeueFunc
	logger     *zap.Logger
}

// New builds the ops server on addr.
func New(addr string, rdb *redis.Client, db *gorm.DB, requeue RequeueFunc, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		httpServer: &http.Server{Addr: addr, Handler: router},
		rdb:        rdb,
		db:         db,
		requeue:    requeue,
		logger:     logger,
	}

	router.GET("/healthz", s.healthz)
	router.GET("/readyz", s.readyz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/withdrawals/:id/requeue", s.requeueWithdrawal)
	return s
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("ops server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// readyz verifies the queue store and the database are reachable.
func (s *Server) readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "redis": err.Error()})
		return
	}
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// requeueWithdrawal is the operator escape hatch for a withdrawal whose
// processing job was lost.
func (s *Server) requeueWithdrawal(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid withdrawal id"})
		return
	}
	if err := s.requeue(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	s.logger.Info("withdrawal requeued by operator", zap.String("withdrawal_id", id.String()))
	c.JSON(http.StatusAccepted, gin.H{"status": "requeued"})
}
