package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/orderlanelabs/orderlane/internal/api/middleware"
	"github.com/orderlanelabs/orderlane/internal/config"
	"github.com/orderlanelabs/orderlane/internal/consumer"
	"github.com/orderlanelabs/orderlane/internal/domain/aftersales"
	"github.com/orderlanelabs/orderlane/internal/domain/inventory"
	"github.com/orderlanelabs/orderlane/internal/outbox"
	aftersalesuc "github.com/orderlanelabs/orderlane/internal/usecase/aftersales"
)

type Router struct {
	engine       *gin.Engine
	server       *http.Server
	cfg          *config.Config
	aftersalesUC *aftersalesuc.UseCase
	aftersales   aftersales.Repository
	inventory    inventory.Repository
	outbox       *outbox.Repository
	deadLetters  *consumer.Recorder
	logger       *zap.Logger
}

func NewRouter(
	cfg *config.Config,
	aftersalesUC *aftersalesuc.UseCase,
	aftersalesRepo aftersales.Repository,
	inventoryRepo inventory.Repository,
	outboxRepo *outbox.Repository,
	deadLetters *consumer.Recorder,
	logger *zap.Logger,
) *Router {
	// Disable GIN default logger
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Metrics())
	r.Use(middleware.Logger(logger))

	api := &Router{
		engine:       r,
		cfg:          cfg,
		aftersalesUC: aftersalesUC,
		aftersales:   aftersalesRepo,
		inventory:    inventoryRepo,
		outbox:       outboxRepo,
		deadLetters:  deadLetters,
		logger:       logger,
	}

	api.RegisterRoutes()
	return api
}

func (r *Router) RegisterRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Prometheus metrics endpoint
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Operator routes (protected by ADMIN_API_TOKEN)
	admin := r.engine.Group("/admin")
	admin.Use(r.adminAuth())
	{
		admin.GET("/outbox", r.ListOutbox)
		admin.POST("/outbox/:id/republish", r.RepublishOutbox)
		admin.GET("/dead-letters", r.ListDeadLetters)

		admin.GET("/products/:sku", r.GetProduct)

		admin.POST("/exchanges", r.RequestExchange)
		admin.GET("/exchanges/:id", r.GetExchange)
		admin.POST("/exchanges/:id/approve", r.ApproveExchange)
		admin.POST("/exchanges/:id/reject", r.RejectExchange)
		admin.POST("/exchanges/:id/ship", r.ShipExchange)
		admin.POST("/exchanges/:id/labels/reissue", r.ReissueExchangeLabel)

		admin.POST("/returns", r.RequestReturn)
		admin.GET("/returns/:id", r.GetReturn)
		admin.POST("/returns/:id/approve", r.ApproveReturn)
		admin.POST("/returns/:id/reject", r.RejectReturn)
	}
}

func (r *Router) Run() error {
	r.server = &http.Server{
		Addr:         ":" + r.cfg.Port,
		Handler:      r.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return r.server.ListenAndServe()
}

func (r *Router) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(r.cfg.AdminAPIToken)
		if expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin_token_not_configured"})
			return
		}

		provided := strings.TrimSpace(c.GetHeader("X-Admin-Token"))
		if provided == "" {
			authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
			if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
				provided = strings.TrimSpace(authHeader[7:])
			}
		}

		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (r *Router) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}
