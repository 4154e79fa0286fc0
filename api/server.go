package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"rewarder/models"
	"rewarder/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// FailedItemQueue is the operator view of one dispatcher's queue
type FailedItemQueue interface {
	ListFailed(ctx context.Context, limit int) ([]*models.DueItem, error)
	// Requeue enqueues a pending copy of a failed item and returns the copy
	Requeue(ctx context.Context, id int64) (*models.DueItem, error)
	Stats(ctx context.Context) (map[models.DueItemStatus]int64, error)
}

// Dependencies are the services the intake adapter drives
type Dependencies struct {
	Budget      service.BudgetLedger
	Points      service.PointsLedger
	Settlements service.SettlementService
	// Queues maps a store name ("budget", "wallet") to its dispatcher
	Queues map[string]FailedItemQueue
	// Health reports whether the stores are reachable; nil means always healthy
	Health         func(ctx context.Context) error
	AllowedOrigins []string
}

type handlers struct {
	deps Dependencies
}

// NewRouter builds the gin engine serving the intake and operator routes
func NewRouter(deps Dependencies) *gin.Engine {
	registerValidators()

	r := gin.New()
	r.Use(requestLogger())
	r.Use(gin.Recovery())
	if len(deps.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = deps.AllowedOrigins
		corsConfig.AddAllowHeaders("Authorization", "X-Actor")
		r.Use(cors.New(corsConfig))
	}
	r.Use(actorFromHeader())

	h := &handlers{deps: deps}

	r.GET("/healthz", h.health)

	r.POST("/settlements", h.settle)
	r.GET("/settlements/:externalRef", h.getSettlement)
	r.POST("/settlements/:externalRef/reverse", h.reverseSettlement)
	r.POST("/verifications", h.verify)

	budgets := r.Group("/budgets/:merchantRef")
	budgets.GET("", h.getBudget)
	budgets.GET("/transactions", h.listBudgetTransactions)
	budgets.POST("/loads", h.loadBudget)
	budgets.PUT("/status", h.setBudgetStatus)

	wallets := r.Group("/wallets/:userRef")
	wallets.GET("", h.getWallet)
	wallets.GET("/transactions", h.listWalletTransactions)
	wallets.POST("/redemptions", h.redeem)

	r.GET("/dispatcher/stats", h.queueStats)
	r.GET("/dispatcher/failed", h.listFailed)
	r.POST("/dispatcher/items/:id/requeue", h.requeue)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "not_found", Message: "route not found"})
	})

	return r
}

// Server runs the router until shut down
type Server struct {
	srv *http.Server
}

func NewServer(addr string, deps Dependencies) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(deps),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start serves in the background. Errors other than a clean shutdown are
// delivered on the returned channel.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", s.srv.Addr).Info("HTTP intake listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server stopped: %w", err)
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
