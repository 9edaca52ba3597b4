// Package api is the manager's HTTP gateway: it accepts cluster uploads and
// forwards lifecycle requests to the orchestrator.
package api

import (
	"context"
	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/pgacloud/manager/internal/naming"
	"github.com/pgacloud/manager/internal/orchestrator"
	"github.com/pgacloud/manager/internal/storage"
	"golang.org/x/sync/errgroup"
	"net"
	"net/http"
	"time"
)

const shutdownTimeout = 10 * time.Second

// Orchestrator is what the gateway needs from the deployment engine.
type Orchestrator interface {
	NextID() naming.ClusterID
	SetupCluster(ctx context.Context, s orchestrator.Setup) (naming.ClusterID, error)
	DistributeProperties(ctx context.Context, id naming.ClusterID, properties map[string]interface{}) (int, error)
	InitializePopulation(ctx context.Context, id naming.ClusterID, population interface{}) (int, error)
	StartCluster(ctx context.Context, id naming.ClusterID) (int, error)
	Teardown(ctx context.Context, id naming.ClusterID) (int, error)
	RemoveCluster(ctx context.Context, id naming.ClusterID) error
	ScaleStage(ctx context.Context, name string, replicas uint64) error
	Clusters(ctx context.Context) ([]orchestrator.Cluster, error)
	Status(ctx context.Context, id naming.ClusterID) (orchestrator.ClusterStatus, error)
}

type Server struct {
	log    logr.Logger
	orch   Orchestrator
	store  *storage.Store
	engine *gin.Engine
}

func New(o Orchestrator, store *storage.Store) *Server {
	s := &Server{
		log:   logr.Discard(),
		orch:  o,
		store: store,
	}
	return s
}

func (s *Server) SetLogger(l logr.Logger) *Server {
	s.log = l
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	if s.engine == nil {
		s.engine = gin.New()
		s.engine.Use(gin.Recovery(), requestLogger(s.log))
		SetupRoutes(s.engine, &handlers{log: s.log, orch: s.orch, store: s.store})
	}
	return s.engine
}

// Start serves until ctx is done, then shuts down gracefully. clb receives
// the address actually listened on.
func (s *Server) Start(ctx context.Context, listenAddr string, clb func(net.Addr)) error {
	wg, ctx := errgroup.WithContext(ctx)

	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	defer lis.Close()
	if clb != nil {
		clb(lis.Addr())
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	wg.Go(func() error {
		if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	<-ctx.Done()

	s.log.Info("graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error(err, "shutdown")
	}
	return wg.Wait()
}

func requestLogger(log logr.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.V(1).Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}
