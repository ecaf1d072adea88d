package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Casazola49/blacklist-core/internal/platform/events"
	auditsqlite "github.com/Casazola49/blacklist-core/internal/services/audit/storage/sqlite"
)

// Config holds the audit service configuration. The service reads the audit
// database the market process writes; SQLite WAL mode admits the second
// process.
type Config struct {
	Port      int           `env:"BLACKLIST_AUDIT_PORT" envDefault:"8083"`
	DBPath    string        `env:"BLACKLIST_AUDIT_DB_PATH" envDefault:"data/audit.db"`
	Retention time.Duration `env:"BLACKLIST_AUDIT_RETENTION" envDefault:"8760h"`
}

// Server hosts the audit admin surface: log search, reports, security event
// review, and the retention sweep. The guard comes from the caller so this
// package stays decoupled from the market service wiring.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	store      *auditsqlite.Store
	admin      *Admin
}

// NewServer assembles an audit server from configuration.
func NewServer(cfg Config, guard AdminGuard) (*Server, error) {
	if guard == nil {
		return nil, fmt.Errorf("admin guard is required")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", cfg.Port, err)
	}
	store, err := auditsqlite.Open(cfg.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	// Admin actions land in the same audit trail as domain events.
	bus := events.NewBus()
	recorder := NewRecorder(store, cfg.Retention)
	bus.Subscribe(recorder)
	admin := NewAdmin(store, guard, recorder, bus)

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		store:      store,
		admin:      admin,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Admin returns the admin surface.
func (s *Server) Admin() *Admin { return s.admin }

// Serve starts the audit server and blocks until it stops or the context
// ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeStore()

	log.Printf("audit server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.Shutdown()
		}
		s.grpcServer.GracefulStop()
		return handleErr(<-serveErr)
	case err := <-serveErr:
		return handleErr(err)
	}
}

func (s *Server) closeStore() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close audit store: %v", err)
		}
	}
}
