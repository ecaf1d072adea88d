package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/text/language"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Casazola49/blacklist-core/internal/platform/events"
	marketsqlite "github.com/Casazola49/blacklist-core/internal/services/market/storage/sqlite"
)

// Config holds the market service configuration.
type Config struct {
	Port             int           `env:"BLACKLIST_MARKET_PORT" envDefault:"8082"`
	DBPath           string        `env:"BLACKLIST_MARKET_DB_PATH" envDefault:"data/market.db"`
	AdminGrantSecret string        `env:"BLACKLIST_ADMIN_GRANT_SECRET"`
	ProposalInterval time.Duration `env:"BLACKLIST_PROPOSAL_INTERVAL" envDefault:"30s"`
	ProposalBurst    int           `env:"BLACKLIST_PROPOSAL_BURST" envDefault:"1"`
	Locale           string        `env:"BLACKLIST_LOCALE" envDefault:"es"`
}

// Server hosts the market service: the contract, proposal, escrow, and
// dispute flows. Observers subscribe to the event bus before Serve so every
// committed mutation reaches them in-process.
type Server struct {
	listener    net.Listener
	grpcServer  *grpc.Server
	health      *health.Server
	store       *marketsqlite.Store
	bus         *events.Bus
	orchestrate *Orchestrator
	arbitrate   *Arbitrator
	resolve     *Resolver
	ledger      *Ledger
	directory   *Directory
}

// NewServer assembles a market server from configuration.
func NewServer(cfg Config) (*Server, error) {
	secret := strings.TrimSpace(cfg.AdminGrantSecret)
	if secret == "" {
		return nil, fmt.Errorf("admin grant secret is required")
	}
	locale, err := language.Parse(cfg.Locale)
	if err != nil {
		return nil, fmt.Errorf("parse locale %q: %w", cfg.Locale, err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", cfg.Port, err)
	}
	store, err := openMarketStore(cfg.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	bus := events.NewBus()
	guard := NewGuard(store, []byte(secret), time.Now)
	notifier := LogNotifier{}
	ledger := NewLedger(store, time.Now)
	orchestrator := NewOrchestrator(store, ledger, guard, bus, notifier, WithLocale(locale))
	arbitrator := NewArbitrator(store, guard, bus, notifier, cfg.ProposalInterval, cfg.ProposalBurst, WithLocale(locale))
	resolver := NewResolver(store, guard, bus, notifier, WithLocale(locale))
	directory := NewDirectory(store, guard, bus, WithLocale(locale))

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	return &Server{
		listener:    listener,
		grpcServer:  grpcServer,
		health:      healthServer,
		store:       store,
		bus:         bus,
		orchestrate: orchestrator,
		arbitrate:   arbitrator,
		resolve:     resolver,
		ledger:      ledger,
		directory:   directory,
	}, nil
}

// Addr returns the listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Bus returns the domain event bus so observers can subscribe before Serve.
func (s *Server) Bus() *events.Bus { return s.bus }

// Store returns the market store.
func (s *Server) Store() *marketsqlite.Store { return s.store }

// Orchestrator returns the contract lifecycle service.
func (s *Server) Orchestrator() *Orchestrator { return s.orchestrate }

// Arbitrator returns the proposal service.
func (s *Server) Arbitrator() *Arbitrator { return s.arbitrate }

// Resolver returns the dispute service.
func (s *Server) Resolver() *Resolver { return s.resolve }

// Ledger returns the escrow service.
func (s *Server) Ledger() *Ledger { return s.ledger }

// Directory returns the actor administration service.
func (s *Server) Directory() *Directory { return s.directory }

// Serve starts the market server and blocks until it stops or the context
// ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeStore()

	log.Printf("market server listening at %v", s.listener.Addr())
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
			log.Printf("close market store: %v", err)
		}
	}
}

func openMarketStore(path string) (*marketsqlite.Store, error) {
	if err := ensureStorageDir(path); err != nil {
		return nil, err
	}
	store, err := marketsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open market store: %w", err)
	}
	return store, nil
}

func ensureStorageDir(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}
	return nil
}
