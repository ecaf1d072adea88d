// Package market parses market command flags and starts the service runtime,
// wiring the audit observers onto the market event bus.
package market

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	entrypoint "github.com/Casazola49/blacklist-core/internal/platform/cmd"
	auditapp "github.com/Casazola49/blacklist-core/internal/services/audit/app"
	"github.com/Casazola49/blacklist-core/internal/services/audit/domain/security"
	auditsqlite "github.com/Casazola49/blacklist-core/internal/services/audit/storage/sqlite"
	marketapp "github.com/Casazola49/blacklist-core/internal/services/market/app"
)

// Config holds market command configuration.
type Config struct {
	Market marketapp.Config

	AuditDBPath    string        `env:"BLACKLIST_AUDIT_DB_PATH" envDefault:"data/audit.db"`
	SecurityPolicy string        `env:"BLACKLIST_SECURITY_POLICY_PATH"`
	AuditRetention time.Duration `env:"BLACKLIST_AUDIT_RETENTION" envDefault:"8760h"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Market.Port, "port", cfg.Market.Port, "The market server port")
	fs.StringVar(&cfg.Market.DBPath, "db", cfg.Market.DBPath, "The market database path")
	fs.StringVar(&cfg.AuditDBPath, "audit-db", cfg.AuditDBPath, "The audit database path")
	fs.StringVar(&cfg.SecurityPolicy, "security-policy", cfg.SecurityPolicy, "The anomaly policy file (YAML)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the market service with the audit recorder and anomaly detector
// subscribed to its event bus.
func Run(ctx context.Context, cfg Config) error {
	policy, err := security.LoadPolicy(cfg.SecurityPolicy)
	if err != nil {
		return err
	}
	auditStore, err := openAuditStore(cfg.AuditDBPath)
	if err != nil {
		return err
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMarket, func(context.Context) error {
		defer func() {
			if err := auditStore.Close(); err != nil {
				log.Printf("close audit store: %v", err)
			}
		}()

		server, err := marketapp.NewServer(cfg.Market)
		if err != nil {
			return err
		}
		// Recorder before detector: detection windows count over the audit
		// trail, so the event being handled must already be recorded.
		server.Bus().Subscribe(auditapp.NewRecorder(auditStore, cfg.AuditRetention))
		server.Bus().Subscribe(auditapp.NewDetector(auditStore, auditStore, server.Store(), server.Bus(), policy))
		return server.Serve(ctx)
	})
}

func openAuditStore(path string) (*auditsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := auditsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	return store, nil
}
