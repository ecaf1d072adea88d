// Package audit parses audit command flags and starts the admin read
// service.
package audit

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	entrypoint "github.com/Casazola49/blacklist-core/internal/platform/cmd"
	auditapp "github.com/Casazola49/blacklist-core/internal/services/audit/app"
	marketapp "github.com/Casazola49/blacklist-core/internal/services/market/app"
	marketsqlite "github.com/Casazola49/blacklist-core/internal/services/market/storage/sqlite"
)

// Config holds audit command configuration. The market database supplies the
// actor directory the admin guard checks grants against.
type Config struct {
	Audit auditapp.Config

	MarketDBPath     string `env:"BLACKLIST_MARKET_DB_PATH" envDefault:"data/market.db"`
	AdminGrantSecret string `env:"BLACKLIST_ADMIN_GRANT_SECRET"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Audit.Port, "port", cfg.Audit.Port, "The audit server port")
	fs.StringVar(&cfg.Audit.DBPath, "db", cfg.Audit.DBPath, "The audit database path")
	fs.StringVar(&cfg.MarketDBPath, "market-db", cfg.MarketDBPath, "The market database path")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the audit admin service.
func Run(ctx context.Context, cfg Config) error {
	secret := strings.TrimSpace(cfg.AdminGrantSecret)
	if secret == "" {
		return fmt.Errorf("admin grant secret is required")
	}
	marketStore, err := marketsqlite.Open(cfg.MarketDBPath)
	if err != nil {
		return fmt.Errorf("open market store: %w", err)
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceAudit, func(context.Context) error {
		defer func() {
			if err := marketStore.Close(); err != nil {
				log.Printf("close market store: %v", err)
			}
		}()

		guard := marketapp.NewGuard(marketStore, []byte(secret), time.Now)
		server, err := auditapp.NewServer(cfg.Audit, guard)
		if err != nil {
			return err
		}
		return server.Serve(ctx)
	})
}
