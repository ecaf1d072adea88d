// Package main dispatches to one of the service runtimes by name, so a
// single binary can run either service in a container.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	auditcmd "github.com/Casazola49/blacklist-core/internal/cmd/audit"
	marketcmd "github.com/Casazola49/blacklist-core/internal/cmd/market"
	"github.com/Casazola49/blacklist-core/internal/platform/config"
)

func main() {
	if len(os.Args) < 2 {
		config.Exitf("usage: %s <market|audit> [flags]", os.Args[0])
	}
	service := strings.ToLower(strings.TrimSpace(os.Args[1]))
	args := os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fs := flag.NewFlagSet(service, flag.ExitOnError)
	var err error
	switch service {
	case "market":
		log.SetPrefix("[MARKET] ")
		var cfg marketcmd.Config
		if cfg, err = marketcmd.ParseConfig(fs, args); err == nil {
			err = marketcmd.Run(ctx, cfg)
		}
	case "audit":
		log.SetPrefix("[AUDIT] ")
		var cfg auditcmd.Config
		if cfg, err = auditcmd.ParseConfig(fs, args); err == nil {
			err = auditcmd.Run(ctx, cfg)
		}
	default:
		err = fmt.Errorf("unknown service %q", service)
	}
	if err != nil {
		config.Exitf("%s: %v", service, err)
	}
}
