package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	auditcmd "github.com/Casazola49/blacklist-core/internal/cmd/audit"
)

func main() {
	cfg, err := auditcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[AUDIT] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := auditcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
