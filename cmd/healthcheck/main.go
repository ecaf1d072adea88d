// Package main probes a service's gRPC health endpoint, for container
// health checks.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/Casazola49/blacklist-core/internal/platform/config"
	platformgrpc "github.com/Casazola49/blacklist-core/internal/platform/grpc"
	"github.com/Casazola49/blacklist-core/internal/platform/timeouts"
)

type probeConfig struct {
	Addr string `env:"BLACKLIST_HEALTHCHECK_ADDR" envDefault:"127.0.0.1:8082"`
}

func main() {
	var cfg probeConfig
	if err := config.ParseEnv(&cfg); err != nil {
		config.Exitf("parse env: %v", err)
	}
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "The gRPC address to probe")
	flag.Parse()

	log.SetPrefix("[HEALTHCHECK] ")
	ctx := context.Background()
	conn, err := platformgrpc.DialWithHealth(ctx, nil, cfg.Addr, timeouts.GRPCDial,
		log.Printf, platformgrpc.DefaultClientDialOptions()...)
	if err != nil {
		config.Exitf("probe %s: %v", cfg.Addr, err)
	}
	_ = conn.Close()
	os.Exit(0)
}
