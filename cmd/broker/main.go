// Package main is the entrypoint for the Upstream Session Broker service.
// The broker automates attendance marking against the upstream portal on
// behalf of its users, rebuilding dead SSO sessions and second-factor
// challenges transparently.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/campusbot/attendance-broker/internal/config"
	"github.com/campusbot/attendance-broker/internal/server"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:           "broker",
		PortFromConfig: func(cfg *config.Config) int { return cfg.Broker.HTTPPort },
		Setup:          setup,
	}, server.Listeners{})
}
