package main

import (
	"context"
	"fmt"

	"github.com/jonwraymond/toolrelay/backend/bus"
	"github.com/jonwraymond/toolrelay/backend/bus/sqsbus"
	"github.com/jonwraymond/toolrelay/config"
	"github.com/jonwraymond/toolrelay/gateway"
)

// openGateway builds a gateway from the loaded config and registers every
// server. Servers that fail to list their tools stay registered and are
// reported in the log.
func openGateway(ctx context.Context) (*gateway.Gateway, func(), error) {
	var (
		b       bus.Bus
		closeFn = func() {}
	)
	switch cfg.Bus.Kind {
	case config.BusMemory:
		mb := bus.NewMemoryBus()
		b, closeFn = mb, func() { _ = mb.Close() }
	case config.BusSQS:
		sb, err := sqsbus.NewFromEnv(ctx, cfg.Bus.Region, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to sqs: %w", err)
		}
		b, closeFn = sb, func() { _ = sb.Close() }
	}

	gw := gateway.New(gateway.Options{
		Supervisor: cfg.SupervisorOptions(),
		Bus:        b,
		RateLimit:  cfg.RateLimit,
		Logger:     logger,
	})

	for _, d := range cfg.Descriptors() {
		if err := gw.RegisterServer(ctx, d); err != nil {
			logger.Warn("server registered with errors", "server", d.Name, "err", err)
		}
	}

	return gw, func() {
		_ = gw.Close()
		closeFn()
	}, nil
}
