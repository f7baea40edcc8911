package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"

	"github.com/h0rn3t/timescaledb/internal/app"
)

// serveCommand runs the HTTP API.
type serveCommand struct {
	g    *globals
	addr string
}

func addServeCommand(a *kingpin.Application, g *globals) {
	cmd := &serveCommand{g: g}
	c := a.Command("serve", "Serve the explain, stats and metrics HTTP API.").Action(cmd.run)
	c.Flag("addr", "HTTP listen address.").StringVar(&cmd.addr)
}

func (cmd *serveCommand) run(_ *kingpin.ParseContext) error {
	cfg, err := cmd.g.load()
	if err != nil {
		return err
	}
	if cmd.addr != "" {
		cfg.HTTP.Addr = cmd.addr
	}
	logger, flush, err := cmd.g.logger(cfg)
	if err != nil {
		return err
	}
	defer flush()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	logger.Info("tsplan starting", "version", version, "addr", cfg.HTTP.Addr, "data_dir", cfg.DataDir)
	return a.Serve(ctx)
}
