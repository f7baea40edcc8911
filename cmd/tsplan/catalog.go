package main

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"

	"github.com/h0rn3t/timescaledb/internal/app"
	"github.com/h0rn3t/timescaledb/internal/storage"
)

// catalogCommand moves catalog snapshots between the catalog database and
// the configured object storage.
type catalogCommand struct {
	g    *globals
	path string
}

func addCatalogCommands(a *kingpin.Application, g *globals) {
	c := a.Command("catalog", "Manage catalog snapshots.")

	imp := &catalogCommand{g: g}
	ic := c.Command("import", "Register the tables and chunks of a snapshot in the catalog.").Action(imp.runImport)
	ic.Arg("path", "Snapshot object path (.json, .json.sz, .yaml or .yml).").Required().StringVar(&imp.path)

	exp := &catalogCommand{g: g}
	ec := c.Command("export", "Write a snapshot of the catalog.").Action(exp.runExport)
	ec.Arg("path", "Snapshot object path (.json, .json.sz, .yaml or .yml).").Required().StringVar(&exp.path)
}

type transfer func(*app.App, context.Context, storage.ObjectStorage, string) (app.SnapshotResult, error)

func (cmd *catalogCommand) runImport(_ *kingpin.ParseContext) error {
	return cmd.run((*app.App).Import, "imported")
}

func (cmd *catalogCommand) runExport(_ *kingpin.ParseContext) error {
	return cmd.run((*app.App).Export, "exported")
}

func (cmd *catalogCommand) run(fn transfer, verb string) error {
	cfg, err := cmd.g.load()
	if err != nil {
		return err
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

	ctx := context.Background()
	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	res, err := fn(a, ctx, store, cmd.path)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s: %s tables, %s chunks (%s)\n", verb, cmd.path,
		humanize.Comma(int64(res.Tables)), humanize.Comma(int64(res.Chunks)), humanize.Bytes(uint64(res.Bytes)))
	return nil
}
