package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/dustin/go-humanize"

	"github.com/h0rn3t/timescaledb/internal/app"
	"github.com/h0rn3t/timescaledb/internal/catalog"
	"github.com/h0rn3t/timescaledb/internal/query/planner"
	"github.com/h0rn3t/timescaledb/internal/storage"
)

// explainCommand plans one statement and prints its plan.
type explainCommand struct {
	g        *globals
	sql      *[]string
	format   string
	snapshot string
	summary  bool
}

func addExplainCommand(a *kingpin.Application, g *globals) {
	cmd := &explainCommand{g: g}
	c := a.Command("explain", "Plan a statement and print its plan.").Default().Action(cmd.run)
	c.Flag("format", "Output format.").Short('f').Default(planner.FormatText).EnumVar(&cmd.format, planner.FormatText, planner.FormatJSON)
	c.Flag("snapshot", "Plan against a snapshot file instead of the catalog database.").ExistingFileVar(&cmd.snapshot)
	c.Flag("summary", "Print a pruning summary after the plan.").Default("true").BoolVar(&cmd.summary)
	cmd.sql = c.Arg("sql", "The statement to plan; read from stdin when omitted.").Strings()
}

func (cmd *explainCommand) run(_ *kingpin.ParseContext) error {
	cfg, err := cmd.g.load()
	if err != nil {
		return err
	}
	logger, flush, err := cmd.g.logger(cfg)
	if err != nil {
		return err
	}
	defer flush()

	sql := strings.TrimSpace(strings.Join(*cmd.sql, " "))
	if sql == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read statement: %w", err)
		}
		sql = strings.TrimSpace(string(data))
	}
	if sql == "" {
		return fmt.Errorf("no statement given")
	}

	ctx := context.Background()
	var p *planner.Planner
	if cmd.snapshot != "" {
		reader, err := loadSnapshot(ctx, cmd.snapshot)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		p = planner.NewPlanner(reader, cfg.Planner, cfg.Cost, logger)
	} else {
		a, err := app.New(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()
		p = a.Planner()
	}

	plan, err := p.PlanSQL(ctx, sql)
	if err != nil {
		return err
	}
	out, err := plan.Explain(cmd.format)
	if err != nil {
		return err
	}
	os.Stdout.Write(out)
	if cmd.format == planner.FormatJSON {
		fmt.Println()
	}

	if cmd.summary {
		printSummary(plan)
	}
	return nil
}

// loadSnapshot reads a snapshot file from the local filesystem into an
// in-memory catalog.
func loadSnapshot(ctx context.Context, path string) (*catalog.MemoryCatalog, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewLocalStorage(filepath.Dir(abs))
	if err != nil {
		return nil, err
	}
	f, err := catalog.ReadSnapshotFile(ctx, store, filepath.Base(abs))
	if err != nil {
		return nil, err
	}
	mem := catalog.NewMemoryCatalog()
	if err := f.Load(ctx, mem); err != nil {
		return nil, err
	}
	return mem, nil
}

// printSummary writes a human-readable digest of the plan to stderr.
func printSummary(plan *planner.Plan) {
	fmt.Fprintf(os.Stderr, "\n%s, total cost %s, ~%s rows decompressed\n",
		plan.Command,
		humanize.CommafWithDigits(plan.TotalCost(), 2),
		humanize.Comma(int64(plan.DecompressedRows())),
	)
	for _, rp := range plan.Relations {
		pr := rp.Pruning
		if pr == nil {
			fmt.Fprintf(os.Stderr, "  %s: plain table\n", rp.Relation.Name)
			continue
		}
		fmt.Fprintf(os.Stderr, "  %s: %s of %s chunks scanned via %s",
			rp.Relation.Name,
			humanize.Comma(int64(len(pr.Chunks))),
			humanize.Comma(int64(pr.Total)),
			rp.Path.Kind,
		)
		if len(pr.Derived) > 0 {
			fmt.Fprintf(os.Stderr, ", %d derived bound(s)", len(pr.Derived))
		}
		fmt.Fprintln(os.Stderr)
	}
}
