// Package main implements the tsplan binary: chunk pruning and
// compressed-scan cost estimates for hypertable statements, from the
// command line or over HTTP.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/h0rn3t/timescaledb/internal/config"
	"github.com/h0rn3t/timescaledb/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

// globals are the flags shared by every command.
type globals struct {
	configFile string
	envFiles   []string
	dataDir    string
	catalog    string
	logLevel   string
}

// load builds the configuration from defaults, the config file, .env
// files, the environment and finally the command line.
func (g *globals) load() (*config.Config, error) {
	if err := config.LoadDotEnv(g.envFiles...); err != nil {
		return nil, err
	}

	cfg := config.DefaultConfig()
	if g.configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(g.configFile); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)

	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	if g.catalog != "" {
		cfg.Catalog.Path = g.catalog
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	return cfg, nil
}

// logger builds the process logger. Logs go to stderr so command output
// on stdout stays clean.
func (g *globals) logger(cfg *config.Config) (*slog.Logger, func(), error) {
	return logging.Setup(cfg.Logging, os.Stderr)
}

func main() {
	app := kingpin.New("tsplan", "Chunk pruning and compressed-scan costing for hypertable statements.")
	app.Version(fmt.Sprintf("tsplan version %s (commit: %s)", version, commit))
	app.HelpFlag.Short('h')

	g := &globals{}
	app.Flag("config", "Path to configuration file (YAML or JSON).").Short('c').StringVar(&g.configFile)
	app.Flag("env-file", "Load environment variables from this file; may be repeated.").Default(".env").StringsVar(&g.envFiles)
	app.Flag("data-dir", "Base directory for the catalog database and snapshots.").StringVar(&g.dataDir)
	app.Flag("catalog", "Path to the SQLite catalog database.").StringVar(&g.catalog)
	app.Flag("log-level", "Log level: debug, info, warn or error.").EnumVar(&g.logLevel, "debug", "info", "warn", "error")

	addExplainCommand(app, g)
	addServeCommand(app, g)
	addCatalogCommands(app, g)

	kingpin.MustParse(app.Parse(os.Args[1:]))
}
