package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/scrypster/ide-memory/internal/config"
	"github.com/scrypster/ide-memory/internal/logging"
)

// flags holds raw command-line values. Only flags the user actually set are
// applied on top of the loaded configuration.
type flags struct {
	configPath  string
	database    string
	engine      string
	postgresDSN string
	metricsDB   string
	logLevel    string
	transport   string
	port        int
	metrics     bool
	stats       bool
	backupDir   string
	backupKeep  int
	verify      bool
}

// NewRootCmd builds the command tree. The root command serves.
func NewRootCmd(version string) *cobra.Command {
	f := &flags{}

	rootCmd := &cobra.Command{
		Use:   "ide-memory",
		Short: "Persistent knowledge memory for IDE assistants over MCP",
		Long: `ide-memory stores decisions, patterns, bug fixes and other project knowledge
in a local database and exposes it to an IDE assistant through the Model
Context Protocol (JSON-RPC 2.0 over stdio).`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, f)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "YAML configuration file (env: "+config.EnvConfigFile+")")
	pf.StringVarP(&f.database, "database", "d", "", "SQLite knowledge database path (default memory.db)")
	pf.StringVar(&f.engine, "engine", "", "storage engine: sqlite or postgres (default sqlite)")
	pf.StringVar(&f.postgresDSN, "postgres-dsn", "", "PostgreSQL connection string for the postgres engine")
	pf.StringVar(&f.metricsDB, "metrics-db", "", "metrics database path (default <database>_metrics.db)")
	pf.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error (default warn)")

	addServeFlags(rootCmd.Flags(), f)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP requests (the default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, f)
		},
	}
	addServeFlags(serveCmd.Flags(), f)

	rootCmd.AddCommand(serveCmd, newStatsCmd(f), newBackupCmd(f))
	return rootCmd
}

func addServeFlags(fs *pflag.FlagSet, f *flags) {
	fs.StringVarP(&f.transport, "transport", "t", "", "transport: stdio or http (default stdio)")
	fs.IntVarP(&f.port, "port", "p", 0, "port for the http transport (default 3000)")
	fs.BoolVar(&f.metrics, "metrics", true, "record request metrics")
	fs.BoolVar(&f.stats, "stats", false, "print server statistics as JSON and exit")
}

// loadConfig layers flags over file and environment configuration.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	set := cmd.Flags().Changed
	if set("database") {
		cfg.Storage.DatabasePath = f.database
	}
	if set("engine") {
		cfg.Storage.Engine = f.engine
	}
	if set("postgres-dsn") {
		cfg.Storage.PostgresDSN = f.postgresDSN
	}
	if set("metrics-db") {
		cfg.Metrics.DatabasePath = f.metricsDB
	}
	if set("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if cmd.Flags().Lookup("transport") != nil {
		if set("transport") {
			cfg.Server.Transport = f.transport
		}
		if set("port") {
			cfg.Server.Port = f.port
		}
		if set("metrics") {
			cfg.Metrics.Enabled = f.metrics
		}
	}
	if cmd.Flags().Lookup("dir") != nil {
		if set("dir") {
			cfg.Backup.Dir = f.backupDir
		}
		if set("keep") {
			cfg.Backup.Keep = f.backupKeep
		}
		if set("verify") {
			cfg.Backup.Verify = f.verify
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads the configuration and builds the stderr logger.
func setup(cmd *cobra.Command, f *flags) (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
