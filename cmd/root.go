package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brensch/jsonlpack/internal/config"
	"github.com/brensch/jsonlpack/internal/db"
	"github.com/brensch/jsonlpack/internal/walker"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
	"github.com/spf13/cobra"
)

var (
	// Config flags - bound in init()
	cfgFile     string
	rootDir     string
	outputDir   string
	dbPath      string
	catalogPath string
	logFormat   string
	logLevel    string
	logOutput   string

	// Global instances populated in PersistentPreRunE
	rootLogger *slog.Logger
	logLvl     slog.Level
	dbConn     *sql.DB
	appConfig  config.Config
)

// Exit codes returned by Execute.
const (
	exitFailure     = 1
	exitRootMissing = 2
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jsonlpack",
	Short: "Extract archives into numbered JSONL files, summarize and bundle them per folder.",
	Long: `jsonlpack walks a tree of archive folders, runs an external extraction tool on
every file, renames the extracted files to 1.jsonl, 2.jsonl, ... in a mirrored
output tree, writes a per-folder summary JSON and packs the record files into
<folder>.tar.gz. A DuckDB database tracks the event history of every run.

The primary command is 'run'. Other commands list folders, inspect bundles,
show run state, export the state log or analyse the folder catalog.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// --- 1. Initialize Logger ---
		logLvl = parseLevel(logLevel)
		w, err := openLogOutput(logOutput)
		if err != nil {
			return err
		}
		rootLogger = newLogger(w)
		slog.SetDefault(rootLogger)
		rootLogger.Debug("Logger initialized", "level", logLvl.String(), "format", logFormat, "output", logOutput)

		// --- 2. Load config file, then flag overrides ---
		if cfgFile != "" {
			loaded, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			appConfig = *loaded
		} else {
			appConfig = config.Config{}
			config.ApplyDefaults(&appConfig)
		}
		flags := cmd.Flags()
		if flags.Changed("root-dir") {
			appConfig.RootDir = rootDir
		}
		if flags.Changed("output-dir") {
			appConfig.OutputDir = outputDir
		}
		if flags.Changed("db-path") {
			appConfig.DbPath = dbPath
		}
		if flags.Changed("catalog") {
			appConfig.CatalogPath = catalogPath
		}
		if err := appConfig.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		rootLogger.Debug("Configuration loaded", slog.Any("config", appConfig))

		if appConfig.DbPath != ":memory:" {
			dbDir := filepath.Dir(appConfig.DbPath)
			if err := os.MkdirAll(dbDir, 0o755); err != nil {
				return fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}

		// --- 3. Initialize DuckDB Connection & Schema ---
		dsn := appConfig.DbPath
		if dsn == ":memory:" {
			dsn = ""
		}
		rootLogger.Debug("Initializing DuckDB connection", "path", appConfig.DbPath)
		dbConn, err = sql.Open("duckdb", dsn)
		if err != nil {
			return fmt.Errorf("failed to open duckdb database (%s): %w", appConfig.DbPath, err)
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err = dbConn.PingContext(pingCtx); err != nil {
			dbConn.Close()
			dbConn = nil
			return fmt.Errorf("failed to ping duckdb database (%s): %w", appConfig.DbPath, err)
		}
		if err := db.InitializeSchema(dbConn); err != nil {
			dbConn.Close()
			dbConn = nil
			return fmt.Errorf("failed to initialize database schema: %w", err)
		}
		rootLogger.Debug("Database schema initialized successfully.")
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		closeDB()
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(foldersCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(analyseCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(saveCmd)

	err := rootCmd.Execute()
	// PersistentPostRunE is skipped when RunE fails.
	closeDB()
	if err != nil {
		getLogger().Error("Command execution failed", "error", err)
		if errors.Is(err, walker.ErrRootMissing) {
			os.Exit(exitRootMissing)
		}
		os.Exit(exitFailure)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file; flags override its values")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "root-dir", "r", "", "Root directory of archive folders (default ./未清洗)")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output-dir", "o", "", "Output root mirroring the input tree (default ./output)")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db-path", "d", "", "Path to DuckDB state database file, :memory: for in-memory (default ./jsonlpack_state.duckdb)")
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "Folder catalog parquet file (default <output-dir>/catalog.parquet)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")

	rootCmd.Version = "0.1.0"
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openLogOutput resolves stderr, stdout or a file path opened for append.
func openLogOutput(dest string) (io.Writer, error) {
	switch strings.ToLower(dest) {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	}
	f, err := os.OpenFile(dest, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", dest, err)
	}
	return f, nil
}

func newLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLvl}
	if logFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// logsToTerminal reports whether log output shares the terminal.
func logsToTerminal() bool {
	switch strings.ToLower(logOutput) {
	case "", "stderr", "stdout":
		return true
	}
	return false
}

func closeDB() {
	if dbConn == nil {
		return
	}
	if err := dbConn.Close(); err != nil {
		getLogger().Error("Failed to close DuckDB connection cleanly", "error", err)
	}
	dbConn = nil
}

func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

func getDB() *sql.DB {
	return dbConn
}

func getConfig() config.Config {
	return appConfig
}
