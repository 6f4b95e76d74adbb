// Package cmd provides the CLI commands for oasysdb.
package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/oasysai/oasysdb/internal/config"
	"github.com/oasysai/oasysdb/internal/logging"
	"github.com/oasysai/oasysdb/pkg/database"
	"github.com/oasysai/oasysdb/pkg/vector"
)

// Version is the CLI version string.
const Version = "0.1.0"

var (
	flagDir    string
	flagConfig string
	flagDebug  bool

	cfg            config.Config
	loggingCleanup func()
)

// NewRootCmd creates the root command for the oasysdb CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oasysdb",
		Short: "Embedded vector database with HNSW search",
		Long: `oasysdb manages a directory of vector collections: dense float
vectors with JSON metadata, indexed for approximate nearest-neighbor
search.

Collections are created, filled, and queried entirely from the command
line:

  oasysdb create articles --metric cosine
  oasysdb insert articles --vector 0.1,0.9,0.3 --data '{"title":"intro"}'
  oasysdb search articles --vector 0.1,0.9,0.3 -k 5`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("oasysdb version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flagDir, "dir", "", "Database directory (overrides config)")
	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to yaml configuration file")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupEnvironment
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newCreateCmd())
	cmd.AddCommand(newInsertCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newDeleteRecordCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newInfoCmd())
	cmd.AddCommand(newDropCmd())

	return cmd
}

func setupEnvironment(*cobra.Command, []string) error {
	var err error
	if flagConfig != "" {
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
	}
	if flagDir != "" {
		cfg.DataDir = flagDir
	}

	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.FilePath,
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: cfg.Logging.WriteToStderr,
	}
	if logCfg.FilePath == "" {
		logCfg.FilePath = logging.DefaultLogPath()
	}
	if flagDebug {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}
	loggingCleanup, err = logging.SetupDefault(logCfg)
	return err
}

func openDatabase() (*database.Database, error) {
	return database.Open(cfg.DataDir, database.Options{
		CacheSize: cfg.Collections.CacheSize,
	})
}

// stdoutIsTTY switches between human-friendly and pipe-friendly
// output.
func stdoutIsTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// parseVectorFlag turns "0.1,0.9,0.3" into a vector.
func parseVectorFlag(s string) (vector.Vector, error) {
	parts := strings.Split(s, ",")
	v := make(vector.Vector, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		v = append(v, float32(f))
	}
	return v, nil
}

// parseIDArg parses a VectorID command argument.
func parseIDArg(s string) (vector.VectorID, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid vector id %q: %w", s, err)
	}
	return vector.VectorID(id), nil
}
