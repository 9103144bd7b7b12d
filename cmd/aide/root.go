package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"aide/internal/appversion"
	"aide/internal/logging"
	"aide/pkg/config"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	dbPath     string
	logLevel   string
	logJSON    bool
}

// env is resolved once per invocation by the root PersistentPreRunE and
// shared by every subcommand.
type env struct {
	flags  globalFlags
	paths  config.Paths
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates the root aide command with all subcommands attached.
func newRootCmd() *cobra.Command {
	e := &env{logger: zap.NewNop()}

	cmd := &cobra.Command{
		Use:           "aide",
		Short:         "Supervised personal assistant",
		Long:          "aide routes requests to email, calendar, research and briefing agents.\nRisky actions wait for your approval until the agent has earned trust.",
		Version:       fmt.Sprintf("aide %s", appversion.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = e.logger.Sync()
		},
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&e.flags.configPath, "config", "", "config file (default $AIDE_HOME/config.yaml)")
	pf.StringVar(&e.flags.dbPath, "db", "", "state database (default $AIDE_HOME/state.db)")
	pf.StringVar(&e.flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.BoolVar(&e.flags.logJSON, "log-json", false, "emit JSON logs")

	cmd.AddCommand(
		newServeCmd(e),
		newAskCmd(e),
		newApprovalsCmd(e),
		newTrustCmd(e),
		newActivityCmd(e),
		newVersionCmd(),
	)

	return cmd
}

// load resolves paths, reads the .env file and config, and builds the logger.
func (e *env) load() error {
	paths, err := config.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	if e.flags.configPath != "" {
		paths.ConfigFile = e.flags.configPath
	}
	if e.flags.dbPath != "" {
		paths.StateDB = e.flags.dbPath
	}
	e.paths = paths

	if err := godotenv.Load(paths.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", paths.EnvFile, err)
	}

	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return err
	}
	if e.flags.logLevel != "" {
		cfg.Log.Level = e.flags.logLevel
	}
	if e.flags.logJSON {
		cfg.Log.JSON = true
	}
	e.cfg = cfg

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	if err != nil {
		return err
	}
	e.logger = logger
	return nil
}
