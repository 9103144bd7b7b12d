// Package main implements the aide-dash interactive dashboard.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"aide/internal/appversion"
	"aide/internal/logging"
	"aide/pkg/activity"
	"aide/pkg/config"
)

type dashConfig struct {
	dbPath   string
	user     string
	json     bool
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "aide-dash: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dc dashConfig

	cmd := &cobra.Command{
		Use:           "aide-dash",
		Short:         "Live dashboard over aide's activity, approvals and trust",
		Version:       fmt.Sprintf("aide-dash %s", appversion.String()),
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, dc)
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.Flags().StringVar(&dc.dbPath, "db", "", "state database (default $AIDE_HOME/state.db)")
	cmd.Flags().StringVar(&dc.user, "user", os.Getenv("AIDE_USER"), "only this user (default $AIDE_USER, empty for everyone)")
	cmd.Flags().BoolVar(&dc.json, "json", false, "print one JSON snapshot and exit")
	cmd.Flags().StringVar(&dc.logLevel, "log-level", "warn", "log level for $AIDE_HOME/aide-dash.log")

	return cmd
}

func run(cmd *cobra.Command, dc dashConfig) error {
	paths, err := config.ResolvePaths()
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	if dc.dbPath == "" {
		dc.dbPath = paths.StateDB
	}

	r, err := activity.NewReader(dc.dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	src := newSource(r, dc.user)

	if dc.json {
		return robotMode(cmd, src, cmd.OutOrStdout())
	}

	// The terminal belongs to the TUI, so logs go to a file.
	logger, err := logging.New(logging.Options{
		Level:       dc.logLevel,
		JSON:        true,
		OutputPaths: []string{filepath.Join(filepath.Dir(dc.dbPath), "aide-dash.log")},
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	watcher := newDBWatcher(dc.dbPath, logger)
	defer func() { _ = watcher.Close() }()

	p := tea.NewProgram(newModel(src, watcher, dc.user), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run dashboard: %w", err)
	}
	return nil
}

// robotMode writes one snapshot as JSON.
func robotMode(cmd *cobra.Command, src *source, w io.Writer) error {
	snap, err := src.load(cmd.Context())
	if err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
