package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/danielpatrickdp/roomtrust/internal/actions"
	"github.com/danielpatrickdp/roomtrust/internal/config"
	"github.com/danielpatrickdp/roomtrust/internal/gate"
	"github.com/danielpatrickdp/roomtrust/internal/ledger"
	"github.com/danielpatrickdp/roomtrust/internal/logging"
	"github.com/danielpatrickdp/roomtrust/internal/state"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// #region main
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region app
// app holds the engine opened for one command invocation.
type app struct {
	store   *state.SQLiteStore
	ledger  *ledger.Ledger
	actions *actions.Handlers
	jsonOut bool
	out     io.Writer
}

type rootFlags struct {
	configPath string
	dbPath     string
	jsonOut    bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	var a *app

	root := &cobra.Command{
		Use:           "trustctl",
		Short:         "Inspect and administer roomtrust scores",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opened, err := openApp(flags, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			a = opened
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a == nil {
				return nil
			}
			return a.store.Close()
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", os.Getenv("ROOMTRUST_CONFIG"), "path to config file")
	root.PersistentFlags().StringVar(&flags.dbPath, "db", "", "path to the SQLite database (overrides config)")
	root.PersistentFlags().BoolVar(&flags.jsonOut, "json", false, "output as JSON instead of table")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log engine activity to stderr")

	get := func() *app { return a }
	root.AddCommand(
		newCreateUserCmd(get),
		newApplyCmd(get),
		newHistoryCmd(get),
		newRestrictionsCmd(get),
		newResetCmd(get),
		newCompleteCmd(get),
		newDisputeCmd(get),
		newSweepCmd(get),
	)
	return root
}

func openApp(flags rootFlags, out io.Writer) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.dbPath != "" {
		cfg.DBPath = flags.dbPath
	}

	logger := zap.NewNop()
	if flags.verbose {
		lc := logging.DefaultConfig()
		lc.Level = "debug"
		lc.Format = "console"
		if logger, err = logging.NewLogger(lc); err != nil {
			return nil, err
		}
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := state.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		store.Close()
		return nil, err
	}

	l := ledger.New(store, cfg.Ledger, ledger.WithLogger(logger), ledger.WithGate(gate.NewGate(cfg.Gate)))
	h := actions.New(l, store, actions.Config{Location: loc}, actions.WithLogger(logger))
	return &app{store: store, ledger: l, actions: h, jsonOut: flags.jsonOut, out: out}, nil
}

// emit writes v as indented JSON when --json is set, otherwise calls table.
func (a *app) emit(v any, table func(w io.Writer)) error {
	if a.jsonOut {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	table(a.out)
	return nil
}

// #endregion app
