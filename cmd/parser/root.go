package main

import (
	"errors"
	"os"

	"github.com/SteelMorgan/dspace-editlog/internal/config"
	"github.com/SteelMorgan/dspace-editlog/internal/domain"
	"github.com/SteelMorgan/dspace-editlog/internal/observability"
	"github.com/SteelMorgan/dspace-editlog/internal/service"
	"github.com/SteelMorgan/dspace-editlog/internal/store"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// app is the state shared by all subcommands
type app struct {
	configPath string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "editlog-parser",
		Short: "Incremental parser of DSpace item update log lines",
		Long: `editlog-parser reads DSpace log files incrementally, extracts confirmed
item updates and records each (item, second) once. It is meant to be run
periodically by an external scheduler; overlapping invocations are skipped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load()
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("EDITLOG_CONFIG"),
		"Path to YAML configuration file (env EDITLOG_CONFIG)")

	run := newRunCmd(a)
	root.RunE = run.RunE
	root.Flags().AddFlagSet(run.Flags())

	root.AddCommand(run, newReportCmd(a), newStateCmd(a), newVersionCmd())
	return root
}

// load reads configuration and initializes logging
func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return &exitError{code: service.ExitConfigError, err: err}
	}
	a.cfg = cfg

	observability.InitLogger(cfg.LogLevel, cfg.LogFile)
	return nil
}

// backend builds the configured state store backend
func (a *app) backend() (store.Backend, error) {
	switch a.cfg.Store {
	case config.StorePostgres:
		pg, err := a.cfg.PostgresConfig()
		if err != nil {
			return nil, err
		}
		return store.NewPostgresBackend(pg, a.cfg.ParserName), nil
	default:
		return store.NewBoltBackend(a.cfg.StatePath), nil
	}
}

// failure wraps err with the exit code its class maps to
func failure(err error) error {
	if errors.Is(err, domain.ErrConfiguration) {
		return &exitError{code: service.ExitConfigError, err: err}
	}
	return &exitError{code: service.ExitFailed, err: err}
}
