package main

import (
	"context"

	"github.com/SteelMorgan/dspace-editlog/internal/clickhouse"
	"github.com/SteelMorgan/dspace-editlog/internal/config"
	"github.com/SteelMorgan/dspace-editlog/internal/observability"
	"github.com/SteelMorgan/dspace-editlog/internal/service"
	"github.com/SteelMorgan/dspace-editlog/internal/writer"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type runFlags struct {
	logGlob    string
	parserName string
	dryRun     bool
}

func newRunCmd(a *app) *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scan log files once and record new item updates (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.apply(cmd, a.cfg); err != nil {
				return failure(err)
			}
			return a.run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&f.logGlob, "log-glob", "", "Glob of log files to scan (env DSPACE_EDIT_LOG_GLOB)")
	cmd.Flags().StringVar(&f.parserName, "parser-name", "", "State namespace (env EDITLOG_PARSER_NAME)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Scan and report without writing (env EDITLOG_DRY_RUN)")
	return cmd
}

// apply overrides cfg with the flags that were set explicitly
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("log-glob") {
		cfg.LogGlob = f.logGlob
	}
	if cmd.Flags().Changed("parser-name") {
		cfg.ParserName = f.parserName
	}
	if cmd.Flags().Changed("dry-run") {
		cfg.DryRun = f.dryRun
	}
	return cfg.Validate()
}

func (a *app) run(ctx context.Context) error {
	cfg := a.cfg

	shutdown, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName:    "dspace-editlog",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		Protocol:       cfg.OTLPProtocol,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	} else {
		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				log.Warn().Err(err).Msg("Failed to flush traces")
			}
		}()
	}

	loc, err := cfg.Location()
	if err != nil {
		return failure(err)
	}

	backend, err := a.backend()
	if err != nil {
		return failure(err)
	}
	defer backend.Close()

	var opts []service.CoordinatorOption
	if mirror := openMirror(ctx, cfg); mirror != nil {
		defer mirror.Close()
		opts = append(opts, service.WithMirror(mirror))
	}

	log.Info().
		Str("version", version).
		Str("store", backend.Name()).
		Str("parser", cfg.ParserName).
		Msg("Starting DSpace edit log parser")

	summary := service.NewRunCoordinator(backend, service.Options{
		LogGlob:        cfg.LogGlob,
		ParserName:     cfg.ParserName,
		DryRun:         cfg.DryRun,
		Location:       loc,
		Retry:          cfg.Retry(),
		PushgatewayURL: cfg.PushgatewayURL,
	}, opts...).Run(ctx)

	if code := service.ExitCode(summary); code != service.ExitOK {
		return &exitError{code: code, err: summary.Err}
	}
	return nil
}

// openMirror connects the optional ClickHouse mirror; failures only disable it
func openMirror(ctx context.Context, cfg *config.Config) writer.EventMirror {
	if !cfg.ClickHouseMirror || cfg.DryRun {
		return nil
	}

	client, err := clickhouse.NewClient(ctx, clickhouse.Options{
		Host:     cfg.ClickHouseHost,
		Port:     cfg.ClickHousePort,
		Database: cfg.ClickHouseDB,
	}, cfg.Retry())
	if err != nil {
		log.Warn().Err(err).Msg("ClickHouse mirror unavailable, continuing without it")
		return nil
	}

	mirror, err := writer.NewClickHouseMirror(ctx, client)
	if err != nil {
		client.Close()
		log.Warn().Err(err).Msg("ClickHouse mirror unavailable, continuing without it")
		return nil
	}
	return mirror
}
