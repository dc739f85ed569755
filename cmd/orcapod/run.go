package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/brianarnold/orcapod/orcaconfig"
	"github.com/brianarnold/orcapod/orcaobs"
	"github.com/brianarnold/orcapod/pipeline"
	"github.com/brianarnold/orcapod/store"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <pipeline-config.yaml> [csv-source ...]",
		Short: "Run a pipeline sourced from one or more CSV files against a configured store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runPipeline(args[0], args[1:])
		},
	}
}

func runPipeline(configPath string, csvPaths []string) error {
	if err := orcaconfig.LoadConfig(filepath.Dir(configPath)); err != nil {
		return err
	}
	cfg := orcaconfig.Cfg

	shutdown, err := orcaobs.InitTracer(cfg.Pipeline.Name)
	if err != nil {
		return fmt.Errorf("run: init tracer: %w", err)
	}
	defer shutdown()
	if err := orcaobs.InitMeter(cfg.Pipeline.Name); err != nil {
		return fmt.Errorf("run: init meter: %w", err)
	}
	logger := orcaobs.NewLogger(orcaobs.WithLogLevel("info"))
	ctx := orcaobs.WithLogger(context.Background(), logger)

	st, err := store.New(cfg.Store.Backend, store.Config{Path: cfg.Store.Path, Options: cfg.Store.Options})
	if err != nil {
		return fmt.Errorf("run: building store %q: %w", cfg.Store.Backend, err)
	}

	pl := pipeline.New(cfg.Pipeline.Name, st)
	if cfg.Pipeline.MaxTraversalDepth > 0 {
		pl = pl.WithMaxTraversalDepth(cfg.Pipeline.MaxTraversalDepth)
	}
	pl.Open()
	defer pl.Close()

	names := make([]string, 0, len(csvPaths))
	for _, path := range csvPaths {
		s, name, err := loadCSVSource(path)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		if _, err := pl.Source(s, name); err != nil {
			return fmt.Errorf("run: registering source %q: %w", name, err)
		}
		names = append(names, name)
	}

	logger.Info(ctx, "starting pipeline run", "pipeline", cfg.Pipeline.Name, "store", cfg.Store.Backend)
	if err := pl.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	fp, err := pl.Fingerprint()
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	fmt.Printf("pipeline %q fingerprint %s\n", cfg.Pipeline.Name, fp)

	for _, name := range names {
		n, ok := pl.Node(name)
		if !ok {
			continue
		}
		t, err := n.Result()
		if err != nil {
			fmt.Printf("  %s: error: %v\n", name, err)
			continue
		}
		fmt.Printf("  %s: %d rows, fingerprint %s\n", name, t.NumRows(), n.Fingerprint())
	}
	return nil
}
