package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/Strob0t/arbor/internal/config"
)

// runMigrate handles `arbor migrate [up|down|version]`.
func runMigrate(args []string) error {
	cmd := "up"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("migrate "+cmd, flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigFile, "path to YAML config")
	steps := fs.Int("steps", 1, "migrations to roll back (down only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()
	m, err := newMigrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer m.close()

	switch cmd {
	case "up":
		if err := m.up(ctx); err != nil {
			return err
		}
	case "down":
		if *steps < 1 {
			return fmt.Errorf("--steps must be >= 1")
		}
		if err := m.down(ctx, *steps); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate command: %s (want up, down or version)", cmd)
	}

	v, err := m.version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%s schema version %d\n", cfg.Store.Backend, v)
	return nil
}
