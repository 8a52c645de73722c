package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/civisearch/civisearch/pkg/config"
	"github.com/civisearch/civisearch/pkg/db"
)

// OptimizeCommand creates the optimize command
func OptimizeCommand() *cli.Command {
	return &cli.Command{
		Name:  "optimize",
		Usage: "Run database maintenance (ANALYZE, PRAGMA optimize)",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "vacuum",
				Usage: "Also run VACUUM to defragment the database",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return optimizeDatabase(c.String("config"), c.Bool("vacuum"))
		},
	}
}

func optimizeDatabase(configPath string, vacuum bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	conn, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			fmt.Printf("Warning: failed to close database: %v\n", err)
		}
	}()

	if err := db.Optimize(conn); err != nil {
		return err
	}
	fmt.Println("Optimization complete")

	if vacuum {
		if _, err := conn.Exec("VACUUM"); err != nil {
			return fmt.Errorf("running VACUUM: %w", err)
		}
		fmt.Println("Vacuum complete")
	}

	return nil
}
