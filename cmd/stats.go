package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/civisearch/civisearch/pkg/config"
	"github.com/civisearch/civisearch/pkg/core"
)

// StatsCommand creates the stats command
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show corpus, search and cache statistics",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "top",
				Usage: "Number of top queries to show",
				Value: 10,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return showStats(ctx, c.String("config"), c.Int("top"))
		},
	}
}

func showStats(ctx context.Context, configPath string, top int) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	fmt.Println(searchTitleStyle.Render("Corpus"))
	corpus := app.Corpus()
	for _, section := range []core.Section{core.SectionForms, core.SectionQuestions, core.SectionAnswers} {
		n, err := corpus.SectionCount(section)
		if err != nil {
			return fmt.Errorf("counting %s: %w", section, err)
		}
		fmt.Printf("  %-10s %s\n", section, formatNumber(n))
	}

	cached, err := app.CacheStore.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting cached pages: %w", err)
	}
	fmt.Println(searchTitleStyle.Render("Cache"))
	fmt.Printf("  cached pages: %s\n", formatNumber(cached))

	queries, err := app.Tracker.TopQueries(ctx, top)
	if err != nil {
		return fmt.Errorf("reading top queries: %w", err)
	}

	fmt.Println(searchTitleStyle.Render("Top queries"))
	if len(queries) == 0 {
		fmt.Println(noResultsStyle.Render("  no searches recorded yet"))
		return nil
	}
	for i, q := range queries {
		label := q.QueryText
		if label == "" {
			label = "(empty query)"
		}
		fmt.Printf("  %2d. %-40s %6s  %s\n", i+1, label, formatNumber(q.Count), metaStyle.Render(formatTime(q.LastSeen)))
	}

	return nil
}
