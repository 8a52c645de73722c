package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v3"

	"github.com/civisearch/civisearch/pkg/config"
	"github.com/civisearch/civisearch/pkg/search"
)

var (
	searchTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("86")).
				Padding(0, 1)

	hitStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	scoreStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	noResultsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

// SearchCommand creates the search command
func SearchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Run a one-shot search against the corpus",
		ArgsUsage: "[query terms...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "section",
				Usage: "Corpus section to search (forms, questions, answers)",
				Value: "answers",
			},
			&cli.IntFlag{
				Name:  "page-size",
				Usage: "Maximum number of results per page",
			},
			&cli.StringFlag{
				Name:  "cursor",
				Usage: "Continuation cursor from a previous page",
			},
			&cli.StringFlag{
				Name:  "form-id",
				Usage: "Restrict results to one form",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print the raw JSON page instead of styled output",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			req := search.Request{
				Query:    strings.Join(c.Args().Slice(), " "),
				Section:  c.String("section"),
				Cursor:   c.String("cursor"),
				PageSize: c.Int("page-size"),
				FormID:   c.String("form-id"),
			}
			return searchCorpus(ctx, c.String("config"), req, c.Bool("json"))
		},
	}
}

func searchCorpus(ctx context.Context, configPath string, req search.Request, asJSON bool) error {
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

	service := newService(app, cfg, nil)

	page, err := service.Search(ctx, req)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	}

	printPage(page)
	return nil
}

func printPage(page *search.Page) {
	title := fmt.Sprintf("%s: %q", page.Section, page.Query)
	if page.Query == "" {
		title = fmt.Sprintf("%s: latest", page.Section)
	}
	fmt.Println(searchTitleStyle.Render(title))

	if len(page.Hits) == 0 {
		fmt.Println(noResultsStyle.Render("No results found"))
		return
	}

	for _, hit := range page.Hits {
		var b strings.Builder
		b.WriteString(hit.Title)
		if hit.Snippet != "" {
			b.WriteString("\n")
			b.WriteString(stripMarks(hit.Snippet))
		}
		b.WriteString("\n")
		if hit.Score > 0 {
			b.WriteString(scoreStyle.Render(fmt.Sprintf("%.4f", hit.Score)))
			b.WriteString("  ")
		}
		b.WriteString(metaStyle.Render(fmt.Sprintf("#%d · %s", hit.ID, formatTime(hit.SubmittedAt))))
		fmt.Println(hitStyle.Render(b.String()))
	}

	summary := fmt.Sprintf("%d results", len(page.Hits))
	if page.Cached {
		summary += " (cached)"
	}
	if page.Truncated {
		summary += " (fallback truncated)"
	}
	fmt.Println(metaStyle.Render(summary))

	if page.NextCursor != "" {
		fmt.Println(metaStyle.Render("next page: --cursor " + page.NextCursor))
	}
}

// stripMarks removes the snippet highlight tags for terminal output.
func stripMarks(s string) string {
	s = strings.ReplaceAll(s, "<mark>", "")
	return strings.ReplaceAll(s, "</mark>", "")
}
