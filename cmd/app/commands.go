package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/starford/marginalia/internal/apperr"
	"github.com/starford/marginalia/internal/marginalia"
	"github.com/starford/marginalia/internal/mcpserver"
	"github.com/starford/marginalia/internal/models"
)

var (
	dimStyle     = lipgloss.NewStyle().Faint(true)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#e5484d")).Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

// colorStyle renders text in an annotation's colour. Named colours that are
// not hex codes fall back to the terminal default.
func colorStyle(color string) lipgloss.Style {
	if strings.HasPrefix(color, "#") {
		return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
	}
	return lipgloss.NewStyle()
}

func location(a models.Annotation) string {
	return fmt.Sprintf("%s:%d", a.Document, a.Line+1)
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Scan the vault and list annotations",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "document", Aliases: []string{"d"}, Usage: "Only list this document"},
			&cli.BoolFlag{Name: "flashcards", Usage: "Only list flashcards"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			app, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			snap, err := app.Service.Snapshot(ctx)
			if err != nil {
				return err
			}
			anns, err := app.Service.Annotations(ctx, marginalia.Filter{
				Document:   cmd.String("document"),
				Flashcards: cmd.Bool("flashcards"),
			})
			if err != nil {
				return err
			}

			current := ""
			for _, a := range anns {
				if a.Document != current {
					current = a.Document
					fmt.Println(headerStyle.Render(current))
				}
				id := ""
				if a.HasIdentity() {
					id = " ^" + a.Identity
				}
				fmt.Printf("  %s %s%s\n",
					dimStyle.Render(fmt.Sprintf("%4d", a.Line+1)),
					colorStyle(a.Color).Render(a.CleanText),
					dimStyle.Render(id))
			}
			for _, f := range snap.Failures {
				fmt.Println(failureStyle.Render("failed: " + f.Document + ": " + f.Error))
			}
			fmt.Println(dimStyle.Render(fmt.Sprintf("%d annotations in %d documents",
				len(snap.Annotations), len(snap.Documents))))
			return nil
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Full-text search over annotation text",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "Maximum results"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			query := strings.Join(cmd.Args().Slice(), " ")
			if query == "" {
				return fmt.Errorf("search: query is required")
			}
			app, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			results, err := app.Service.Search(ctx, query, int(cmd.Int("limit")))
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Printf("%s %s\n",
					dimStyle.Render(fmt.Sprintf("%s:%d", r.Document, r.Line+1)),
					colorStyle(r.Color).Render(r.Snippet))
			}
			if len(results) == 0 {
				fmt.Println(dimStyle.Render("no matches"))
			}
			return nil
		},
	}
}

func dueCommand() *cli.Command {
	return &cli.Command{
		Name:  "due",
		Usage: "List flashcards due for review",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			app, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			cards, err := app.Service.Due(ctx)
			if err != nil {
				return err
			}
			if len(cards) == 0 {
				fmt.Println(dimStyle.Render("nothing due"))
				return nil
			}
			now := time.Now()
			for _, c := range cards {
				when := "never reviewed"
				if !c.Review.State.LastReviewed.IsZero() {
					when = "reviewed " + humanize.RelTime(c.Review.State.LastReviewed, now, "ago", "from now") +
						", due " + humanize.RelTime(c.Review.NextDue, now, "ago", "from now")
				}
				fmt.Printf("^%s %s %s\n", c.Identity,
					colorStyle(c.Color).Render(c.CleanText),
					dimStyle.Render("("+when+", "+location(c.Annotation)+")"))
			}
			return nil
		},
	}
}

func gradeCommand() *cli.Command {
	return &cli.Command{
		Name:      "grade",
		Usage:     "Record a review grade (hard, good, easy)",
		ArgsUsage: "<id> <grade>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return fmt.Errorf("grade: expected <id> <grade>")
			}
			app, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			id := strings.TrimPrefix(cmd.Args().Get(0), "^")
			st, err := app.Service.Grade(ctx, id, cmd.Args().Get(1))
			if err != nil {
				return err
			}
			next := st.LastReviewed.Add(time.Duration(st.Interval * 24 * float64(time.Hour)))
			fmt.Printf("^%s next review %s (interval %s days, ease %.2f)\n",
				id, humanize.Time(next), humanize.Ftoa(st.Interval), st.Ease)
			return nil
		},
	}
}

func stitchCommand() *cli.Command {
	return &cli.Command{
		Name:  "stitch",
		Usage: "Link source annotations to target annotations",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "source", Aliases: []string{"s"}, Usage: "Source key (repeatable)"},
			&cli.StringSliceFlag{Name: "target", Aliases: []string{"t"}, Usage: "Target key (repeatable)"},
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Confirm batches of more than one link"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			app, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			sources, targets := cmd.StringSlice("source"), cmd.StringSlice("target")
			report, err := app.Service.Stitch(ctx, sources, targets, cmd.Bool("yes"))
			if errors.Is(err, apperr.ErrConfirmationRequired) {
				return fmt.Errorf("stitch: %d links requested, re-run with --yes to confirm",
					len(sources)*len(targets))
			}
			if err != nil {
				return err
			}
			fmt.Printf("linked %d, skipped %d, failed %d\n", report.Linked, report.Skipped, report.Failed)
			for _, f := range report.Failures {
				fmt.Println(failureStyle.Render(f.Source + " → " + f.Target + ": " + f.Error))
			}
			return nil
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve MCP tools over stdio",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			app, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			fmt.Fprintln(os.Stderr, "marginalia: MCP server on stdio")
			return mcpserver.New(app.Service).ServeStdio()
		},
	}
}
