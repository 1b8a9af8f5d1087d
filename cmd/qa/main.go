package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/policyqa/backend/internal/bootstrap"
	"github.com/policyqa/backend/internal/evaluation"
	"github.com/policyqa/backend/internal/learning"
	"github.com/policyqa/backend/internal/query"
	"github.com/policyqa/backend/internal/storage/models"
	"github.com/policyqa/backend/internal/storage/sqlite"
	"github.com/policyqa/backend/pkg/config"
	appLogger "github.com/policyqa/backend/pkg/logger"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "qa",
		Usage: "Ask the policy manual and inspect the review loop",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ask",
				Usage:     "Answer one question through the full pipeline",
				ArgsUsage: "<question>",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "user",
						Usage: "User id recorded with the question",
						Value: "cli",
					},
					&cli.StringFlag{
						Name:  "case",
						Usage: "Case id recorded with the question",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the full response as JSON",
					},
				},
			},
			{
				Name:   "eval",
				Usage:  "Replay a golden question set and report answer quality",
				Action: evalCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "dataset",
						Usage:    "Path to the YAML question set",
						Required: true,
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Print learning statistics from the correction log",
				Action: statsCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "db",
						Aliases: []string{"d"},
						Usage:   "Path to the learning log directory (defaults to learning.path)",
					},
					&cli.IntFlag{
						Name:  "top",
						Usage: "Number of misclassification patterns to show",
						Value: 10,
					},
				},
			},
			{
				Name:   "reviews",
				Usage:  "List review items",
				Action: reviewsCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "db",
						Aliases: []string{"d"},
						Usage:   "Path to the SQLite database (defaults to sqlite.path)",
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "Filter by status (pending, in_review, approved, rejected, needs_revision)",
						Value: string(models.ReviewPending),
					},
					&cli.StringFlag{
						Name:  "priority",
						Usage: "Filter by priority (high, medium)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum items to list",
						Value: 20,
					},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	level := strings.ToLower(c.String("log-level"))
	switch level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", level)
	}
	return appLogger.Init(level, "console", "stderr")
}

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("a question is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	pipeline, err := bootstrap.Build(startCtx, cfg, bootstrap.Options{WithoutLearning: true})
	cancel()
	if err != nil {
		return err
	}
	defer pipeline.Close()

	resp, err := pipeline.Engine.Answer(ctx, query.QueryRequest{
		Question: question,
		UserID:   c.String("user"),
		CaseID:   c.String("case"),
	})
	if err != nil {
		return err
	}

	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printAnswer(c, resp)
	return nil
}

func printAnswer(c *cli.Context, resp *query.QueryResponse) {
	w := c.App.Writer
	if resp.Failure != nil {
		fmt.Fprintf(w, "Status: %s (%s)\n", resp.Status, resp.Failure.Reason)
	} else {
		fmt.Fprintf(w, "%s\n\n", resp.Answer)
		fmt.Fprintf(w, "Status: %s\n", resp.Status)
	}
	fmt.Fprintf(w, "Intent: %s (%.2f)\n", resp.Intent.Label, resp.Intent.Confidence)
	fmt.Fprintf(w, "Confidence: %.2f\n", resp.Confidence)
	if len(resp.Citations) > 0 {
		fmt.Fprintf(w, "Citations: %s\n", strings.Join(resp.Citations, ", "))
	}
	if resp.ReviewID != "" {
		fmt.Fprintf(w, "Queued for review: %s\n", resp.ReviewID)
	}
}

func evalCommand(c *cli.Context) error {
	dataset, err := evaluation.LoadDataset(c.String("dataset"))
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	pipeline, err := bootstrap.Build(startCtx, cfg, bootstrap.Options{WithoutLearning: true})
	cancel()
	if err != nil {
		return err
	}
	defer pipeline.Close()

	report, err := evaluation.NewEvaluator(pipeline.Engine, pipeline.LLM).Run(ctx, dataset)
	if err != nil {
		return err
	}

	fmt.Fprint(c.App.Writer, evaluation.FormatReport(report))
	return nil
}

func statsCommand(c *cli.Context) error {
	path := c.String("db")
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		path = cfg.Learning.Path
	}

	samples, err := learning.OpenBadgerLog(path)
	if err != nil {
		return fmt.Errorf("failed to open learning log: %w", err)
	}
	tracker := learning.NewTracker(samples, 0, c.Int("top"))
	defer tracker.Close()

	stats, err := tracker.Stats(c.Context)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Samples: %d\n", stats.SampleCount)
	fmt.Fprintf(w, "Distinct patterns: %d\n", stats.PatternCount)
	for _, p := range stats.TopPatterns {
		fmt.Fprintf(w, "  %s -> %s: %d\n", p.From, p.To, p.Count)
	}
	return nil
}

func reviewsCommand(c *cli.Context) error {
	path := c.String("db")
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		path = cfg.SQLite.Path
	}

	status := models.ReviewStatus(c.String("status"))
	if status != "" && !status.Valid() {
		return fmt.Errorf("unknown status %q", status)
	}

	client, err := sqlite.NewClient(path)
	if err != nil {
		return err
	}
	defer client.Close()

	items, err := client.ListReviewItems(c.Context, models.ReviewFilter{
		Status:   status,
		Priority: models.ReviewPriority(c.String("priority")),
		Limit:    c.Int("limit"),
	})
	if err != nil {
		return err
	}

	w := c.App.Writer
	for _, item := range items {
		fmt.Fprintf(w, "%s  %-6s  %-14s  %.2f  %s\n", item.ID, item.Priority, item.Status, item.Confidence, item.Question)
	}
	fmt.Fprintf(w, "%d item(s)\n", len(items))
	return nil
}
