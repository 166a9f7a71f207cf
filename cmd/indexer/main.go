// Command indexer builds the bulletin index snapshot from CSV dumps.
//
// Usage:
//
//	indexer [--config configs/development.yaml] build [--source-dir csv] [--snapshot docs/index.json]
//	indexer ensure-utf8 [DIR|FILE...]
//	indexer tag TEXT
//	indexer history [--limit 10]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/indexer/ledger"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/indexer/normalize"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/internal/indexer/tagger"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Municipal-Bulletin-Search/pkg/postgres"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "indexer: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "indexer",
		Usage: "Build the municipal bulletin search index",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file",
				EnvVars: []string{"MB_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Override logging level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "build",
				Usage:  "Normalise, tag and snapshot every CSV in the source directory",
				Action: buildCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source-dir", Usage: "Directory holding bulletin CSV files"},
					&cli.StringFlag{Name: "snapshot", Usage: "Path of the JSON snapshot to write"},
					&cli.IntFlag{Name: "workers", Usage: "Concurrent tag extractions"},
					&cli.StringFlag{Name: "tagger-mode", Usage: "Tag extractor mode (command, llm, none)"},
				},
			},
			{
				Name:      "ensure-utf8",
				Usage:     "Rewrite non-UTF-8 CSV files as UTF-8 in place",
				ArgsUsage: "[DIR|FILE...]",
				Action:    ensureUTF8Command,
			},
			{
				Name:      "tag",
				Usage:     "Run the tag extractor on one text and print the result",
				ArgsUsage: "TEXT (reads stdin when omitted)",
				Action:    tagCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "tagger-mode", Usage: "Tag extractor mode (command, llm, none)"},
				},
			},
			{
				Name:   "history",
				Usage:  "List recent builds from the build ledger",
				Action: historyCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "Number of builds to show", Value: 10},
				},
			},
		},
	}
}

// loadConfig reads the config named by --config and applies command-line
// overrides, then configures logging on stderr.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if c.IsSet("source-dir") {
		cfg.Index.SourceDir = c.String("source-dir")
	}
	if c.IsSet("snapshot") {
		cfg.Index.SnapshotPath = c.String("snapshot")
	}
	if c.IsSet("workers") {
		cfg.Index.Workers = c.Int("workers")
	}
	if c.IsSet("tagger-mode") {
		cfg.Tagger.Mode = c.String("tagger-mode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.SetupWriter(c.App.ErrWriter, "indexer", cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

func buildCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	extractor, err := tagger.FromConfig(cfg.Tagger)
	if err != nil {
		return err
	}

	var recorders []indexer.Recorder
	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("build ledger unavailable, continuing without it", "error", err)
		} else {
			defer db.Close()
			l := ledger.New(db)
			if err := l.EnsureSchema(c.Context); err != nil {
				slog.Warn("build ledger schema setup failed", "error", err)
			} else {
				recorders = append(recorders, l)
			}
		}
	}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
		recorders = append(recorders, indexer.NewCompletionNotifier(producer))
	}

	slog.Info("starting index build",
		"source_dir", cfg.Index.SourceDir,
		"snapshot", cfg.Index.SnapshotPath,
		"workers", cfg.Index.Workers,
		"tagger_mode", cfg.Tagger.Mode,
	)
	res, err := indexer.NewBuilder(cfg.Index, extractor, recorders...).Run(c.Context)
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, map[string]any{
		"snapshot":        res.SnapshotPath,
		"checksum":        res.Checksum,
		"files":           res.Files,
		"entries":         len(res.Entries),
		"model_tagged":    res.ModelTagged,
		"fallbacks":       res.Fallbacks,
		"empty":           res.Empty,
		"converted_files": res.ConvertedFiles,
		"duration_ms":     res.Duration().Milliseconds(),
	})
}

func ensureUTF8Command(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	targets := c.Args().Slice()
	if len(targets) == 0 {
		targets = []string{cfg.Index.SourceDir}
	}

	for _, target := range targets {
		info, err := os.Stat(target)
		if err != nil {
			return fmt.Errorf("ensure-utf8: %w", err)
		}
		var changed []string
		if info.IsDir() {
			changed, err = normalize.EnsureDir(target)
		} else {
			var ok bool
			ok, err = normalize.EnsureUTF8(target)
			if ok {
				changed = []string{target}
			}
		}
		for _, f := range changed {
			fmt.Fprintf(c.App.Writer, "converted %s\n", f)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func tagCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	text := strings.Join(c.Args().Slice(), " ")
	if text == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		text = string(data)
	}
	extractor, err := tagger.FromConfig(cfg.Tagger)
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, extractor.Extract(c.Context, text))
}

func historyCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if !cfg.Postgres.Enabled {
		return fmt.Errorf("history: postgres is not enabled in the config")
	}
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	builds, err := ledger.New(db).Recent(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	return writeJSON(c.App.Writer, builds)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
