package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"

	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/book"
	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/config"
	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/manifest"
	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/markup"
	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/pipeline"
	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/session"
	"github.com/ghyman-oreilly/generate-alt-text-for-book-repo/internal/vision"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	app := &cli.Command{
		Name:            "alttext",
		Usage:           "generate and embed alt text for images in a book repo",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "load configuration from `FILE` (YAML)"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "enable debug logging"},
		},
		Commands: []*cli.Command{
			{
				Name:      "generate",
				Usage:     "Scan the chapters listed in MANIFEST and fill in image alt text",
				Action:    runGenerate,
				ArgsUsage: "MANIFEST",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "skip-existing-alt-text",
						Usage: "leave images that already have alt text alone"},
					&cli.StringFlag{Name: "image-file-filter",
						Usage: "only process image files named in `FILE` (newline-delimited .txt)"},
					&cli.StringFlag{Name: "load-session",
						Usage: "resume from a session snapshot `FILE` (.json)"},
					&cli.StringFlag{Name: "update-from-csv",
						Usage: "apply corrected alt text from a review `FILE` (.csv) instead of generating"},
					&cli.BoolFlag{Name: "dry-run",
						Usage: "report what would be processed without generating or writing anything"},
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"},
						Usage: "skip interactive confirmation prompts"},
				},
			},
			{
				Name:   "dumpconfig",
				Usage:  "Print the active configuration (YAML)",
				Action: runDumpConfig,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "default",
						Usage: "print the built-in defaults, ignoring --config and the environment"},
				},
			},
		},
	}

	var err error
	defer func() {
		stop()
		if err != nil {
			fmt.Fprintf(os.Stderr, "alttext: %v\n", err)
			os.Exit(1)
		}
	}()
	err = app.Run(ctx, os.Args)
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runGenerate(ctx context.Context, cmd *cli.Command) error {
	log := newLogger(cmd.Bool("verbose"))

	// Secrets may live in a .env file next to where the tool is invoked.
	_ = godotenv.Load()

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cmd.NArg() != 1 {
		return fmt.Errorf("expected exactly one MANIFEST argument, got %d", cmd.NArg())
	}
	manifestPath, err := filepath.Abs(cmd.Args().Get(0))
	if err != nil {
		return fmt.Errorf("resolve manifest path: %w", err)
	}

	sessionPath := cmd.String("load-session")
	csvPath := cmd.String("update-from-csv")
	if sessionPath != "" && csvPath != "" {
		return fmt.Errorf("--load-session and --update-from-csv cannot be combined")
	}
	if sessionPath != "" && !strings.EqualFold(filepath.Ext(sessionPath), ".json") {
		return fmt.Errorf("session file must be a .json file: %s", sessionPath)
	}
	if csvPath != "" && !strings.EqualFold(filepath.Ext(csvPath), ".csv") {
		return fmt.Errorf("review file must be a .csv file: %s", csvPath)
	}

	dryRun := cmd.Bool("dry-run")
	assumeYes := cmd.Bool("yes")

	if !dryRun && !assumeYes {
		if !confirm("This tool edits chapter files in place. It should only be run in a clean Git repo. Do you wish to continue (y/n)? ") {
			fmt.Println("Exiting!")
			return nil
		}
	}

	chapterPaths, err := manifest.Load(manifestPath)
	if err != nil {
		return err
	}
	projectDir := filepath.Dir(manifestPath)

	var allowlist []string
	if filterPath := cmd.String("image-file-filter"); filterPath != "" {
		allowlist, err = readAllowlist(filterPath)
		if err != nil {
			return err
		}
		if sessionPath != "" {
			log.Warn("--image-file-filter has no effect when resuming from a session")
		} else if !assumeYes {
			prompt := fmt.Sprintf("Permitted image filenames based on your filter file include the following:\n%s\nDo you wish to continue (y/n)? ",
				strings.Join(allowlist, "\n"))
			if !confirm(prompt) {
				fmt.Println("Exiting!")
				return nil
			}
		}
	}

	var loaded []*book.Chapter
	if sessionPath != "" {
		loaded, err = session.ReadSnapshot(sessionPath)
		if err != nil {
			return err
		}
		log.Info("loaded session", "chapters", len(loaded))
	}

	var corrections map[string]string
	if csvPath != "" {
		corrections, err = session.ReadReviewCSV(csvPath)
		if err != nil {
			return err
		}
		log.Info("loaded review corrections", "rows", len(corrections))
	}

	adoc := &markup.Asciidoctor{Command: cfg.AsciidoctorCommand, TemplatesDir: cfg.TemplatesDir}
	converters := map[book.Format]markup.Converter{
		book.FormatAsciidoc: adoc,
		book.FormatMarkdown: markup.Markdown{},
	}
	if loaded == nil && hasAsciidocChapters(chapterPaths) {
		fmt.Println("Project contains asciidoc files. Chapters are converted to HTML in memory; the asciidoc files themselves are not modified.")
		if err := adoc.CheckInstalled(ctx); err != nil {
			return err
		}
	}

	var gen vision.Generator
	if corrections == nil && !dryRun {
		if err := cfg.CheckAPIKey(); err != nil {
			return err
		}
		client := vision.NewClient(vision.Options{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Detail:  cfg.Detail,
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
		defer client.Close()
		gen = client
	}

	runner := pipeline.NewRunner(gen, converters, cfg, log)
	return runner.Run(ctx, pipeline.Options{
		ProjectDir:      projectDir,
		ChapterPaths:    chapterPaths,
		SkipExistingAlt: cmd.Bool("skip-existing-alt-text"),
		Allowlist:       allowlist,
		DryRun:          dryRun,
		Session:         loaded,
		Corrections:     corrections,
	})
}

func runDumpConfig(ctx context.Context, cmd *cli.Command) error {
	cfg := config.Default()
	if !cmd.Bool("default") {
		_ = godotenv.Load()
		var err error
		cfg, err = config.Load(cmd.String("config"))
		if err != nil {
			return err
		}
	}
	return cfg.Dump(os.Stdout)
}

func confirm(prompt string) bool {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// readAllowlist parses a newline-delimited list of image file names. Blank
// lines and # comments are ignored; a filter that names no files at all is
// rejected rather than silently processing everything.
func readAllowlist(path string) ([]string, error) {
	if !strings.EqualFold(filepath.Ext(path), ".txt") {
		return nil, fmt.Errorf("image file filter must be a .txt file: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image file filter: %w", err)
	}
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("image file filter %s names no files", path)
	}
	return names, nil
}

func hasAsciidocChapters(paths []string) bool {
	for _, p := range paths {
		if book.DetectFormat(p) == book.FormatAsciidoc {
			return true
		}
	}
	return false
}
