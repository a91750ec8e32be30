// Package main is the recall CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/apperr"
	"github.com/hyperjump/recall/internal/cli"
	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/ingest"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/server"
	"github.com/hyperjump/recall/internal/storage"
	"github.com/hyperjump/recall/internal/vector"
	"github.com/hyperjump/recall/internal/watcher"
	"github.com/hyperjump/recall/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "~/.recall/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if present; a missing default file falls back to defaults plus environment.
// Returns the config and the path that was actually loaded ("" when none was).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		resolved := expandHome(path)
		if _, err := os.Stat(resolved); errors.Is(err, os.ErrNotExist) {
			return config.Default(), "", nil
		}
		path = resolved
	}
	cfg, err := config.Load(expandHome(path))
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/"))
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "stats":
		runStats()
	case "ingest":
		runIngest()
	case "migrate":
		runMigrate()
	case "init":
		runInit()
	case "version", "--version", "-v":
		fmt.Printf("recall version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config and builds the logger shared by every subcommand.
func setup(configPath string, debug bool) (*config.Config, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if debug {
		cfg.Debug = true
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	if resolved == "" {
		resolved = "(defaults)"
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.String("store", cfg.Store.Backend))
	return cfg, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	watch := fs.Bool("watch", true, "re-ingest exports in ingest.watch_directories when they change")
	_ = fs.Parse(os.Args[2:])

	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if *watch && len(cfg.Ingest.WatchDirectories) > 0 {
		loader := components.Loader(cfg)
		w := watcher.New(cfg.Ingest.WatchDirectories, loader,
			watcher.WithExtensions(cfg.Ingest.Extensions),
			watcher.WithRecursive(cfg.Ingest.RecursiveOrDefault()),
			watcher.WithLogger(logger))
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
		go w.Sync(ctx)
	}

	srv := server.NewServer(components.Service, components.Store, components.Embedder, &cfg.Server, logger)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: recall search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Flags left unset take the server's configured defaults (limit 10, threshold 0.3, metric cosine).

Examples:
  recall search renew my passport
  recall search -n 5 -r assistant "sourdough starter"
  recall search -m l2 -t 0.5 --format json budget spreadsheet
  recall search --local -c "Trip planning" visa requirements
`)
}

// buildSearchQuery joins positional arguments into the query text.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves flags that follow the query to the front so flag.Parse sees
// them: "recall search my query -n 5" works like "recall search -n 5 my query".
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// searchFlags holds the search subcommand's flags. Only flags the user set are sent,
// so the service fills the rest from its defaults.
type searchFlags struct {
	limit        int
	threshold    float64
	role         string
	conversation string
	metric       string
}

func (sf *searchFlags) register(fs *flag.FlagSet) {
	fs.IntVar(&sf.limit, "limit", 0, "maximum number of results (1-100)")
	fs.IntVar(&sf.limit, "n", 0, "shorthand for -limit")
	fs.Float64Var(&sf.threshold, "threshold", 0, "minimum similarity")
	fs.Float64Var(&sf.threshold, "t", 0, "shorthand for -threshold")
	fs.StringVar(&sf.role, "role", "", "only messages with this role (user, assistant, system, tool)")
	fs.StringVar(&sf.role, "r", "", "shorthand for -role")
	fs.StringVar(&sf.conversation, "conversation", "", "only messages from this conversation id")
	fs.StringVar(&sf.conversation, "c", "", "shorthand for -conversation")
	fs.StringVar(&sf.metric, "metric", "", "cosine, l2 or inner_product")
	fs.StringVar(&sf.metric, "m", "", "shorthand for -metric")
}

// request builds a SearchRequest carrying only the flags that were set.
func (sf *searchFlags) request(fs *flag.FlagSet, query string) *models.SearchRequest {
	req := &models.SearchRequest{Query: query}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "limit", "n":
			req.Limit = &sf.limit
		case "threshold", "t":
			req.Threshold = &sf.threshold
		case "role", "r":
			req.Role = &sf.role
		case "conversation", "c":
			req.ConversationID = &sf.conversation
		case "metric", "m":
			req.Metric = &sf.metric
		}
	})
	return req
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (used with --local)")
	serverURL := fs.String("server", defaultServerURL, "server URL")
	local := fs.Bool("local", false, "search the store directly instead of through the server")
	outputFormat := fs.String("format", "text", "output format: text, compact or json")
	var sf searchFlags
	sf.register(fs)
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	req := sf.request(fs, queryStr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var response *models.SearchResponse
	if *local {
		cfg, logger := setup(*configPath, false)
		defer logger.Sync()
		components, initErr := initializeComponents(ctx, cfg, logger)
		if initErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", initErr)
			os.Exit(1)
		}
		defer components.Close()
		response, err = components.Service.Search(ctx, req)
	} else {
		response, err = newClient(*serverURL).Search(ctx, req)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %s\n", describeError(err))
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (used with --local)")
	serverURL := fs.String("server", defaultServerURL, "server URL")
	local := fs.Bool("local", false, "read the store directly instead of through the server")
	outputFormat := fs.String("format", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var st *models.Stats
	if *local {
		cfg, logger := setup(*configPath, false)
		defer logger.Sync()
		components, initErr := initializeComponents(ctx, cfg, logger)
		if initErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", initErr)
			os.Exit(1)
		}
		defer components.Close()
		st, err = components.Service.Stats(ctx)
	} else {
		st, err = newClient(*serverURL).Stats(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Stats failed: %s\n", describeError(err))
		os.Exit(1)
	}
	if err := cli.WriteStats(os.Stdout, st, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	replace := fs.Bool("replace", false, "delete every stored message before loading")
	batchSize := fs.Int("batch-size", 0, "messages embedded per batch (default from config, 32)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: recall ingest [flags] <export-file-or-directory>...")
		os.Exit(1)
	}
	cfg, logger := setup(*configPath, *debug)
	defer logger.Sync()
	if *batchSize > 0 {
		cfg.Ingest.BatchSize = *batchSize
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	loader := components.Loader(cfg)
	if *replace {
		if err := loader.Replace(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Replace failed: %v\n", err)
			os.Exit(1)
		}
	}

	var files, messages int
	for _, path := range fs.Args() {
		info, err := os.Stat(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to stat path: %v\n", err)
			os.Exit(1)
		}
		if info.IsDir() {
			nf, nm, err := loader.LoadDirectory(ctx, path, cfg.Ingest.RecursiveOrDefault())
			files += nf
			messages += nm
			if err != nil {
				fmt.Fprintf(os.Stderr, "Ingesting directory failed: %v\n", err)
				os.Exit(1)
			}
			continue
		}
		n, err := loader.LoadFile(ctx, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ingesting %s failed: %v\n", path, err)
			os.Exit(1)
		}
		files++
		messages += n
	}
	fmt.Printf("Ingested %d message(s) from %d file(s)\n", messages, files)
}

func runMigrate() {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	metricFlag := fs.String("metric", "", "Qdrant collection distance (default: search.default_metric)")
	_ = fs.Parse(os.Args[2:])

	cfg, logger := setup(*configPath, false)
	defer logger.Sync()

	metricName := cfg.Search.DefaultMetric
	if *metricFlag != "" {
		metricName = *metricFlag
	}
	metric, err := vector.ParseMetric(metricName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dims, err := embeddingDimensions(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve embedding dimensions: %v\n", err)
		os.Exit(1)
	}
	if err := storage.Migrate(ctx, cfg.Store, dims, metric); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Schema ready (%s, %d dimensions)\n", cfg.Store.Backend, dims)
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(os.Args[2:])

	path := expandHome(defaultConfigPath)
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if _, err := os.Stat(path); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "%s already exists (use --force to overwrite)\n", path)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create config directory: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Default()
	// Credentials come from the environment, never from a generated file.
	cfg.Store.DSN = ""
	cfg.Embedding.APIKey = ""
	cfg.Cache.RedisPassword = ""
	cfg.Store.Qdrant.APIKey = ""
	if err := config.Save(path, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", path)
}

// describeError renders an error for the terminal, hiding store internals.
func describeError(err error) string {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return fmt.Sprintf("%s (%s)", apperr.Message(err), ae.Kind)
	}
	return err.Error()
}

func printUsage() {
	fmt.Println(`recall - semantic search over conversation history

Usage:
  recall server [flags]                 Start the HTTP server
  recall search [flags] <query>         Search messages
  recall stats [flags]                  Show message counts and role distribution
  recall ingest [flags] <path>...       Load conversation exports (JSON array or NDJSON)
  recall migrate [flags]                Create the vector table/collection and indexes
  recall init [path]                    Write a default config file
  recall version                        Show version
  recall help                           Show this help

Server Flags:
  --config string    Config file path (default: ~/.recall/config.yaml, or ./config.yaml when present)
  --debug            Enable debug logging
  --watch            Re-ingest changed exports in ingest.watch_directories (default: true)

Search Flags:
  -n, --limit int            Maximum results, 1-100 (default from server: 10)
  -t, --threshold float      Minimum similarity (default from server: 0.3)
  -r, --role string          Filter by role
  -c, --conversation string  Filter by conversation id
  -m, --metric string        cosine, l2 or inner_product (default from server: cosine)
  --format string            text, compact or json (default: text)
  --server string            Server URL (default: http://localhost:8080)
  --local                    Query the store directly

Stats Flags:
  --format string    text or json (default: text)
  --server string    Server URL (default: http://localhost:8080)
  --local            Read the store directly

Ingest Flags:
  --replace          Delete all stored messages first
  --batch-size int   Messages embedded per batch (default: 32)

Migrate Flags:
  --metric string    Qdrant collection distance (default: search.default_metric)

Environment:
  POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DATABASE, POSTGRES_USER, POSTGRES_PASSWORD
  RECALL_STORE_DSN, RECALL_STORE_BACKEND, OPENAI_API_KEY, REDIS_ADDR

Examples:
  recall migrate
  recall ingest --replace ~/Downloads/conversations.json
  recall server
  recall search -n 5 how do I renew my passport`)
}

// ensure the ingest loader satisfies the watcher callback contract.
var _ watcher.Handler = (*ingest.Loader)(nil)
