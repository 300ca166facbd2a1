// Package main is the Shiryo CLI entry point.
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

	"github.com/hyperjump/shiryo/internal/cli"
	"github.com/hyperjump/shiryo/internal/config"
	"github.com/hyperjump/shiryo/internal/dispatch"
	"github.com/hyperjump/shiryo/internal/embedding"
	"github.com/hyperjump/shiryo/internal/extract"
	"github.com/hyperjump/shiryo/internal/indexer"
	"github.com/hyperjump/shiryo/internal/llm"
	"github.com/hyperjump/shiryo/internal/models"
	"github.com/hyperjump/shiryo/internal/router"
	"github.com/hyperjump/shiryo/internal/search"
	"github.com/hyperjump/shiryo/internal/server"
	"github.com/hyperjump/shiryo/internal/source"
	"github.com/hyperjump/shiryo/internal/storage"
	"github.com/hyperjump/shiryo/internal/syncer"
	"github.com/hyperjump/shiryo/internal/telemetry"
	"github.com/hyperjump/shiryo/internal/vector"
	"github.com/hyperjump/shiryo/internal/watcher"
	"github.com/hyperjump/shiryo/pkg/utils"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/shiryo/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory wins if it exists, so running from a project directory uses that
// project's config. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// API keys usually live in .env during development.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "sync":
		runSync()
	case "search":
		runSearch()
	case "ask":
		runAsk()
	case "documents":
		runDocuments()
	case "runs":
		runRuns()
	case "init":
		runInit()
	case "version", "--version", "-v":
		fmt.Printf("shiryo version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// commonFlags are shared by the client-side commands.
type commonFlags struct {
	configPath *string
	serverURL  *string
	format     *string
	debug      *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		serverURL:  fs.String("server", "", "server URL (e.g. http://localhost:8080); empty uses the database directly"),
		format:     fs.String("format", "text", "output format: text or json"),
		debug:      fs.Bool("debug", false, "enable debug logging"),
	}
}

func (c commonFlags) outputFormat() cli.OutputFormat {
	f, err := cli.ParseFormat(*c.format)
	if err != nil {
		fatalf("%v", err)
	}
	return f
}

func (c commonFlags) client() *cli.Client {
	return cli.NewClient(*c.serverURL, &http.Client{Timeout: 2 * time.Minute})
}

// open loads config and builds the full component graph for direct mode.
func (c commonFlags) open(ctx context.Context) *Components {
	cfg, _, err := loadConfig(*c.configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	// Client commands stay quiet unless debugging.
	logger := zap.NewNop()
	if cfg.Debug || *c.debug {
		if logger, err = utils.NewLogger(true, ""); err != nil {
			fatalf("Failed to create logger: %v", err)
		}
	}
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		fatalf("Failed to initialize components: %v", err)
	}
	return components
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode, cfg.LogLevel)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("source", cfg.Source.Type),
		zap.Bool("debug", debugMode),
	)

	ctx, stop := signalContext()
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	go syncer.NewScheduler(components.Orchestrator, cfg.Sync.Schedule, logger).Start(ctx)

	if cfg.Sync.Watch && cfg.Source.Type == config.SourceLocal {
		w, err := watcher.NewWatcher(cfg.Source.RootPath, cfg.Source.Ignore, func() {
			go syncer.Trigger(ctx, components.Orchestrator, syncer.TriggerWatch, logger)
		}, watcher.WithLogger(logger))
		if err != nil {
			logger.Fatal("Failed to create watcher", zap.Error(err))
		}
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
	}

	srv := server.NewServer(
		server.Deps{
			Storage:      components.Storage,
			Search:       components.Search,
			Orchestrator: components.Orchestrator,
			Assistant:    components.Assistant,
		},
		&cfg.Server,
		server.WithLogger(logger),
		server.WithMetrics(cfg.Metrics.EnabledOrDefault()),
		server.WithDatabasePath(cfg.Storage.DatabasePath),
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

func runSync() {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	flags := addCommonFlags(fs)
	full := fs.Bool("full", false, "reprocess every file instead of only changed ones")
	quiet := fs.Bool("quiet", false, "do not print per-file progress")
	_ = fs.Parse(os.Args[2:])
	format := flags.outputFormat()

	mode := models.SyncIncremental
	if *full {
		mode = models.SyncFull
	}
	progress := func(ev syncer.ProgressEvent) {
		if !*quiet && format == cli.OutputText {
			cli.WriteProgress(os.Stdout, ev.CurrentFile, ev.Outcome, ev.Processed, ev.Total)
		}
	}

	ctx, stop := signalContext()
	defer stop()

	var summary models.SyncSummary
	if *flags.serverURL != "" {
		s, err := flags.client().Sync(ctx, mode, progress)
		if err != nil {
			fatalf("Sync failed: %v", err)
		}
		summary = s
	} else {
		components := flags.open(ctx)
		defer components.Close()
		run, err := components.Orchestrator.Run(ctx, syncer.RunOptions{
			Mode:     mode,
			Trigger:  syncer.TriggerCLI,
			Progress: progress,
		})
		if errors.Is(err, syncer.ErrAlreadyRunning) {
			fatalf("A sync is already running")
		}
		if run == nil {
			fatalf("Sync failed: %v", err)
		}
		summary = run.Summary()
	}
	if err := cli.WriteSyncSummary(os.Stdout, summary, format); err != nil {
		fatalf("%v", err)
	}
	if summary.Status == models.SyncFailed {
		os.Exit(1)
	}
}

// buildQuery joins the positional args into one query, so quoting is optional.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves flags (and their values) ahead of positional args, so that
// "shiryo search battery level -limit 3" parses the flag. The flag package stops
// at the first non-flag argument.
func argsReorder(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "-") && len(a) > 1 {
			flags = append(flags, a)
			if !strings.Contains(a, "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") && !isBoolFlag(a) {
				flags = append(flags, args[i+1])
				i++
			}
			continue
		}
		positional = append(positional, a)
	}
	if len(flags) == 0 {
		return args
	}
	return append(flags, positional...)
}

func isBoolFlag(name string) bool {
	switch strings.TrimLeft(name, "-") {
	case "debug", "full", "quiet":
		return true
	}
	return false
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	flags := addCommonFlags(fs)
	limit := fs.Int("limit", 0, "maximum number of results (0 uses the configured default)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: shiryo search [flags] <query>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := flags.outputFormat()

	query := buildQuery(fs.Args())
	if query == "" {
		fs.Usage()
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()

	var resp *models.SearchResponse
	var err error
	if *flags.serverURL != "" {
		resp, err = flags.client().Search(ctx, query, *limit)
	} else {
		components := flags.open(ctx)
		defer components.Close()
		resp, err = components.Search.Search(ctx, query, *limit)
	}
	if err != nil {
		fatalf("Search failed: %v", err)
	}
	if err := cli.WriteSearchResults(os.Stdout, resp, format); err != nil {
		fatalf("%v", err)
	}
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	flags := addCommonFlags(fs)
	session := fs.String("session", "", "session ID to continue a conversation")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: shiryo ask [flags] <message>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := flags.outputFormat()

	message := buildQuery(fs.Args())
	if message == "" {
		fs.Usage()
		os.Exit(1)
	}

	ctx, stop := signalContext()
	defer stop()

	var ans *dispatch.Answer
	var err error
	if *flags.serverURL != "" {
		ans, err = flags.client().Ask(ctx, message, *session)
	} else {
		components := flags.open(ctx)
		defer components.Close()
		ans, err = components.Assistant.Ask(ctx, message, *session)
	}
	if err != nil {
		fatalf("Ask failed: %v", err)
	}
	if err := cli.WriteAnswer(os.Stdout, ans, format); err != nil {
		fatalf("%v", err)
	}
}

func runDocuments() {
	fs := flag.NewFlagSet("documents", flag.ExitOnError)
	flags := addCommonFlags(fs)
	offset := fs.Int("offset", 0, "number of documents to skip")
	limit := fs.Int("limit", 100, "maximum number of documents")
	_ = fs.Parse(os.Args[2:])
	format := flags.outputFormat()

	ctx, stop := signalContext()
	defer stop()

	var docs []*models.Document
	var err error
	if *flags.serverURL != "" {
		docs, err = flags.client().Documents(ctx, *offset, *limit)
	} else {
		store := openStorage(*flags.configPath)
		defer store.Close()
		docs, err = store.ListDocuments(ctx, *offset, *limit)
	}
	if err != nil {
		fatalf("Failed to list documents: %v", err)
	}
	if err := cli.WriteDocuments(os.Stdout, docs, format); err != nil {
		fatalf("%v", err)
	}
}

func runRuns() {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	flags := addCommonFlags(fs)
	limit := fs.Int("limit", 20, "maximum number of runs")
	_ = fs.Parse(os.Args[2:])
	format := flags.outputFormat()

	ctx, stop := signalContext()
	defer stop()

	var runs []*models.SyncRun
	var err error
	if *flags.serverURL != "" {
		runs, err = flags.client().Runs(ctx, *limit)
	} else {
		store := openStorage(*flags.configPath)
		defer store.Close()
		runs, err = store.ListSyncRuns(ctx, *limit)
	}
	if err != nil {
		fatalf("Failed to list sync runs: %v", err)
	}
	if err := cli.WriteRuns(os.Stdout, runs, format); err != nil {
		fatalf("%v", err)
	}
}

// openStorage opens only the database, for read-only commands that need no source
// or embedder.
func openStorage(configPath string) storage.Storage {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		fatalf("Failed to open database: %v", err)
	}
	return store
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	out := fs.String("config", "config.yaml", "where to write the config")
	root := fs.String("root", "./docs", "local directory to sync")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(os.Args[2:])

	if _, err := os.Stat(*out); err == nil && !*force {
		fatalf("%s already exists (use -force to overwrite)", *out)
	}
	cfg := &config.Config{
		Source: config.SourceConfig{Type: config.SourceLocal, RootPath: *root},
	}
	config.ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = "./data/shiryo.db"
	if err := config.Save(*out, cfg); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Wrote %s\n", *out)
}

// Components is the wired application graph.
type Components struct {
	Storage      storage.Storage
	Embedder     embedding.Embedder
	Search       *search.Service
	Orchestrator *syncer.Orchestrator
	Assistant    *dispatch.Assistant
}

// Close releases the embedder and the database.
func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	c := &Components{Storage: store}
	fail := func(err error) (*Components, error) {
		c.Close()
		return nil, err
	}

	emb, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		return fail(fmt.Errorf("create embedder: %w", err))
	}
	if cfg.Embedding.CacheSize > 0 {
		emb = embedding.NewCachedEmbedder(emb, cfg.Embedding.CacheSize)
	}
	c.Embedder = emb

	vi, err := vector.NewMemoryIndex(emb.Dimensions())
	if err != nil {
		return fail(fmt.Errorf("create vector index: %w", err))
	}
	c.Search = search.NewService(store, emb, vi, cfg.Search, search.WithLogger(logger))
	n, err := c.Search.Rebuild(ctx)
	if err != nil {
		return fail(fmt.Errorf("load vector index: %w", err))
	}
	logger.Info("vector index loaded", zap.Int("chunks", n))

	src, err := buildSource(ctx, cfg.Source, logger)
	if err != nil {
		return fail(err)
	}
	walker, err := source.NewWalker(src, cfg.Source.Ignore, source.WithWalkerLogger(logger))
	if err != nil {
		return fail(err)
	}
	idx := indexer.NewIndexer(store, emb, vi, indexer.NewChunker(cfg.Chunking.MaxTokens), indexer.WithLogger(logger))
	c.Orchestrator = syncer.NewOrchestrator(store, src, walker, extract.NewExtractor(), idx, syncer.Config{
		Concurrency:  cfg.Sync.Concurrency,
		FetchTimeout: cfg.Sync.FetchTimeout,
		ContextRule:  source.ContextRule{Folder: cfg.Source.ContextFolder, Markers: cfg.Source.ContextMarkers},
	}, syncer.WithLogger(logger))
	if err := c.Orchestrator.Recover(ctx); err != nil {
		return fail(fmt.Errorf("recover interrupted runs: %w", err))
	}

	client, err := llm.New(cfg.LLM)
	if errors.Is(err, llm.ErrNotConfigured) {
		client = nil
	} else if err != nil {
		return fail(fmt.Errorf("create llm client: %w", err))
	}
	rt, err := router.New(cfg.Router, client, logger)
	if err != nil {
		return fail(fmt.Errorf("create router: %w", err))
	}

	var readings telemetry.Source = telemetry.StaticSource{Err: telemetry.ErrNoReading}
	if cfg.Telemetry.Path != "" {
		readings = telemetry.NewFileSource(cfg.Telemetry.Path)
	}
	registry := dispatch.NewRegistry()
	for id, f := range map[models.ResponderID]dispatch.Factory{
		models.ResponderDocs:      dispatch.DocsFactory(c.Search, store, client, cfg.Search.DefaultLimit),
		models.ResponderTelemetry: dispatch.TelemetryFactory(readings, client),
		models.ResponderGeneral:   dispatch.GeneralFactory(client),
	} {
		if err := registry.Register(id, f); err != nil {
			return fail(err)
		}
	}
	opts := []dispatch.Option{
		dispatch.WithLogger(logger),
		dispatch.WithContextTurns(cfg.Conversation.ContextTurns),
		dispatch.WithSearchLimit(cfg.Search.DefaultLimit),
	}
	c.Assistant = dispatch.NewAssistant(rt, dispatch.NewDispatcher(registry, store, opts...), c.Search, store, opts...)
	return c, nil
}

func buildSource(ctx context.Context, cfg config.SourceConfig, logger *zap.Logger) (source.Source, error) {
	switch cfg.Type {
	case config.SourceLocal:
		src, err := source.NewLocalSource(cfg.RootPath, cfg.PageSize)
		if err != nil {
			return nil, fmt.Errorf("open local source: %w", err)
		}
		return src, nil
	case config.SourceDrive:
		var token string
		if cfg.AccessTokenEnv != "" {
			token = os.Getenv(cfg.AccessTokenEnv)
		}
		src, err := source.NewDriveSource(ctx, source.DriveConfig{
			RootID:            cfg.RootID,
			AccessToken:       token,
			CredentialsFile:   cfg.CredentialsFile,
			PageSize:          cfg.PageSize,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}, source.WithDriveLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open drive source: %w", err)
		}
		return src, nil
	}
	return nil, fmt.Errorf("unknown source type %q", cfg.Type)
}

func printUsage() {
	fmt.Print(`Shiryo - knowledge base sync and retrieval

Usage:
  shiryo <command> [flags]

Commands:
  server      Start the HTTP server (with scheduled and watched syncs)
  sync        Sync the source into the knowledge base (-full to reprocess everything)
  search      Search synced documents
  ask         Ask the assistant a question
  documents   List synced documents
  runs        List recent sync runs
  init        Write a starter config.yaml
  version     Print the version

Client commands accept -server http://host:port to use a running server
instead of opening the database directly.
`)
}
