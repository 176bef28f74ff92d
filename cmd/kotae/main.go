// Package main is the kotae CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/pipeline"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/kotae/config.yaml"
	defaultServerURL  = "http://localhost:8080"
	defaultTokenEnv   = "KOTAE_API_TOKEN"
)

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory wins if it exists, and a missing default file yields
// the built-in defaults. It returns the path actually loaded, or "" for defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			local := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(local); err == nil {
				cfg, err := config.Load(local)
				if err != nil {
					return nil, "", err
				}
				return cfg, local, nil
			}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// loadEnv reads .env from the working directory when present.
func loadEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: .env: %v\n", err)
	}
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	loadEnv()
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "server":
		runServer(args)
	case "ask":
		runAsk(args)
	case "ingest":
		runIngest(args)
	case "remove":
		runRemove(args)
	case "list":
		runList(args)
	case "status":
		runStatus(args)
	case "health":
		runHealth(args)
	case "watch":
		runWatch(args)
	case "init-config":
		runInitConfig(args)
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func runServer(args []string) {
	fs := newFlagSet("server")
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, resolved, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := pipeline.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize pipeline", zap.Error(err))
	}
	defer func() {
		if err := orch.Close(); err != nil {
			logger.Warn("close pipeline", zap.Error(err))
		}
	}()

	watchSvc := watcher.New(orch, cfg.Watch, watcher.WithLogger(logger))
	if err := watchSvc.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	defer watchSvc.Stop()
	if len(cfg.Watch.Directories) > 0 {
		go watchSvc.SyncExistingFiles()
	}

	var saveMu sync.Mutex
	persist := func(dirs []string) error {
		if resolved == "" {
			return nil
		}
		saveMu.Lock()
		defer saveMu.Unlock()
		cfg.Watch.Directories = dirs
		return config.Save(resolved, cfg)
	}
	srv := server.NewServer(orch, &cfg.Server, logger,
		server.WithWatch(watchSvc, persist),
		server.WithMaxUploadBytes(cfg.Ingest.MaxDocumentBytes))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", zap.Error(err))
		}
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}

// openPipeline builds a pipeline directly against local storage, for commands
// run while no server is up.
func openPipeline(ctx context.Context, configPath string) (*pipeline.Orchestrator, *config.Config, func()) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	orch, err := pipeline.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		fatalf("Failed to initialize: %v", err)
	}
	return orch, cfg, func() {
		if err := orch.Close(); err != nil {
			logger.Warn("close pipeline", zap.Error(err))
		}
		_ = logger.Sync()
	}
}

func runInitConfig(args []string) {
	fs := newFlagSet("init-config")
	path := fs.String("path", "config.yaml", "where to write the config file")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(args)

	if _, err := os.Stat(*path); err == nil && !*force {
		fatalf("%s already exists (use --force to overwrite)", *path)
	}
	if err := config.Save(*path, config.Default()); err != nil {
		fatalf("Write config failed: %v", err)
	}
	fmt.Printf("Wrote default config to %s\n", *path)
}

func printUsage() {
	fmt.Println(strings.TrimSpace(`
kotae - grounded answers over policy, contract and manual documents

Usage:
  kotae server [flags]                     Start the HTTP API
  kotae ask [flags] -doc <ref> <question>  Answer questions about a document
  kotae ingest [flags] <ref|file|dir>...   Ingest documents ahead of questions
  kotae remove [flags] <id|ref>            Remove a document and its index entries
  kotae list [flags]                       List known documents
  kotae status [flags]                     Show index, model and disk statistics
  kotae health [flags]                     Show backend availability
  kotae watch <add|remove|list> [path]     Manage watched directories on a running server
  kotae init-config [--path config.yaml]   Write a config file with default values
  kotae version                            Show version

Common Flags:
  --config string    Config file path (default: /usr/local/etc/kotae/config.yaml, or ./config.yaml)
  --server string    Server URL (default: http://localhost:8080). Use --server "" to run the
                     pipeline in-process against local storage.
  --token string     Bearer token for the server (default: $KOTAE_API_TOKEN)
  --output string    Output format: text, compact or json (default: text)

Ask Flags:
  --doc string       Document reference: http(s) URL, s3://bucket/key or local path
  --id string        Id of an already ingested document
  -q string          Question; repeat for a batch. Without -q the remaining arguments form one question.
  --format string    Format hint (pdf, docx, email, text, markdown, ...)
  --reingest         Fetch and index the document again

Examples:
  kotae server --debug
  kotae ask -doc https://example.com/policy.pdf "What is the grace period for premium payment?"
  kotae ask -doc ./handbook.docx -q "How many leave days?" -q "Is remote work allowed?"
  kotae ask --server "" -doc ./policy.pdf --output json "Are pre-existing diseases covered?"
  kotae ingest ./contracts
  kotae list --output compact
  kotae health --probe
  kotae watch add ./contracts`))
}
