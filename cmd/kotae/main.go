// Package main is the Kotae CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/answer"
	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/docstore"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/generation"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/ratelimit"
	"github.com/hyperjump/kotae/internal/rerank"
	"github.com/hyperjump/kotae/internal/retrieval"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kotae/config.yaml"

// loadConfig loads config from path. When path is the default, a config.yaml
// in the current directory takes precedence, so running from the project dir
// picks up the local config. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
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
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "query":
		runQuery()
	case "update":
		runUpdate()
	case "rollback":
		runRollback()
	case "versions":
		runVersions()
	case "admit":
		runAdmit()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`Kotae - tenant-scoped document Q&A

Usage: kotae <command> [flags]

Commands:
  server     Start the HTTP API server
  ingest     Ingest a document (--title, --file or --content)
  query      Ask a question against a tenant's documents
  update     Update a document's fields (--id plus --title/--content/--category)
  rollback   Restore an older version (--id --target)
  versions   Show a document's version history (--id)
  admit      Check rate-limit admission for an endpoint (--endpoint)
  status     Show server statistics
  version    Show version

Client commands talk to a running server (--server, default http://localhost:8080)
and require --tenant.
`)
}

// components holds everything the server and direct-mode commands need.
type components struct {
	Storage  storage.Storage
	Docs     *docstore.Store
	Answerer *answer.Answerer
	Limiter  *ratelimit.Limiter
	Logger   *zap.Logger
}

func (c *components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	reranker, err := buildReranker(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	generator, err := buildGenerator(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	docs := docstore.NewStore(store, embedder, logger)
	engine := retrieval.NewEngine(store, embedder, reranker, logger)
	return &components{
		Storage:  store,
		Docs:     docs,
		Answerer: answer.NewAnswerer(engine, generator, store, logger),
		Limiter:  ratelimit.NewLimiter(store, cfg.RateLimit, logger),
		Logger:   logger,
	}, nil
}

func buildEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "mock":
		return embedding.NewMockEmbedder(cfg.Embedding.Dimensions), nil
	case "onnx":
		return embedding.NewONNXEmbedder(cfg.Embedding.ModelPath,
			cfg.Embedding.Dimensions, cfg.Embedding.MaxTokens, cfg.Embedding.CacheSize)
	case "openai":
		return embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			BaseURL:    cfg.Embedding.BaseURL,
			APIKeyEnv:  cfg.Embedding.APIKeyEnv,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			CacheSize:  cfg.Embedding.CacheSize,
		})
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
}

func buildReranker(cfg *config.Config) (rerank.Reranker, error) {
	switch cfg.Rerank.Provider {
	case "lexical":
		return rerank.NewLexicalReranker(), nil
	case "http":
		return rerank.NewHTTPReranker(rerank.HTTPConfig{
			BaseURL:   cfg.Rerank.BaseURL,
			APIKeyEnv: cfg.Rerank.APIKeyEnv,
			Model:     cfg.Rerank.Model,
		})
	}
	return nil, fmt.Errorf("unknown rerank provider %q", cfg.Rerank.Provider)
}

func buildGenerator(cfg *config.Config) (generation.Generator, error) {
	switch cfg.Generation.Provider {
	case "extractive":
		return generation.NewExtractiveGenerator(), nil
	case "openai":
		return generation.NewOpenAIGenerator(generation.OpenAIConfig{
			BaseURL:         cfg.Generation.BaseURL,
			APIKeyEnv:       cfg.Generation.APIKeyEnv,
			Model:           cfg.Generation.Model,
			MaxContextChars: cfg.Generation.MaxContextChars,
		})
	}
	return nil, fmt.Errorf("unknown generation provider %q", cfg.Generation.Provider)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode))

	comps, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer comps.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Watch.TenantID != "" && len(cfg.Watch.Directories) > 0 {
		ingestor := watcher.NewIngestor(comps.Docs, cfg.Watch.TenantID, logger)
		w := watcher.New(cfg.Watch.Directories, cfg.Watch.Extensions,
			cfg.Watch.RecursiveOrDefault(), ingestor.HandleFile, logger)
		if err := w.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
		w.SyncExisting()
	}

	srv := server.NewServer(comps.Docs, comps.Answerer, comps.Limiter, comps.Storage, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// clientFlags are the flags shared by every client command.
type clientFlags struct {
	serverURL *string
	tenant    *string
	user      *string
	output    *string
}

func addClientFlags(fs *flag.FlagSet) *clientFlags {
	return &clientFlags{
		serverURL: fs.String("server", "http://localhost:8080", "server URL"),
		tenant:    fs.String("tenant", "", "tenant id (required)"),
		user:      fs.String("user", "", "user id"),
		output:    fs.String("output", "text", "output format: text or json"),
	}
}

func (c *clientFlags) validate(fs *flag.FlagSet) (cli.OutputFormat, bool) {
	if *c.tenant == "" {
		fmt.Fprintln(os.Stderr, "--tenant is required")
		fs.Usage()
		return "", false
	}
	format, err := cli.ParseFormat(*c.output)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return "", false
	}
	return format, true
}

// call sends a JSON request to the server with tenant headers and decodes the
// JSON response into out. Non-2xx responses are returned as errors.
func (c *clientFlags) call(method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, *c.serverURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", *c.tenant)
	if *c.user != "" {
		req.Header.Set("X-User-ID", *c.user)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	cf := addClientFlags(fs)
	title := fs.String("title", "", "document title (required)")
	content := fs.String("content", "", "document content (or --file)")
	file := fs.String("file", "", "read content from file")
	category := fs.String("category", "other", "category: policy, medical, financial, legal, education, other")
	_ = fs.Parse(os.Args[2:])

	format, ok := cf.validate(fs)
	if !ok {
		os.Exit(1)
	}
	if *title == "" {
		fatal(fmt.Errorf("--title is required"))
	}
	text := *content
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			fatal(err)
		}
		text = string(data)
	}
	if text == "" {
		fatal(fmt.Errorf("--content or --file is required"))
	}

	var res models.IngestResult
	if err := cf.call(http.MethodPost, "/api/v1/documents", models.IngestRequest{
		Title: *title, Content: text, Category: models.Category(*category),
	}, &res); err != nil {
		fatal(err)
	}
	if format == cli.OutputJSON {
		_ = json.NewEncoder(os.Stdout).Encode(res)
		return
	}
	if res.Created {
		fmt.Printf("created %s\n", res.DocumentID)
	} else {
		fmt.Printf("duplicate of %s\n", res.DuplicateOf)
	}
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	cf := addClientFlags(fs)
	session := fs.String("session", "", "session id (new one generated when empty)")
	category := fs.String("category", "", "restrict to a category")
	topK := fs.Int("top-k", 0, "number of documents to ground the answer on")
	_ = fs.Parse(os.Args[2:])

	format, ok := cf.validate(fs)
	if !ok {
		os.Exit(1)
	}
	queryStr := cli.JoinArgs(fs.Args())
	if queryStr == "" {
		fatal(fmt.Errorf("usage: kotae query [flags] <question>"))
	}

	var resp models.QueryResponse
	if err := cf.call(http.MethodPost, "/api/v1/query", models.QueryRequest{
		Query:     queryStr,
		SessionID: *session,
		Category:  models.Category(*category),
		TopKFinal: *topK,
	}, &resp); err != nil {
		fatal(err)
	}
	if err := cli.WriteQueryResponse(os.Stdout, &resp, format); err != nil {
		fatal(err)
	}
}

func runUpdate() {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	cf := addClientFlags(fs)
	id := fs.String("id", "", "document id (required)")
	title := fs.String("title", "", "new title")
	content := fs.String("content", "", "new content")
	file := fs.String("file", "", "read new content from file")
	category := fs.String("category", "", "new category")
	summary := fs.String("summary", "", "change summary")
	changeType := fs.String("change-type", "", "update, correction, or major_revision")
	_ = fs.Parse(os.Args[2:])

	format, ok := cf.validate(fs)
	if !ok {
		os.Exit(1)
	}
	if *id == "" {
		fatal(fmt.Errorf("--id is required"))
	}

	req := models.UpdateRequest{ChangeSummary: *summary, ChangeType: models.ChangeType(*changeType)}
	if *title != "" {
		req.Title = title
	}
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			fatal(err)
		}
		text := string(data)
		req.Content = &text
	} else if *content != "" {
		req.Content = content
	}
	if *category != "" {
		cat := models.Category(*category)
		req.Category = &cat
	}

	var res models.UpdateResult
	if err := cf.call(http.MethodPatch, "/api/v1/documents/"+*id, req, &res); err != nil {
		fatal(err)
	}
	if format == cli.OutputJSON {
		_ = json.NewEncoder(os.Stdout).Encode(res)
		return
	}
	if res.Unchanged {
		fmt.Println("unchanged")
	} else {
		fmt.Printf("updated to version %d\n", res.VersionNumber)
	}
}

func runRollback() {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	cf := addClientFlags(fs)
	id := fs.String("id", "", "document id (required)")
	target := fs.Int("target", 0, "version to restore (required)")
	_ = fs.Parse(os.Args[2:])

	format, ok := cf.validate(fs)
	if !ok {
		os.Exit(1)
	}
	if *id == "" || *target <= 0 {
		fatal(fmt.Errorf("--id and --target are required"))
	}

	var res models.RollbackResult
	if err := cf.call(http.MethodPost, "/api/v1/documents/"+*id+"/rollback",
		map[string]int{"target_version": *target}, &res); err != nil {
		fatal(err)
	}
	if format == cli.OutputJSON {
		_ = json.NewEncoder(os.Stdout).Encode(res)
		return
	}
	fmt.Printf("restored version %d as version %d\n", res.RestoredFrom, res.NewVersionNumber)
}

func runVersions() {
	fs := flag.NewFlagSet("versions", flag.ExitOnError)
	cf := addClientFlags(fs)
	id := fs.String("id", "", "document id (required)")
	_ = fs.Parse(os.Args[2:])

	format, ok := cf.validate(fs)
	if !ok {
		os.Exit(1)
	}
	if *id == "" {
		fatal(fmt.Errorf("--id is required"))
	}

	var res struct {
		Versions []*models.VersionInfo `json:"versions"`
	}
	if err := cf.call(http.MethodGet, "/api/v1/documents/"+*id+"/versions", nil, &res); err != nil {
		fatal(err)
	}
	if err := cli.WriteVersions(os.Stdout, res.Versions, format); err != nil {
		fatal(err)
	}
}

// runAdmit checks admission directly against storage; it counts one request,
// which makes it a probe for scripting and load tests rather than a dry run.
func runAdmit() {
	fs := flag.NewFlagSet("admit", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	tenant := fs.String("tenant", "", "tenant id (required)")
	endpoint := fs.String("endpoint", "query", "endpoint name")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if *tenant == "" {
		fatal(fmt.Errorf("--tenant is required"))
	}
	format, err := cli.ParseFormat(*output)
	if err != nil {
		fatal(err)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fatal(fmt.Errorf("load config: %w", err))
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fatal(err)
	}
	defer logger.Sync()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	limiter := ratelimit.NewLimiter(store, cfg.RateLimit, logger)
	res, err := limiter.Admit(context.Background(), *tenant, *endpoint)
	if err != nil {
		fatal(err)
	}
	if err := cli.WriteAdmitResult(os.Stdout, res, format); err != nil {
		fatal(err)
	}
	if !res.Allowed {
		os.Exit(2)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/status")
	if err != nil {
		fatal(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fatal(fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b)))
	}

	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fatal(fmt.Errorf("decode response: %w", err))
	}
	if *output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(status)
		return
	}
	fmt.Printf("documents: %v\n", status["documents"])
	fmt.Printf("versions:  %v\n", status["versions"])
	fmt.Printf("messages:  %v\n", status["messages"])
	if v, ok := status["disk_usage_bytes"]; ok {
		fmt.Printf("disk:      %v bytes\n", v)
	}
}
