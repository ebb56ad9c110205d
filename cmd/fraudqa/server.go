package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/fraudqa/internal/api"
	"github.com/kalambet/fraudqa/internal/composer"
	"github.com/kalambet/fraudqa/internal/config"
	"github.com/kalambet/fraudqa/internal/dbquery"
	"github.com/kalambet/fraudqa/internal/ingest"
	"github.com/kalambet/fraudqa/internal/intent"
	"github.com/kalambet/fraudqa/internal/llm"
	"github.com/kalambet/fraudqa/internal/ollama"
	"github.com/kalambet/fraudqa/internal/pipeline"
	"github.com/kalambet/fraudqa/internal/retrieval"
	"github.com/kalambet/fraudqa/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the fraudqa server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running fraudqa server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fraudqa system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "fraudqa.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "fraudqa version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Ensure the API token exists in the secret store.
	if _, err := config.GetAPIToken(config.NewSecrets()); err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("fraudqa is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("fraudqa is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check the embedding engine. The vLLM completion server is checked
	// lazily per request; warn now if it is not up yet.
	ollamaClient := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, ollamaClient, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
	}
	if resp, err := healthClient.Get(cfg.LLM.BaseURL + "/models"); err != nil {
		slog.Warn("vLLM not reachable, questions will fail until it is up", "base_url", cfg.LLM.BaseURL)
	} else {
		resp.Body.Close()
	}

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Load the transactions table and register corpus documents. Embedding
	// happens asynchronously through the job queue below.
	printStep("Bootstrapping transactions and corpus...")
	if err := ingest.Bootstrap(ctx, store, cfg.Ingest.TransactionsCSV, cfg.Ingest.CorpusDir); err != nil {
		return fmt.Errorf("bootstrapping data: %w", err)
	}

	// Build the answering pipeline.
	llmClient := llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	embedder := retrieval.NewEmbedder(ollamaClient, cfg.Ollama.EmbedModel)
	sqliteVectors := retrieval.NewSQLiteStore(store.DB())
	vectorStore, err := retrieval.NewHNSWStore(sqliteVectors)
	if err != nil {
		return fmt.Errorf("loading vector index: %w", err)
	}
	retriever := retrieval.NewRetriever(embedder, vectorStore)
	router := intent.NewRouter(llmClient)
	dbAnswerer := dbquery.NewAnswerer(llmClient, store)
	ragAnswerer := retrieval.NewAnswerer(llmClient, retriever, cfg.Retrieval.TopK)
	comp := composer.NewComposer(llmClient)
	pipe := pipeline.New(router, dbAnswerer, ragAnswerer, comp, store)

	// Retrieve API token for bearer auth on management endpoints.
	apiToken, err := config.GetAPIToken(config.NewSecrets())
	if err != nil {
		return fmt.Errorf("getting API token: %w", err)
	}

	deps := api.AppDeps{
		Store:      store,
		Pipeline:   pipe,
		Searcher:   retriever,
		Token:      apiToken,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		Vectors:    vectorStore,
	}

	// Compose top-level router: OpenAI-compat routes under /v1, management
	// routes at the root.
	topRouter := chi.NewRouter()
	topRouter.Mount("/v1", api.NewOpenAIHandler(deps, cfg.LLM.Model))
	topRouter.Mount("/", api.NewAppHandler(deps))

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: topRouter,
	}

	// Start the embedding worker.
	worker := ingest.NewWorker(store, embedder, vectorStore, 500*time.Millisecond)
	go worker.Run(ctx)

	// Build and start MCP server (stdio transport in a goroutine).
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:     store,
		Pipeline:  pipe,
		Retriever: retriever,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "fraudqa listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("fraudqa is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop fraudqa (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to fraudqa (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	// Check server health.
	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Check vLLM.
	vllmResp, err := client.Get(cfg.LLM.BaseURL + "/models")
	if err != nil {
		printStatus("vLLM", "not reachable")
	} else {
		vllmResp.Body.Close()
		printStatus("vLLM", "running at %s", cfg.LLM.BaseURL)
	}

	// Check Ollama.
	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}

	// Show models.
	printStatus("Chat model", "%s", cfg.LLM.Model)
	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)

	// Show run/document counts if server is running.
	apiToken, tokenErr := config.GetAPIToken(config.NewSecrets())
	if tokenErr == nil && resp != nil && resp.StatusCode == 200 {
		runsResp, err := apiGet(client, serverURL+"/runs?limit=100", apiToken)
		if err == nil {
			var runs []json.RawMessage
			if json.NewDecoder(runsResp.Body).Decode(&runs) == nil {
				printStatus("Runs", "%s", countLabel(len(runs), 100))
			}
			runsResp.Body.Close()
		}
		docsResp, err2 := apiGet(client, serverURL+"/documents?limit=200", apiToken)
		if err2 == nil {
			var docs []json.RawMessage
			if json.NewDecoder(docsResp.Body).Decode(&docs) == nil {
				printStatus("Documents", "%s", countLabel(len(docs), 200))
			}
			docsResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
