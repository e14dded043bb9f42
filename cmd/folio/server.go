package main

import (
	"context"
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

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/folio/internal/api"
	"github.com/kalambet/folio/internal/cache"
	"github.com/kalambet/folio/internal/catalog"
	"github.com/kalambet/folio/internal/config"
	"github.com/kalambet/folio/internal/feed"
	"github.com/kalambet/folio/internal/indexer"
	"github.com/kalambet/folio/internal/interest"
	"github.com/kalambet/folio/internal/openlibrary"
	"github.com/kalambet/folio/internal/pipeline"
	"github.com/kalambet/folio/internal/similarity"
	"github.com/kalambet/folio/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the folio server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running folio server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show folio server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "folio.pid")
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

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// app holds the wired components shared by the HTTP and MCP front ends.
type app struct {
	store   *storage.Store
	holder  *similarity.Holder
	service *pipeline.Service
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing: %v\n", err)
		}
	}
}

// newSearchCache picks Redis when configured and reachable, else memory.
func newSearchCache(ctx context.Context, cfg config.CacheConfig) (cache.Store, func() error) {
	if cfg.RedisAddr == "" {
		return cache.NewMemorySize(cfg.MaxEntries), nil
	}
	rc, err := cache.NewRedis(ctx, cfg.RedisAddr)
	if err != nil {
		slog.Warn("redis unavailable, caching searches in memory", "addr", cfg.RedisAddr, "error", err)
		return cache.NewMemorySize(cfg.MaxEntries), nil
	}
	return rc, rc.Close
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a := &app{store: store, closers: []func() error{store.Close}}

	ol := openlibrary.New(openlibrary.Options{
		BaseURL:           cfg.OpenLibrary.BaseURL,
		Timeout:           cfg.OpenLibrary.TimeoutDuration(),
		RequestsPerSecond: cfg.OpenLibrary.RequestsPerSecond,
		BreakerFailures:   uint32(max(cfg.OpenLibrary.BreakerFailures, 0)),
	})
	cacheStore, closeCache := newSearchCache(ctx, cfg.Cache)
	if closeCache != nil {
		a.closers = append(a.closers, closeCache)
	}
	searcher := cache.NewSearcher(ol, cacheStore, cfg.Cache.TTLDuration())
	slog.Info("external catalog configured", "base_url", cfg.OpenLibrary.BaseURL, "cache", cacheStore.Name())

	a.holder = similarity.NewHolder(store.ListBooks)
	if ix, err := a.holder.Rebuild(ctx); err != nil {
		if !errors.Is(err, similarity.ErrEmptyCatalog) {
			a.Close()
			return nil, fmt.Errorf("building similarity index: %w", err)
		}
		slog.Warn("catalog is empty, recommendations unavailable until books are loaded")
	} else {
		slog.Info("similarity index ready", "books", ix.Dim(), "vocabulary", ix.Vocabulary())
	}

	composer := feed.NewComposer(searcher, feed.Options{
		RowLimit:         cfg.Feed.RowLimit,
		RecommendedLimit: cfg.Feed.RecommendedLimit,
		MaxOffset:        cfg.Feed.MaxOffset,
		CallTimeout:      cfg.OpenLibrary.TimeoutDuration(),
	})

	a.service = pipeline.NewService(
		store,
		a.holder,
		interest.NewResolver(store),
		composer,
		catalog.NewImporter(store, store),
		searcher,
		pipeline.Config{
			Genres:    cfg.Feed.GenreList(),
			RowCount:  cfg.Feed.RowCount,
			K:         cfg.Recommend.K,
			Recommend: similarity.Options{FallbackSize: cfg.Recommend.FallbackSize},
		},
	)
	return a, nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "folio version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("folio is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("folio is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	worker := indexer.NewWorker(a.store, a.holder, time.Second)
	go worker.Run(ctx)

	if cfg.Server.AdminToken == "" {
		slog.Warn("FOLIO_ADMIN_TOKEN not set, admin routes disabled")
	}
	handler := api.NewHandler(api.Deps{
		Service:    a.service,
		Reindex:    a.store,
		AdminToken: cfg.Server.AdminToken,
	})

	if withMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(a.service))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "folio listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

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
		printError("folio is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop folio (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to folio (PID %d)", pid)
	return nil
}

type healthResponse struct {
	Status    string `json:"status"`
	IndexSize int    `json:"index_size"`
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	resp, err := client.get(context.Background(), "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var h healthResponse
		if derr := decodeJSON(resp, &h); derr != nil {
			printStatus("Server", "error (%v)", derr)
		} else {
			printStatus("Server", "running on port %d", cfg.Server.Port)
			printStatus("Indexed books", "%d", h.IndexSize)
		}
	}

	printStatus("External catalog", "%s", cfg.OpenLibrary.BaseURL)
	if cfg.Cache.RedisAddr != "" {
		printStatus("Search cache", "redis at %s (ttl %s)", cfg.Cache.RedisAddr, cfg.Cache.TTL)
	} else {
		printStatus("Search cache", "memory (ttl %s)", cfg.Cache.TTL)
	}
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
