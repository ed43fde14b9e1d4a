package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/richardk1992-boop/larkdoc/internal/config"
	"github.com/richardk1992-boop/larkdoc/internal/document"
	"github.com/richardk1992-boop/larkdoc/internal/lark"
	"github.com/richardk1992-boop/larkdoc/internal/logging"
	"github.com/richardk1992-boop/larkdoc/internal/mcpserver"
	"github.com/richardk1992-boop/larkdoc/internal/models"
	"github.com/richardk1992-boop/larkdoc/internal/oauth"
	"github.com/richardk1992-boop/larkdoc/internal/server"
	"github.com/richardk1992-boop/larkdoc/internal/session"
	"github.com/richardk1992-boop/larkdoc/internal/state"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("larkdoc starting",
		slog.String("version", Version),
		slog.String("listen", cfg.ListenAddr),
		slog.Bool("mcp", cfg.EnableMCP),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPath, err := cfg.StateDBPath()
	if err != nil {
		return err
	}
	store, err := state.Load(dbPath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer store.Close()

	if err := store.SetCredentials(cfg.AppID, cfg.AppSecret); err != nil {
		logger.Warn("Persisting app credentials failed", "error", err)
	}
	if err := seedAIConfig(store, cfg); err != nil {
		logger.Warn("Seeding AI config failed", "error", err)
	}

	client := lark.NewClient(nil, cfg.FeishuBaseURL, cfg.LarkBaseURL)
	tokens := lark.NewTokenManager(client, store, logger, cfg.AppID, cfg.AppSecret)
	fetcher := document.NewFetcher(client, tokens, logger)
	sessions := session.NewManager(store, logger)

	prompts, err := session.LoadPrompts(cfg.PromptsFile)
	if err != nil {
		return fmt.Errorf("loading prompts: %w", err)
	}

	hub := server.NewHub(logger)
	flow := oauth.NewFlow(client, tokens, store, nil, logger, cfg.AppID, cfg.AppSecret, cfg.RedirectURI)
	flow.SetNotify(func(event string) {
		hub.Broadcast(server.Event{Type: event})
	})

	var mcpHandler http.Handler
	if cfg.EnableMCP {
		mcpServer := mcp.NewServer(
			&mcp.Implementation{Name: "larkdoc-mcp", Version: Version},
			nil,
		)
		mcpserver.RegisterTools(mcpServer, fetcher, client, tokens, sessions)
		mcpHandler = mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
			return mcpServer
		}, nil)
	}

	mux := server.NewMux(server.MuxConfig{
		Store:      store,
		Client:     client,
		Flow:       flow,
		Fetcher:    fetcher,
		Sessions:   sessions,
		Prompts:    prompts,
		Hub:        hub,
		MCPHandler: mcpHandler,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// Chat responses stream for as long as the backend talks, so no
		// write deadline. Idle keepalives still get reaped.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("bridge listening", slog.String("addr", cfg.ListenAddr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// seedAIConfig copies backend credentials from the environment into the
// state store on first run. A config saved through the API wins;
// environment values only fill the gap when nothing is stored yet.
func seedAIConfig(store *state.State, cfg *config.Config) error {
	existing, err := store.AIConfig()
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	keys := make(map[string]string)
	if cfg.ZhipuAPIKey != "" {
		keys[models.AIModelZhipu] = cfg.ZhipuAPIKey
	}
	if cfg.GeminiAPIKey != "" {
		keys[models.AIModelGemini] = cfg.GeminiAPIKey
	}
	if cfg.CustomAPIKey != "" {
		keys[models.AIModelCustom] = cfg.CustomAPIKey
	}

	return store.SetAIConfig(models.AIConfig{
		Model:           cfg.AIModel,
		APIKeys:         keys,
		APIURL:          cfg.CustomAPIURL,
		ModelName:       cfg.CustomModelName,
		GeminiModelName: cfg.GeminiModelName,
	})
}
