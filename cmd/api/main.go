package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"

	"github.com/pocketcoach/backend/internal/config"
	"github.com/pocketcoach/backend/internal/handler"
	"github.com/pocketcoach/backend/internal/service/ai"
	chatservice "github.com/pocketcoach/backend/internal/service/chat"
	"github.com/pocketcoach/backend/internal/service/sentiment"
	"github.com/pocketcoach/backend/internal/service/session"
	"github.com/pocketcoach/backend/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Durable session store and user directory
	store, err := session.NewFileStore(cfg.Store.Dir)
	if err != nil {
		log.Fatalf("failed to open session store: %v", err)
	}
	users := session.NewUserDirectory(store, ai.FirstQuestion)

	// Chat model backend: Ark first, OpenAI via langchaingo otherwise
	var chatModel model.ChatModel
	switch {
	case cfg.AI.ArkEnabled():
		chatModel, err = cfg.AI.NewArkChatModel(ctx)
		if err != nil {
			log.Fatalf("failed to initialize ark chat model: %v", err)
		}
		log.Println("Ark chat model initialized")
	case cfg.AI.OpenAIEnabled():
		chatModel, err = ai.NewOpenAIChatModel(cfg.AI.OpenAIAPIKey, cfg.AI.OpenAIModel)
		if err != nil {
			log.Fatalf("failed to initialize openai chat model: %v", err)
		}
		log.Println("OpenAI chat model initialized")
	default:
		log.Fatal("no model backend configured: set ARK_API_KEY + ARK_MODEL or OPENAI_API_KEY + OPENAI_MODEL")
	}

	aiSvc, err := ai.NewService(ctx, chatModel, ai.Config{
		SystemPrompt:   cfg.AI.SystemPrompt,
		StreamResponse: cfg.AI.StreamResponse,
	})
	if err != nil {
		log.Fatalf("failed to initialize AI service: %v", err)
	}

	// Sentiment classifier (LLM-based with heuristic fallback)
	sentimentSvc, err := sentiment.NewService(ctx, chatModel, sentiment.Config{
		Enabled: cfg.AI.SentimentLLMEnabled,
	})
	if err != nil {
		log.Printf("warning: failed to initialize sentiment classifier: %v", err)
		sentimentSvc, _ = sentiment.NewService(ctx, nil, sentiment.Config{})
	}
	if sentimentSvc.Enabled() {
		log.Println("Sentiment classifier enabled")
	} else {
		log.Println("Sentiment classifier using keyword heuristics")
	}

	// Telemetry sink, best-effort analytics
	var sink telemetry.Sink = telemetry.Nop()
	if cfg.Telemetry.DBPath != "" {
		sqliteSink, err := telemetry.NewSQLiteSink(cfg.Telemetry.DBPath, cfg.Telemetry.Buffer)
		if err != nil {
			log.Printf("warning: failed to initialize telemetry sink: %v", err)
		} else {
			defer sqliteSink.Close()
			sink = sqliteSink
			log.Println("Telemetry sink initialized")
		}
	}

	chatSvc := chatservice.NewService(store, users, aiSvc, sentimentSvc, sink, chatservice.Options{
		ModelTimeout: time.Duration(cfg.AI.ModelTimeoutSeconds) * time.Second,
		MaxInFlight:  cfg.AI.MaxInFlight,
	})

	router := handler.NewRouter(chatSvc)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Pocketcoach backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
