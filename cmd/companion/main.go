// Command companion is the entrypoint for the conversational-memory
// backend: it wires the graph store, LLM gateway, keyed SQLite stores,
// memory engine, and turn orchestrator, then serves the orchestrator's
// background-tail executor callback and a health check, mirroring
// teacher cmd/kernel/main.go's wiring order (graph → caches →
// engines → background loops → HTTP).
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/reflective-memory-kernel/internal/agents/decision"
	"github.com/reflective-memory-kernel/internal/agents/extraction"
	"github.com/reflective-memory-kernel/internal/agents/whisper"
	rcache "github.com/reflective-memory-kernel/internal/cache"
	"github.com/reflective-memory-kernel/internal/clock"
	"github.com/reflective-memory-kernel/internal/config"
	memcontext "github.com/reflective-memory-kernel/internal/context"
	"github.com/reflective-memory-kernel/internal/focus"
	"github.com/reflective-memory-kernel/internal/graph"
	"github.com/reflective-memory-kernel/internal/llm"
	"github.com/reflective-memory-kernel/internal/memengine"
	"github.com/reflective-memory-kernel/internal/orchestrator"
	"github.com/reflective-memory-kernel/internal/profile"
	"github.com/reflective-memory-kernel/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file overlaying the defaults")
	listenAddr := flag.String("listen", ":8090", "address for the Inngest executor callback; the health check listens one port above it")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg, *listenAddr, logger); err != nil {
		logger.Fatal("companion exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, listenAddr string, logger *zap.Logger) error {
	db, err := store.Open(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.MigrateAll(ctx, db,
		memcontext.Migrate,
		profile.Migrate,
		focus.Migrate,
	); err != nil {
		return err
	}

	graphClient, err := graph.NewClient(ctx, graph.ClientConfig{
		Address:        cfg.DGraphAddress,
		MaxRetries:     10,
		RetryInterval:  3 * time.Second,
		RequestTimeout: 30 * time.Second,
	}, logger)
	if err != nil {
		return err
	}
	defer graphClient.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable at startup, L1 cache will run degraded", zap.Error(err))
	}

	l1Cache, err := rcache.NewL1Cache(1<<26, 10*time.Minute, redisClient, logger)
	if err != nil {
		return err
	}
	defer l1Cache.Close()

	natsConn, err := nats.Connect(cfg.NATSAddress, nats.RetryOnFailedConnect(true), nats.MaxReconnects(10))
	if err != nil {
		return err
	}
	defer natsConn.Close()
	js, err := natsConn.JetStream()
	if err != nil {
		return err
	}

	gateway := llm.New(llm.Config{
		ChatProvider:    llm.Provider(cfg.LLM.Provider),
		JSONProvider:    llm.Provider(cfg.LLM.Provider),
		EmbedProvider:   llm.ProviderOpenAI,
		ChatModel:       cfg.LLM.ChatModel,
		JSONModel:       cfg.LLM.JSONModel,
		EmbedModel:      cfg.LLM.EmbeddingModel,
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:   cfg.LLM.BaseURL,
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OllamaBaseURL:   cfg.LLM.BaseURL,
	}, logger)

	qdrantHost, qdrantPort, err := splitHostPort(cfg.QdrantAddress)
	if err != nil {
		return err
	}
	memory, err := memengine.New(ctx, memengine.Config{
		Vector: memengine.VectorConfig{
			Host:       qdrantHost,
			Port:       qdrantPort,
			Collection: "facts",
			Dimension:  1024,
		},
		Keyword: memengine.KeywordConfig{IndexPath: cfg.BleveIndexDir},
	}, graphClient, gateway, cfg.LLM.JSONModel, logger)
	if err != nil {
		return err
	}
	defer memory.Close()

	clk := clock.Real
	contextStore := memcontext.NewStore(db, l1Cache, gateway, clk, cfg.ContextCompactThreshold, cfg.SessionTTL, logger)
	profileStore := profile.NewStore(db, logger)
	focusStore := focus.NewStore(db, clk, logger)

	decisionAgent := decision.New(gateway, cfg.LLM.JSONModel)
	extractionAgent := extraction.New(gateway, cfg.LLM.JSONModel, logger)
	whisperPlanner := whisper.NewPlanner(gateway, cfg.LLM.JSONModel)

	// The dispatcher's Inngest client comes from the tail service,
	// which registers its workflow against this same orchestrator — a
	// circular dependency broken by wiring the dispatcher in after
	// both exist, via SetDispatcher.
	orch := orchestrator.New(
		orchestrator.Config{ChatModel: cfg.LLM.ChatModel, RetrieveLimit: 8},
		clk, db, gateway,
		contextStore, profileStore, focusStore, memory,
		decisionAgent, extractionAgent, whisperPlanner,
		nil,
		logger,
	)

	tailService, err := orchestrator.NewTailService(orchestrator.TailWorkflowConfig{AppID: "companion", Logger: logger}, orch)
	if err != nil {
		return err
	}
	dispatcher, err := orchestrator.NewTailDispatcher(ctx, js, tailService.Client(), logger)
	if err != nil {
		return err
	}
	if _, err := dispatcher.Subscribe(ctx); err != nil {
		return err
	}
	orch.SetDispatcher(dispatcher)

	if err := tailService.Serve(listenAddr); err != nil {
		return err
	}
	defer tailService.Shutdown(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	healthServer := &http.Server{Addr: incrementPort(listenAddr), Handler: mux}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", zap.Error(err))
		}
	}()
	defer healthServer.Shutdown(ctx)

	// orch.HandleTurn is the entrypoint a front-end process calls per
	// turn; HTTP routes for it are a non-goal of this specification
	// (spec.md §6), so this binary's own job ends at keeping the
	// background tail executor alive.
	_ = orch

	logger.Info("companion memory backend started", zap.String("listen", listenAddr))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")
	return nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// incrementPort derives the plain health-check listener's address
// from the Inngest executor callback's, one port up, so both can run
// in the same process without a flag for each.
func incrementPort(addr string) string {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return addr
	}
	return net.JoinHostPort(host, strconv.Itoa(port+1))
}
