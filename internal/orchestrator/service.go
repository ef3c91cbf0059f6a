package orchestrator

import (
	"context"
	"fmt"
	"net/http"

	"github.com/inngest/inngestgo"
	"go.uber.org/zap"
)

// TailWorkflowConfig names the Inngest app the tail workflow registers
// under, mirroring teacher kernel.WorkflowConfig.
type TailWorkflowConfig struct {
	AppID  string
	Logger *zap.Logger
}

// TailService owns the Inngest client the background tail runs under
// and exposes the HTTP handler Inngest's executor calls back into.
type TailService struct {
	client inngestgo.Client
	logger *zap.Logger
	server *http.Server
}

// NewTailService creates the Inngest client and registers the tail
// workflow function against o.
func NewTailService(cfg TailWorkflowConfig, o *Orchestrator) (*TailService, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	client, err := inngestgo.NewClient(inngestgo.ClientOpts{AppID: cfg.AppID})
	if err != nil {
		return nil, fmt.Errorf("create inngest client: %w", err)
	}

	ts := &TailService{client: client, logger: cfg.Logger.Named("tail_service")}

	_, err = inngestgo.CreateFunction(
		client,
		inngestgo.FunctionOpts{ID: "turn-tail", Name: "Turn Background Tail"},
		inngestgo.EventTrigger("turn.tail.ready", nil),
		tailWorkflow(o),
	)
	if err != nil {
		return nil, fmt.Errorf("register turn tail workflow: %w", err)
	}

	return ts, nil
}

// Client exposes the underlying Inngest client so a TailDispatcher can
// be built from the same connection.
func (ts *TailService) Client() inngestgo.Client { return ts.client }

// Serve starts the HTTP server Inngest's executor invokes steps
// through, alongside a bare health endpoint.
func (ts *TailService) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/", ts.client.Serve())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	server := &http.Server{Addr: addr, Handler: mux}
	ts.server = server
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ts.logger.Error("tail service HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown gracefully stops the tail service's HTTP server.
func (ts *TailService) Shutdown(ctx context.Context) error {
	if ts.server != nil {
		return ts.server.Shutdown(ctx)
	}
	return nil
}
