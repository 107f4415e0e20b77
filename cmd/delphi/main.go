package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/antoniostano/delphi/internal/agents"
	"github.com/antoniostano/delphi/internal/brain"
	"github.com/antoniostano/delphi/internal/config"
	"github.com/antoniostano/delphi/internal/httpapi"
	"github.com/antoniostano/delphi/internal/observability"
	"github.com/antoniostano/delphi/internal/operator"
	"github.com/antoniostano/delphi/internal/runtime"
	"github.com/antoniostano/delphi/internal/strategy"
)

func main() {
	demoContent := flag.String("demo", "", "run a single root question to completion against mock collaborators and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	if *demoContent != "" {
		runDemo(cfg, *demoContent)
		return
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, storeMode, err := agents.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("result store init failed: %v", err)
	}
	log.Printf("result store: %s", storeMode)

	adapter, err := brain.NewAdapter(brain.Config{
		Mode:    cfg.BrainMode,
		HTTPURL: cfg.BrainHTTPURL,
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		log.Fatalf("brain adapter init failed: %v", err)
	}

	exchange := operator.NewExchange(cfg.OperatorAnswerTimeout)
	var asker agents.Asker = exchange
	if strings.EqualFold(cfg.OperatorMode, "auto") {
		asker = operator.NewStaticResponder("")
		log.Printf("operator: auto-responder (OPERATOR_MODE=auto)")
	}

	var decider agents.Decider = strategy.Heuristic{}
	if strings.EqualFold(cfg.StrategyMode, "brain") {
		decider = strategy.NewBrain(adapter, 0)
		log.Printf("strategies: brain-backed")
	}

	service := runtime.New(runtime.Config{
		MaxTreeDepth:   cfg.MaxTreeDepth,
		RootRunTimeout: cfg.RootRunTimeout,
	}, decider, asker, adapter, store, metrics)
	defer service.Close()

	exchange.SetNotify(func(q operator.Question) {
		service.NotifyQuestion(q.NodeID, q.ID, q.Prompt)
	})

	api := httpapi.New(cfg, service, exchange)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

// runDemo drives one root question through the full protocol with mock
// collaborators, printing tree snapshots while the run is live.
func runDemo(cfg config.Config, content string) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	service := runtime.New(runtime.Config{
		MaxTreeDepth: cfg.MaxTreeDepth,
	}, strategy.Heuristic{}, operator.NewStaticResponder("confirmed, proceed"), brain.NewMockAdapter(), agents.NewMemoryStore(), metrics)
	defer service.Close()

	id, results, err := service.StartRoot(context.Background(), content, agents.AnnotationUnchanged)
	if err != nil {
		log.Fatalf("start root failed: %v", err)
	}
	log.Printf("root agent %s started", id)

	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case res := <-results:
			printTree(service.SnapshotTree())
			response := "(none)"
			if res.Response != nil {
				response = *res.Response
			}
			log.Printf("root settled: status=%s children=%d", res.Status, len(res.Children))
			fmt.Println(response)
			return
		case <-ticker.C:
			printTree(service.SnapshotTree())
		}
	}
}

func printTree(tree map[string]agents.TreeNode) {
	ids := make([]string, 0, len(tree))
	for id := range tree {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	log.Printf("live tree: %d node(s)", len(ids))
	for _, id := range ids {
		node := tree[id]
		content := node.Content
		if len(content) > 60 {
			content = content[:60] + "..."
		}
		log.Printf("  %s status=%s children=%d content=%q", id[:8], node.Status, len(node.Children), content)
	}
}
