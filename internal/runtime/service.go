// Package runtime wires the agent tree core to its collaborators: strategies,
// the brain adapter, the operator exchange, the result store and metrics.
package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/delphi/internal/agents"
	"github.com/antoniostano/delphi/internal/brain"
	"github.com/antoniostano/delphi/internal/observability"
)

const storeSaveTimeout = 2 * time.Second

type Config struct {
	// MaxTreeDepth stops recursive fan-out below this depth. Zero disables
	// the guard.
	MaxTreeDepth int

	// RootRunTimeout bounds a whole root run; the subtree settles as
	// cancelled when it fires. Zero means no timeout.
	RootRunTimeout time.Duration
}

type Service struct {
	cfg      Config
	registry *agents.Registry
	env      *agents.Env
	store    agents.Store
	metrics  *observability.Metrics

	mu          sync.Mutex
	rootCancels map[string]context.CancelFunc

	archiveWG   sync.WaitGroup
	unsubscribe func()
	loopDone    chan struct{}
}

func New(cfg Config, decider agents.Decider, asker agents.Asker, adapter brain.Adapter, store agents.Store, metrics *observability.Metrics) *Service {
	registry := agents.NewRegistry()
	s := &Service{
		cfg:         cfg,
		registry:    registry,
		store:       store,
		metrics:     metrics,
		rootCancels: make(map[string]context.CancelFunc),
		loopDone:    make(chan struct{}),
	}
	s.env = &agents.Env{
		Registry: registry,
		Decider:  decider,
		Asker:    asker,
		Answerer: brainAnswerer{adapter: adapter},
		MaxDepth: cfg.MaxTreeDepth,
		Archive:  s.archive,
	}

	events, unsubscribe := registry.Subscribe()
	s.unsubscribe = unsubscribe
	go s.observe(events)

	return s
}

// StartRoot registers a root node and launches its run protocol. The returned
// channel delivers the root's result exactly once.
func (s *Service) StartRoot(ctx context.Context, content, annotation string) (string, <-chan agents.Result, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", nil, errors.New("content is required")
	}

	root, err := agents.NewNode(s.env, "", content, annotation, 0)
	if err != nil {
		return "", nil, err
	}

	// The run outlives the caller (typically an HTTP request): keep the
	// caller's values but not its cancellation. Lifetime is bounded by
	// RootRunTimeout and CancelNode instead.
	runCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if s.cfg.RootRunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, s.cfg.RootRunTimeout)
	} else {
		runCtx, cancel = context.WithCancel(runCtx)
	}
	root.BindCancel(cancel)
	s.setRootCancel(root.ID(), cancel)

	results := make(chan agents.Result, 1)
	go func() {
		defer cancel()
		defer s.clearRootCancel(root.ID())
		results <- root.Run(runCtx)
	}()

	return root.ID(), results, nil
}

// Intervene applies an operator override to a live node. Returns false when
// the node is not registered.
func (s *Service) Intervene(id string, ov agents.Override) bool {
	return s.registry.ApplyOverride(id, ov)
}

// CancelNode requests cooperative cancellation of a node and its subtree.
func (s *Service) CancelNode(id string) bool {
	return s.registry.Cancel(id)
}

// SnapshotTree returns a consistent point-in-time view of the live tree.
func (s *Service) SnapshotTree() map[string]agents.TreeNode {
	return s.registry.Snapshot()
}

// Get returns the live view of a node, falling back to its archived record
// once it has settled and left the tree.
func (s *Service) Get(ctx context.Context, id string) (agents.Record, bool, error) {
	if n, ok := s.registry.Get(id); ok {
		return agents.Record{
			ID:         n.ID(),
			ParentID:   n.ParentID(),
			Content:    n.Content(),
			Annotation: n.Annotation(),
			Status:     n.Status(),
		}, true, nil
	}
	if s.store == nil {
		return agents.Record{}, false, agents.ErrNotFound
	}
	rec, err := s.store.GetResult(ctx, id)
	if err != nil {
		if errors.Is(err, agents.ErrStoreNotFound) {
			return agents.Record{}, false, agents.ErrNotFound
		}
		return agents.Record{}, false, err
	}
	return rec, false, nil
}

// ListRecent returns recently settled records from the archive.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]agents.Record, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.ListRecent(ctx, limit)
}

// Subscribe attaches an observer to the tree's lifecycle events.
func (s *Service) Subscribe() (<-chan agents.Event, func()) {
	return s.registry.Subscribe()
}

// Events returns the most recent lifecycle events for late-joining observers.
func (s *Service) Events(limit int) []agents.Event {
	return s.registry.Events(limit)
}

// NotifyQuestion publishes a pending operator question to the event feed.
func (s *Service) NotifyQuestion(nodeID, questionID, prompt string) {
	s.registry.PublishQuestion(nodeID, questionID, prompt)
}

// Close cancels outstanding roots and releases the event subscription and the
// store. Running nodes settle as cancelled on their own.
func (s *Service) Close() error {
	s.mu.Lock()
	for id, cancel := range s.rootCancels {
		cancel()
		delete(s.rootCancels, id)
	}
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
		<-s.loopDone
	}
	// In-flight archive writes must land before the store goes away.
	s.archiveWG.Wait()
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func (s *Service) archive(rec agents.Record) {
	if s.metrics != nil {
		s.metrics.ObserveNodeRun(rec.SettledAt.Sub(rec.CreatedAt))
	}
	if s.store == nil {
		return
	}
	s.archiveWG.Add(1)
	go func(rec agents.Record) {
		defer s.archiveWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), storeSaveTimeout)
		defer cancel()
		if err := s.store.SaveResult(ctx, rec); err != nil && s.metrics != nil {
			s.metrics.StoreErrors.WithLabelValues("save").Inc()
		}
	}(rec)
}

func (s *Service) observe(events <-chan agents.Event) {
	defer close(s.loopDone)
	for evt := range events {
		if s.metrics == nil {
			continue
		}
		switch evt.Type {
		case agents.EventAgentSpawned:
			s.metrics.LiveAgents.Set(float64(s.registry.Len()))
			if evt.ParentID != "" {
				s.metrics.ChildrenSpawned.Inc()
			}
		case agents.EventAgentSettled:
			s.metrics.LiveAgents.Set(float64(s.registry.Len()))
			s.metrics.Settlements.WithLabelValues(string(evt.Status)).Inc()
		case agents.EventAgentQuestion:
			s.metrics.OperatorQuestions.Inc()
		case agents.EventAgentIntervened:
			s.metrics.Interventions.Inc()
		}
	}
}

func (s *Service) setRootCancel(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rootCancels[id] = cancel
}

func (s *Service) clearRootCancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rootCancels, id)
}

// brainAnswerer adapts the brain adapter to the answering contract the node
// protocol expects.
type brainAnswerer struct {
	adapter brain.Adapter
}

func (b brainAnswerer) Answer(ctx context.Context, nodeID, prompt string) (string, error) {
	res, err := b.adapter.Complete(ctx, brain.Request{NodeID: nodeID, Prompt: prompt})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Text), nil
}
