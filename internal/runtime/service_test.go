package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/antoniostano/delphi/internal/agents"
	"github.com/antoniostano/delphi/internal/brain"
	"github.com/antoniostano/delphi/internal/operator"
	"github.com/antoniostano/delphi/internal/strategy"
)

func newTestService(t *testing.T, cfg Config, adapter brain.Adapter) *Service {
	t.Helper()
	if adapter == nil {
		adapter = brain.NewMockAdapter()
	}
	svc := New(cfg, strategy.Heuristic{}, operator.NewStaticResponder("confirmed"), adapter, agents.NewMemoryStore(), nil)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func awaitResult(t *testing.T, results <-chan agents.Result) agents.Result {
	t.Helper()
	select {
	case res := <-results:
		return res
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for root result")
		return agents.Result{}
	}
}

func TestServiceRunsRootToCompletion(t *testing.T) {
	svc := newTestService(t, Config{}, nil)

	id, results, err := svc.StartRoot(context.Background(), "Review pricing. Review churn. Review growth", "")
	if err != nil {
		t.Fatalf("StartRoot() error = %v", err)
	}
	res := awaitResult(t, results)

	if res.ID != id {
		t.Fatalf("res.ID = %q, want %q", res.ID, id)
	}
	if res.Status != agents.StatusCompleted {
		t.Fatalf("res.Status = %q, want %q", res.Status, agents.StatusCompleted)
	}
	if len(res.Children) != 3 {
		t.Fatalf("len(res.Children) = %d, want 3", len(res.Children))
	}
	if res.Response == nil || !strings.Contains(*res.Response, "synthesized answer") {
		t.Fatalf("res.Response = %v, want aggregated mock answers", res.Response)
	}
}

func TestServiceGetFallsBackToStore(t *testing.T) {
	svc := newTestService(t, Config{}, nil)

	id, results, err := svc.StartRoot(context.Background(), "simple request", "")
	if err != nil {
		t.Fatalf("StartRoot() error = %v", err)
	}
	awaitResult(t, results)

	// The archive write is asynchronous; poll until it lands.
	deadline := time.Now().Add(3 * time.Second)
	for {
		rec, live, err := svc.Get(context.Background(), id)
		if err == nil {
			if live {
				t.Fatalf("Get() live = true after settlement, want false")
			}
			if rec.Status != agents.StatusCompleted {
				t.Fatalf("archived status = %q, want %q", rec.Status, agents.StatusCompleted)
			}
			return
		}
		if !errors.Is(err, agents.ErrNotFound) {
			t.Fatalf("Get() error = %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("archived record never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServiceGetUnknownID(t *testing.T) {
	svc := newTestService(t, Config{}, nil)

	if _, _, err := svc.Get(context.Background(), "no-such-agent"); !errors.Is(err, agents.ErrNotFound) {
		t.Fatalf("Get(unknown) error = %v, want %v", err, agents.ErrNotFound)
	}
}

func TestServiceStartRootOutlivesCallerContext(t *testing.T) {
	svc := newTestService(t, Config{}, nil)

	// A settled request context must not take the run down with it.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, results, err := svc.StartRoot(ctx, "survives the request", "")
	if err != nil {
		t.Fatalf("StartRoot() error = %v", err)
	}
	res := awaitResult(t, results)
	if res.Status != agents.StatusCompleted {
		t.Fatalf("res.Status = %q, want %q", res.Status, agents.StatusCompleted)
	}
}

func TestServiceStartRootRejectsEmptyContent(t *testing.T) {
	svc := newTestService(t, Config{}, nil)

	if _, _, err := svc.StartRoot(context.Background(), "   ", ""); err == nil {
		t.Fatalf("StartRoot(blank) error = nil, want error")
	}
}

type stallingAdapter struct{}

func (stallingAdapter) Complete(ctx context.Context, _ brain.Request) (brain.Response, error) {
	<-ctx.Done()
	return brain.Response{}, ctx.Err()
}

func TestServiceCancelNodeSettlesCancelled(t *testing.T) {
	svc := newTestService(t, Config{}, stallingAdapter{})

	id, results, err := svc.StartRoot(context.Background(), "hangs on the answer", "")
	if err != nil {
		t.Fatalf("StartRoot() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(svc.SnapshotTree()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("root never appeared in the tree")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !svc.CancelNode(id) {
		t.Fatalf("CancelNode(%q) = false, want true", id)
	}

	res := awaitResult(t, results)
	if res.Status != agents.StatusCancelled {
		t.Fatalf("res.Status = %q, want %q", res.Status, agents.StatusCancelled)
	}
}

func TestServiceRootRunTimeout(t *testing.T) {
	svc := newTestService(t, Config{RootRunTimeout: 50 * time.Millisecond}, stallingAdapter{})

	_, results, err := svc.StartRoot(context.Background(), "never finishes", "")
	if err != nil {
		t.Fatalf("StartRoot() error = %v", err)
	}

	res := awaitResult(t, results)
	if res.Status != agents.StatusCancelled {
		t.Fatalf("res.Status = %q, want %q", res.Status, agents.StatusCancelled)
	}
}

func TestServiceInterveneDeletesLiveNode(t *testing.T) {
	svc := newTestService(t, Config{}, stallingAdapter{})

	id, results, err := svc.StartRoot(context.Background(), "long running inquiry", "")
	if err != nil {
		t.Fatalf("StartRoot() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(svc.SnapshotTree()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("root never appeared in the tree")
		}
		time.Sleep(5 * time.Millisecond)
	}
	st := agents.StatusCancelled
	if !svc.Intervene(id, agents.Override{Status: &st}) {
		t.Fatalf("Intervene(%q) = false, want true", id)
	}
	// The stalled answer call still holds the run; cancel to release it.
	svc.CancelNode(id)

	res := awaitResult(t, results)
	if res.Status != agents.StatusCancelled {
		t.Fatalf("res.Status = %q, want %q", res.Status, agents.StatusCancelled)
	}
}

func TestServiceInterveneUnknownID(t *testing.T) {
	svc := newTestService(t, Config{}, nil)

	if svc.Intervene("ghost", agents.Override{Annotation: strPtr(agents.AnnotationDelete)}) {
		t.Fatalf("Intervene(unknown) = true, want false")
	}
	if svc.CancelNode("ghost") {
		t.Fatalf("CancelNode(unknown) = true, want false")
	}
}

func TestServiceMaxTreeDepthLimitsRecursion(t *testing.T) {
	svc := newTestService(t, Config{MaxTreeDepth: 1}, nil)

	// Children carry dots too, but depth 1 nodes may not fan out further.
	_, results, err := svc.StartRoot(context.Background(), "a. b. c", "")
	if err != nil {
		t.Fatalf("StartRoot() error = %v", err)
	}
	res := awaitResult(t, results)

	if res.Status != agents.StatusCompleted {
		t.Fatalf("res.Status = %q, want %q", res.Status, agents.StatusCompleted)
	}
	if len(res.Children) != 3 {
		t.Fatalf("len(res.Children) = %d, want 3", len(res.Children))
	}

	recs, err := svc.ListRecent(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for len(recs) < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("archived records = %d, want 4", len(recs))
		}
		time.Sleep(10 * time.Millisecond)
		recs, _ = svc.ListRecent(context.Background(), 0)
	}
	if len(recs) != 4 {
		t.Fatalf("archived records = %d, want exactly root plus 3 children", len(recs))
	}
}

type trackingStore struct {
	mu                 sync.Mutex
	inflight           int
	saved              int
	closedWithInflight bool
}

func (s *trackingStore) SaveResult(_ context.Context, _ agents.Record) error {
	s.mu.Lock()
	s.inflight++
	s.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	s.inflight--
	s.saved++
	s.mu.Unlock()
	return nil
}

func (s *trackingStore) GetResult(_ context.Context, _ string) (agents.Record, error) {
	return agents.Record{}, agents.ErrStoreNotFound
}

func (s *trackingStore) ListRecent(_ context.Context, _ int) ([]agents.Record, error) {
	return nil, nil
}

func (s *trackingStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		s.closedWithInflight = true
	}
	return nil
}

func TestServiceCloseWaitsForArchiveWrites(t *testing.T) {
	store := &trackingStore{}
	svc := New(Config{}, strategy.Heuristic{}, operator.NewStaticResponder(""), brain.NewMockAdapter(), store, nil)

	_, results, err := svc.StartRoot(context.Background(), "archived request", "")
	if err != nil {
		t.Fatalf("StartRoot() error = %v", err)
	}
	awaitResult(t, results)

	if err := svc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.closedWithInflight {
		t.Fatalf("store closed while a save was in flight")
	}
	if store.saved == 0 {
		t.Fatalf("saved = 0, want the settled record archived before Close returned")
	}
}

func TestServiceEventsRecordLifecycle(t *testing.T) {
	svc := newTestService(t, Config{}, nil)

	_, results, err := svc.StartRoot(context.Background(), "tracked request", "")
	if err != nil {
		t.Fatalf("StartRoot() error = %v", err)
	}
	awaitResult(t, results)

	var spawned, settled bool
	for _, evt := range svc.Events(0) {
		switch evt.Type {
		case agents.EventAgentSpawned:
			spawned = true
		case agents.EventAgentSettled:
			settled = true
		}
	}
	if !spawned || !settled {
		t.Fatalf("events missing lifecycle: spawned=%v settled=%v", spawned, settled)
	}
}

func strPtr(s string) *string { return &s }
