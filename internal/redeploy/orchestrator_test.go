package redeploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"

	"github.com/skyportlabs/panel/internal/audit"
	"github.com/skyportlabs/panel/internal/node"
	"github.com/skyportlabs/panel/internal/store"
)

type fakeNodes struct {
	mu          sync.Mutex
	existsErr   error
	redeployErr error
	result      node.RedeployResult
	removed     []string
	payload     node.RedeployPayload
}

func (f *fakeNodes) ContainerExists(_ context.Context, _ store.Node, _ string) error {
	return f.existsErr
}

func (f *fakeNodes) Redeploy(_ context.Context, _ store.Node, _ string, payload node.RedeployPayload) (node.RedeployResult, error) {
	f.mu.Lock()
	f.payload = payload
	f.mu.Unlock()
	if f.redeployErr != nil {
		return node.RedeployResult{}, f.redeployErr
	}
	return f.result, nil
}

func (f *fakeNodes) RemoveContainer(_ context.Context, _ store.Node, containerID string) error {
	f.mu.Lock()
	f.removed = append(f.removed, containerID)
	f.mu.Unlock()
	return nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (f *fakeRecorder) Record(_ context.Context, ev audit.Event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeRecorder) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Action)
	}
	return out
}

func testRequest(t *testing.T) Request {
	t.Helper()
	q := url.Values{
		"image":   {"Nginx (nginx:latest)"},
		"memory":  {"512"},
		"cpu":     {"1"},
		"ports":   {"80:8080"},
		"name":    {"web"},
		"user":    {"u1"},
		"primary": {"true"},
	}
	req, err := ValidateRequest("i1", q)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	return req
}

func seedStore(t *testing.T, kv store.KV) *store.Records {
	t.Helper()
	ctx := context.Background()
	recs := store.NewRecords(kv)
	n := store.Node{ID: "n1", Name: "node-1", Address: "10.0.0.5", Port: 8765, APIKey: "key123"}
	if err := kv.Set(ctx, store.NodeKey("n1"), n); err != nil {
		t.Fatalf("seed node: %v", err)
	}
	inst := store.Instance{ID: "i1", Name: "old", User: "u1", Node: n, ContainerID: "c1", VolumeID: "i1", Env: []string{"A=1"}}
	if err := recs.PutInstance(ctx, inst); err != nil {
		t.Fatalf("seed instance: %v", err)
	}
	if err := kv.Set(ctx, store.ImagesKey, []store.Image{{Image: "nginx:latest", AltImages: []string{"nginx:stable"}}}); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	return recs
}

func newTestOrchestrator(recs *store.Records, nodes NodeClient, rec audit.Recorder) *Orchestrator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewOrchestrator(recs, nodes, rec, nil, logger)
}

var testActor = Actor{UserID: "admin1", Username: "root", SourceIP: "10.1.1.1"}

func TestRedeploySuccess(t *testing.T) {
	kv := store.NewMemKV()
	recs := seedStore(t, kv)
	nodes := &fakeNodes{result: node.RedeployResult{ContainerID: "c2", VolumeID: "v1"}}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(recs, nodes, rec)
	ctx := context.Background()

	result, err := o.Redeploy(ctx, testRequest(t), testActor)
	if err != nil {
		t.Fatalf("redeploy: %v", err)
	}
	if result.ContainerID != "c2" || result.VolumeID != "v1" || result.InstanceID != "i1" {
		t.Fatalf("unexpected result: %+v", result)
	}

	inst, err := recs.Instance(ctx, "i1")
	if err != nil {
		t.Fatalf("read instance: %v", err)
	}
	if inst.ContainerID != "c2" || inst.Image != "nginx:latest" || inst.Name != "web" {
		t.Fatalf("record not reconciled: %+v", inst)
	}
	for _, key := range []string{store.GlobalInstancesKey, store.UserInstancesKey("u1")} {
		list, _ := recs.InstanceList(ctx, key)
		if len(list) != 1 || list[0].ContainerID != "c2" {
			t.Fatalf("view %s not reconciled: %+v", key, list)
		}
	}

	actions := rec.actions()
	if len(actions) != 1 || actions[0] != audit.EventRedeploy {
		t.Fatalf("unexpected audit trail: %v", actions)
	}
	if nodes.payload.Env[0] != "A=1" {
		t.Fatalf("existing env not carried: %v", nodes.payload.Env)
	}
}

func TestRedeployInstanceNotFound(t *testing.T) {
	kv := store.NewMemKV()
	rec := &fakeRecorder{}
	o := newTestOrchestrator(store.NewRecords(kv), &fakeNodes{}, rec)

	_, err := o.Redeploy(context.Background(), testRequest(t), testActor)
	re := AsError(err)
	if re.Kind != KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	actions := rec.actions()
	if len(actions) != 1 || actions[0] != audit.EventRedeployFailNotFound {
		t.Fatalf("unexpected audit trail: %v", actions)
	}
}

func TestRedeployMissingNodeAssignment(t *testing.T) {
	kv := store.NewMemKV()
	recs := store.NewRecords(kv)
	rec := &fakeRecorder{}
	ctx := context.Background()
	if err := recs.PutInstance(ctx, store.Instance{ID: "i1", ContainerID: "c1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	o := newTestOrchestrator(recs, &fakeNodes{}, rec)

	_, err := o.Redeploy(ctx, testRequest(t), testActor)
	if re := AsError(err); re.Kind != KindInvalidState {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if len(rec.actions()) != 0 {
		t.Fatalf("node-assignment failure must not be audited: %v", rec.actions())
	}
}

func TestRedeployDanglingNodeRecord(t *testing.T) {
	kv := store.NewMemKV()
	recs := store.NewRecords(kv)
	rec := &fakeRecorder{}
	ctx := context.Background()
	inst := store.Instance{ID: "i1", ContainerID: "c1", Node: store.Node{ID: "n-gone"}}
	if err := recs.PutInstance(ctx, inst); err != nil {
		t.Fatalf("seed: %v", err)
	}
	o := newTestOrchestrator(recs, &fakeNodes{}, rec)

	_, err := o.Redeploy(ctx, testRequest(t), testActor)
	if re := AsError(err); re.Kind != KindInvalidState {
		t.Fatalf("expected invalid state, got %v", err)
	}
	events := rec.events
	if len(events) != 1 || events[0].Action != audit.EventRedeployFailInvalidNode {
		t.Fatalf("unexpected audit trail: %+v", events)
	}
	if events[0].Details["node_id"] != "n-gone" {
		t.Fatalf("audit event must carry node id: %+v", events[0].Details)
	}
}

func TestRedeployImageWithoutParens(t *testing.T) {
	kv := store.NewMemKV()
	recs := seedStore(t, kv)
	o := newTestOrchestrator(recs, &fakeNodes{}, &fakeRecorder{})

	req := testRequest(t)
	req.Image = "nginx:latest"
	_, err := o.Redeploy(context.Background(), req, testActor)
	if re := AsError(err); re.Kind != KindInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestRedeployContainerCheckFailure(t *testing.T) {
	kv := store.NewMemKV()
	recs := seedStore(t, kv)
	nodes := &fakeNodes{existsErr: errors.New("connection refused")}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(recs, nodes, rec)

	_, err := o.Redeploy(context.Background(), testRequest(t), testActor)
	if re := AsError(err); re.Kind != KindPreconditionFailed {
		t.Fatalf("expected precondition failure, got %v", err)
	}
	actions := rec.actions()
	if len(actions) != 1 || actions[0] != audit.EventRedeployFailCheck {
		t.Fatalf("unexpected audit trail: %v", actions)
	}
	if len(nodes.removed) != 0 {
		t.Fatalf("no compensation expected before a container exists: %v", nodes.removed)
	}
}

func TestRedeployUpstreamFailureNoCompensation(t *testing.T) {
	kv := store.NewMemKV()
	recs := seedStore(t, kv)
	nodes := &fakeNodes{redeployErr: &node.UpstreamError{Status: 502, Body: "daemon busy"}}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(recs, nodes, rec)

	_, err := o.Redeploy(context.Background(), testRequest(t), testActor)
	re := AsError(err)
	if re.Kind != KindUpstreamError {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if re.UpstreamStatus != 502 || re.UpstreamBody != "daemon busy" {
		t.Fatalf("upstream details not carried: %+v", re)
	}
	actions := rec.actions()
	if len(actions) != 1 || actions[0] != audit.EventRedeployFailAPI {
		t.Fatalf("unexpected audit trail: %v", actions)
	}
	if len(nodes.removed) != 0 {
		t.Fatalf("no container was created, nothing to compensate: %v", nodes.removed)
	}
}

func TestRedeployPersistenceFailureCompensates(t *testing.T) {
	kv := &droppingKV{KV: store.NewMemKV(), dropKey: store.GlobalInstancesKey}
	recs := seedStore(t, kv)
	nodes := &fakeNodes{result: node.RedeployResult{ContainerID: "c2", VolumeID: "v1"}}
	rec := &fakeRecorder{}
	o := newTestOrchestrator(recs, nodes, rec)

	_, err := o.Redeploy(context.Background(), testRequest(t), testActor)
	re := AsError(err)
	if re.Kind != KindPersistenceError {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected verification failure in chain, got %v", err)
	}
	if len(nodes.removed) != 1 || nodes.removed[0] != "c2" {
		t.Fatalf("compensating delete not issued for new container: %v", nodes.removed)
	}
	actions := rec.actions()
	if len(actions) != 1 || actions[0] != audit.EventRedeployFailDB {
		t.Fatalf("unexpected audit trail: %v", actions)
	}
}

func TestRedeployVolumeDefaultsToInstanceID(t *testing.T) {
	kv := store.NewMemKV()
	recs := seedStore(t, kv)
	nodes := &fakeNodes{result: node.RedeployResult{ContainerID: "c2"}}
	o := newTestOrchestrator(recs, nodes, &fakeRecorder{})

	result, err := o.Redeploy(context.Background(), testRequest(t), testActor)
	if err != nil {
		t.Fatalf("redeploy: %v", err)
	}
	if result.VolumeID != "i1" {
		t.Fatalf("volume id = %s, want i1", result.VolumeID)
	}
}
