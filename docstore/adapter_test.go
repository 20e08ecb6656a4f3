package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"designboard/core"
)

// mockProjectStore is an in-memory backend with failure injection.
type mockProjectStore struct {
	mu        sync.Mutex
	snapshots map[string]*core.ProjectSnapshot
	getCalls  int
	saveCalls int
	saveErrs  []error // consumed one per SaveProject call
}

func newMockProjectStore() *mockProjectStore {
	return &mockProjectStore{snapshots: make(map[string]*core.ProjectSnapshot)}
}

func (m *mockProjectStore) GetProject(ctx context.Context, projectID string) (*core.ProjectSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if snap, ok := m.snapshots[projectID]; ok {
		return snap.Clone(), nil
	}
	return core.NewProjectSnapshot(projectID), nil
}

func (m *mockProjectStore) SaveProject(ctx context.Context, snapshot *core.ProjectSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls++
	if len(m.saveErrs) > 0 {
		err := m.saveErrs[0]
		m.saveErrs = m.saveErrs[1:]
		if err != nil {
			return err
		}
	}
	m.snapshots[snapshot.ProjectID] = snapshot.Clone()
	return nil
}

func newTestAdapter(store core.ProjectStore) *Adapter {
	opts := DefaultOptions()
	opts.RetryBackoff = time.Millisecond
	return New(store, nil, opts)
}

func TestSubscribe_DeliversCurrentThenUpdates(t *testing.T) {
	store := newMockProjectStore()
	adapter := newTestAdapter(store)
	ctx := context.Background()

	ch, dispose, err := adapter.Subscribe(ctx, "p1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer dispose()

	first := <-ch
	if first.ProjectID != "p1" || len(first.Layers) != 0 {
		t.Fatalf("Initial snapshot mismatch: %+v", first)
	}

	layers := []core.Layer{{ID: "l1", Name: "bg", Visible: true}}
	if err := adapter.WriteField(ctx, "p1", "layers", layers); err != nil {
		t.Fatalf("WriteField failed: %v", err)
	}

	select {
	case next := <-ch:
		if len(next.Layers) != 1 || next.Layers[0].Name != "bg" {
			t.Errorf("Broadcast snapshot mismatch: %+v", next.Layers)
		}
	case <-time.After(time.Second):
		t.Fatal("No broadcast received after write")
	}
}

func TestSubscribe_DisposerReleasesSubscription(t *testing.T) {
	store := newMockProjectStore()
	adapter := newTestAdapter(store)
	ctx := context.Background()

	ch, dispose, err := adapter.Subscribe(ctx, "p1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	<-ch
	dispose()
	dispose() // idempotent

	if _, ok := <-ch; ok {
		t.Error("Channel should be closed after dispose")
	}

	// Writes after dispose must not deliver to the released subscriber.
	if err := adapter.WriteField(ctx, "p1", "layers", []core.Layer{{ID: "l1"}}); err != nil {
		t.Fatalf("WriteField failed: %v", err)
	}
}

func TestWriteField_BadPathRejectedBeforeBackend(t *testing.T) {
	store := newMockProjectStore()
	adapter := newTestAdapter(store)

	err := adapter.WriteField(context.Background(), "p1", "layers.l1.nope", true)
	if !errors.Is(err, ErrBadFieldPath) {
		t.Fatalf("Error mismatch: got %v, want ErrBadFieldPath", err)
	}
	if store.getCalls != 0 || store.saveCalls != 0 {
		t.Errorf("Backend called for malformed path: get=%d save=%d", store.getCalls, store.saveCalls)
	}
}

func TestWriteField_UnknownLayer(t *testing.T) {
	store := newMockProjectStore()
	adapter := newTestAdapter(store)

	err := adapter.WriteField(context.Background(), "p1", "layers.ghost.visible", true)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Error mismatch: got %v, want ErrNotFound", err)
	}
}

func TestWriteField_ConcurrentDifferentFieldsBothPreserved(t *testing.T) {
	store := newMockProjectStore()
	adapter := newTestAdapter(store)
	ctx := context.Background()

	layers := []core.Layer{
		{ID: "l1", Name: "bg", Visible: false},
		{ID: "l2", Name: "logo", Visible: false},
	}
	if err := adapter.WriteField(ctx, "p1", "layers", layers); err != nil {
		t.Fatalf("Seed write failed: %v", err)
	}

	var wg sync.WaitGroup
	for _, id := range []string{"l1", "l2"} {
		wg.Add(1)
		go func(layerID string) {
			defer wg.Done()
			if err := adapter.WriteField(ctx, "p1", "layers."+layerID+".visible", true); err != nil {
				t.Errorf("WriteField %s failed: %v", layerID, err)
			}
		}(id)
	}
	wg.Wait()

	snap, err := adapter.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	for _, l := range snap.Layers {
		if !l.Visible {
			t.Errorf("Layer %s lost its visibility write", l.ID)
		}
	}
}

func TestWriteField_ConcurrentSameFieldLastWriteWins(t *testing.T) {
	store := newMockProjectStore()
	adapter := newTestAdapter(store)
	ctx := context.Background()

	if err := adapter.WriteField(ctx, "p1", "layers", []core.Layer{{ID: "l1", Name: "bg"}}); err != nil {
		t.Fatalf("Seed write failed: %v", err)
	}

	var wg sync.WaitGroup
	for _, locked := range []bool{true, false} {
		wg.Add(1)
		go func(v bool) {
			defer wg.Done()
			if err := adapter.WriteField(ctx, "p1", "layers.l1.locked", v); err != nil {
				t.Errorf("WriteField failed: %v", err)
			}
		}(locked)
	}
	wg.Wait()

	snap, err := adapter.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	// One of the two values must have won; the rest of the layer must be
	// intact (no partial or merged field).
	if len(snap.Layers) != 1 || snap.Layers[0].ID != "l1" || snap.Layers[0].Name != "bg" {
		t.Errorf("Layer corrupted by racing writes: %+v", snap.Layers)
	}
}

func TestAppendToSet_UnionSemantics(t *testing.T) {
	store := newMockProjectStore()
	adapter := newTestAdapter(store)
	ctx := context.Background()

	comment := core.Comment{ID: "c1", Anchor: core.Point{X: 1, Y: 2}, Text: "looks off", UserID: "u1"}
	if err := adapter.AppendToSet(ctx, "p1", "comments", comment); err != nil {
		t.Fatalf("AppendToSet failed: %v", err)
	}
	if err := adapter.AppendToSet(ctx, "p1", "comments", comment); err != nil {
		t.Fatalf("Duplicate AppendToSet failed: %v", err)
	}

	snap, err := adapter.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(snap.Comments) != 1 {
		t.Errorf("Comment count mismatch: got %d, want 1", len(snap.Comments))
	}
}

func TestAppendToSet_ActiveUsersKeyedByUserID(t *testing.T) {
	store := newMockProjectStore()
	adapter := newTestAdapter(store)
	ctx := context.Background()

	old := core.Presence{UserID: "u1", Name: "Ada", LastActive: time.Now().Add(-time.Hour)}
	if err := adapter.AppendToSet(ctx, "p1", "activeUsers", old); err != nil {
		t.Fatalf("AppendToSet failed: %v", err)
	}

	fresh := core.Presence{UserID: "u1", Name: "Ada", LastActive: time.Now()}
	if err := adapter.AppendToSet(ctx, "p1", "activeUsers", fresh); err != nil {
		t.Fatalf("Rejoin AppendToSet failed: %v", err)
	}

	snap, err := adapter.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(snap.ActiveUsers) != 1 {
		t.Fatalf("Presence record count mismatch: got %d, want 1", len(snap.ActiveUsers))
	}
	if !snap.ActiveUsers[0].LastActive.Equal(fresh.LastActive) {
		t.Errorf("Rejoin did not replace the stale record: %+v", snap.ActiveUsers[0])
	}

	// A record from another user still appends.
	other := core.Presence{UserID: "u2", LastActive: time.Now()}
	if err := adapter.AppendToSet(ctx, "p1", "activeUsers", other); err != nil {
		t.Fatalf("AppendToSet failed: %v", err)
	}
	snap, _ = adapter.Get(ctx, "p1")
	if len(snap.ActiveUsers) != 2 {
		t.Errorf("Presence record count mismatch: got %d, want 2", len(snap.ActiveUsers))
	}
}

func TestWriteField_EmptySegmentRejected(t *testing.T) {
	store := newMockProjectStore()
	adapter := newTestAdapter(store)

	for _, path := range []string{"cursors.", "layers..visible", ".", ""} {
		err := adapter.WriteField(context.Background(), "p1", path, core.Point{})
		if !errors.Is(err, ErrBadFieldPath) {
			t.Errorf("Path %q: got %v, want ErrBadFieldPath", path, err)
		}
	}
	if store.getCalls != 0 || store.saveCalls != 0 {
		t.Errorf("Backend called for malformed path: get=%d save=%d", store.getCalls, store.saveCalls)
	}
}

func TestAppendToSet_RejectsNonSetField(t *testing.T) {
	adapter := newTestAdapter(newMockProjectStore())

	err := adapter.AppendToSet(context.Background(), "p1", "cursors", core.Point{})
	if !errors.Is(err, ErrBadFieldPath) {
		t.Fatalf("Error mismatch: got %v, want ErrBadFieldPath", err)
	}
}

func TestSave_RetriesTransientFailures(t *testing.T) {
	store := newMockProjectStore()
	store.saveErrs = []error{
		fmt.Errorf("%w: connection reset", ErrUnavailable),
		fmt.Errorf("%w: connection reset", ErrUnavailable),
	}
	adapter := newTestAdapter(store)

	err := adapter.WriteField(context.Background(), "p1", "layers", []core.Layer{{ID: "l1"}})
	if err != nil {
		t.Fatalf("WriteField should succeed after retries: %v", err)
	}
	if store.saveCalls != 3 {
		t.Errorf("Save call count mismatch: got %d, want 3", store.saveCalls)
	}
}

func TestSave_PermissionDeniedNotRetried(t *testing.T) {
	store := newMockProjectStore()
	store.saveErrs = []error{fmt.Errorf("%w: rules", ErrPermissionDenied)}
	adapter := newTestAdapter(store)

	err := adapter.WriteField(context.Background(), "p1", "layers", []core.Layer{{ID: "l1"}})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("Error mismatch: got %v, want ErrPermissionDenied", err)
	}
	if store.saveCalls != 1 {
		t.Errorf("Fatal error was retried: save calls = %d", store.saveCalls)
	}
}

func TestBroadcast_SlowSubscriberCoalescesToLatest(t *testing.T) {
	store := newMockProjectStore()
	opts := DefaultOptions()
	opts.SubscriberBuffer = 1
	adapter := New(store, nil, opts)
	ctx := context.Background()

	ch, dispose, err := adapter.Subscribe(ctx, "p1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer dispose()

	// Never read the initial snapshot; pile up writes.
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("rev-%d", i)
		if err := adapter.WriteField(ctx, "p1", "layers", []core.Layer{{ID: "l1", Name: name}}); err != nil {
			t.Fatalf("WriteField failed: %v", err)
		}
	}

	var last core.ProjectSnapshot
	for {
		select {
		case snap := <-ch:
			last = snap
			continue
		default:
		}
		break
	}
	if len(last.Layers) != 1 || last.Layers[0].Name != "rev-4" {
		t.Errorf("Subscriber did not converge on latest snapshot: %+v", last.Layers)
	}
}
