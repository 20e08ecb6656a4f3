// Package docstore is the document store adapter: it owns the canonical
// project snapshot, exposes subscribe/read/write primitives over a pluggable
// persistence backend, and broadcasts every committed snapshot to all current
// subscribers of the project.
//
// Consistency model: whole-field overwrites and set appends under
// last-write-wins. The read-modify-write cycle is serialized per project
// inside one adapter, so concurrent writers to different fields never lose
// each other's changes; concurrent writers to the same field race and the
// later commit wins. There is no multi-field compare-and-swap.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"designboard/core"
	"designboard/events"

	"github.com/sirupsen/logrus"
)

var (
	// ErrBadFieldPath marks a malformed field path. This is a programmer
	// error: it is rejected synchronously, before any backend call.
	ErrBadFieldPath = errors.New("malformed field path")

	// ErrPermissionDenied marks a write rejected by backend rules. Fatal for
	// the attempted operation, never retried.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUnavailable marks a transient connectivity failure. Retryable.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrNotFound marks a reference to a layer or user that does not exist
	// in the current snapshot.
	ErrNotFound = errors.New("not found")
)

// IsRetryable reports whether a write may be retried. Permission, path and
// missing-reference failures are final; everything else is treated as
// connectivity trouble.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrBadFieldPath) || errors.Is(err, ErrNotFound) {
		return false
	}
	return true
}

// Options tune the adapter.
type Options struct {
	// WriteRetries bounds how many times a retryable write is reattempted.
	WriteRetries int
	// RetryBackoff is the initial backoff between attempts; it doubles per
	// attempt.
	RetryBackoff time.Duration
	// SubscriberBuffer is the per-subscriber channel depth. A subscriber
	// that falls behind is coalesced to the latest snapshot; full snapshots
	// make intermediate states droppable.
	SubscriberBuffer int
}

// DefaultOptions returns the adapter defaults.
func DefaultOptions() Options {
	return Options{
		WriteRetries:     3,
		RetryBackoff:     100 * time.Millisecond,
		SubscriberBuffer: 8,
	}
}

// Adapter mediates all access to project snapshots.
type Adapter struct {
	store     core.ProjectStore
	publisher events.Publisher
	opts      Options

	mu       sync.Mutex
	projects map[string]*projectState
}

type projectState struct {
	mu      sync.Mutex // serializes read-modify-write per project
	subs    map[int]chan core.ProjectSnapshot
	nextSub int
}

// New creates an adapter over the given backend. A nil publisher disables
// event publishing.
func New(store core.ProjectStore, publisher events.Publisher, opts Options) *Adapter {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = DefaultOptions().SubscriberBuffer
	}
	return &Adapter{
		store:     store,
		publisher: publisher,
		opts:      opts,
		projects:  make(map[string]*projectState),
	}
}

func (a *Adapter) state(projectID string) *projectState {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.projects[projectID]
	if !ok {
		st = &projectState{subs: make(map[int]chan core.ProjectSnapshot)}
		a.projects[projectID] = st
	}
	return st
}

// SubscribedProjects returns the ids of projects with at least one live
// subscriber. Used by periodic sweeps that only care about active projects.
func (a *Adapter) SubscribedProjects() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.projects))
	for id, st := range a.projects {
		st.mu.Lock()
		active := len(st.subs) > 0
		st.mu.Unlock()
		if active {
			ids = append(ids, id)
		}
	}
	return ids
}

// Get returns the current snapshot of a project.
func (a *Adapter) Get(ctx context.Context, projectID string) (*core.ProjectSnapshot, error) {
	snap, err := a.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return snap.Clone(), nil
}

// Subscribe registers for snapshot broadcasts of a project. The current
// snapshot is delivered first, then every committed update in commit order.
// The returned disposer releases the subscription and must be invoked on
// every exit path of the consumer, including error paths.
func (a *Adapter) Subscribe(ctx context.Context, projectID string) (<-chan core.ProjectSnapshot, func(), error) {
	snap, err := a.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}

	st := a.state(projectID)
	st.mu.Lock()
	id := st.nextSub
	st.nextSub++
	ch := make(chan core.ProjectSnapshot, a.opts.SubscriberBuffer)
	ch <- *snap.Clone()
	st.subs[id] = ch
	st.mu.Unlock()

	var once sync.Once
	dispose := func() {
		once.Do(func() {
			st.mu.Lock()
			delete(st.subs, id)
			close(ch)
			st.mu.Unlock()
			logrus.WithFields(logrus.Fields{
				"project_id":    projectID,
				"subscriber_id": id,
			}).Debug("Subscription released")
		})
	}
	return ch, dispose, nil
}

// WriteField overwrites one field of the project snapshot (last-write-wins)
// and broadcasts the updated snapshot. Supported paths:
//
//	layers | comments | drawings | activeUsers | cursors
//	cursors.<userID>
//	layers.<layerID>.name|visible|locked|elements
func (a *Adapter) WriteField(ctx context.Context, projectID, fieldPath string, value any) error {
	// Malformed paths are rejected before any backend call.
	if err := validatePath(fieldPath); err != nil {
		return err
	}

	st := a.state(projectID)
	st.mu.Lock()
	defer st.mu.Unlock()

	snap, err := a.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	if err := setField(snap, fieldPath, value); err != nil {
		return err
	}
	snap.UpdatedAt = time.Now()

	if err := a.save(ctx, snap); err != nil {
		return err
	}
	a.broadcast(st, snap)
	a.publish(projectID, fieldPath, "write")
	return nil
}

// AppendToSet appends a value to one of the snapshot's set fields
// (comments, drawings, activeUsers). The append is a union: a value deep-equal
// to an existing element is a no-op. The activeUsers set is keyed by user id,
// so a rejoining user replaces their previous record instead of duplicating it.
func (a *Adapter) AppendToSet(ctx context.Context, projectID, field string, value any) error {
	if field != "comments" && field != "drawings" && field != "activeUsers" {
		return fmt.Errorf("%w: %q is not a set field", ErrBadFieldPath, field)
	}

	st := a.state(projectID)
	st.mu.Lock()
	defer st.mu.Unlock()

	snap, err := a.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}

	appended, err := appendToSet(snap, field, value)
	if err != nil {
		return err
	}
	if !appended {
		return nil // union semantics, duplicate value
	}
	snap.UpdatedAt = time.Now()

	if err := a.save(ctx, snap); err != nil {
		return err
	}
	a.broadcast(st, snap)
	a.publish(projectID, field, "append")
	return nil
}

// save commits the snapshot with bounded retry and exponential backoff for
// retryable failures.
func (a *Adapter) save(ctx context.Context, snap *core.ProjectSnapshot) error {
	backoff := a.opts.RetryBackoff
	var err error
	for attempt := 0; ; attempt++ {
		err = a.store.SaveProject(ctx, snap)
		if err == nil || !IsRetryable(err) || attempt >= a.opts.WriteRetries {
			break
		}
		logrus.WithFields(logrus.Fields{
			"project_id": snap.ProjectID,
			"attempt":    attempt + 1,
			"error":      err,
		}).Warn("Retrying snapshot write")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// broadcast delivers the committed snapshot to every subscriber. Callers hold
// the project mutex, so subscribers observe commits in commit order. A full
// subscriber channel is drained by one element first: the subscriber skips
// an intermediate state and converges on the latest snapshot.
func (a *Adapter) broadcast(st *projectState, snap *core.ProjectSnapshot) {
	for _, ch := range st.subs {
		out := *snap.Clone()
		select {
		case ch <- out:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- out:
			default:
			}
		}
	}
}

func (a *Adapter) publish(projectID, field, kind string) {
	event := events.ProjectEvent{ProjectID: projectID, Field: field, Kind: kind, At: time.Now()}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.publisher.Publish(ctx, event); err != nil {
			logrus.WithFields(logrus.Fields{
				"project_id": projectID,
				"field":      field,
				"error":      err,
			}).Warn("Failed to publish project event")
		}
	}()
}

func validatePath(fieldPath string) error {
	parts := strings.Split(fieldPath, ".")
	for _, part := range parts {
		if part == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrBadFieldPath, fieldPath)
		}
	}
	switch parts[0] {
	case "layers":
		switch len(parts) {
		case 1:
			return nil
		case 3:
			switch parts[2] {
			case "name", "visible", "locked", "elements":
				return nil
			}
		}
	case "comments", "drawings", "activeUsers":
		if len(parts) == 1 {
			return nil
		}
	case "cursors":
		if len(parts) <= 2 {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrBadFieldPath, fieldPath)
}

func setField(snap *core.ProjectSnapshot, fieldPath string, value any) error {
	parts := strings.Split(fieldPath, ".")
	badValue := func() error {
		return fmt.Errorf("%w: unexpected value type %T for %q", ErrBadFieldPath, value, fieldPath)
	}

	switch parts[0] {
	case "layers":
		if len(parts) == 1 {
			layers, ok := value.([]core.Layer)
			if !ok {
				return badValue()
			}
			snap.Layers = layers
			return nil
		}
		for i := range snap.Layers {
			if snap.Layers[i].ID != parts[1] {
				continue
			}
			switch parts[2] {
			case "name":
				s, ok := value.(string)
				if !ok {
					return badValue()
				}
				snap.Layers[i].Name = s
			case "visible":
				b, ok := value.(bool)
				if !ok {
					return badValue()
				}
				snap.Layers[i].Visible = b
			case "locked":
				b, ok := value.(bool)
				if !ok {
					return badValue()
				}
				snap.Layers[i].Locked = b
			case "elements":
				els, ok := value.([]string)
				if !ok {
					return badValue()
				}
				snap.Layers[i].Elements = els
			}
			return nil
		}
		return fmt.Errorf("%w: layer %s", ErrNotFound, parts[1])
	case "comments":
		comments, ok := value.([]core.Comment)
		if !ok {
			return badValue()
		}
		snap.Comments = comments
	case "drawings":
		drawings, ok := value.([]core.DrawingRecord)
		if !ok {
			return badValue()
		}
		snap.Drawings = drawings
	case "activeUsers":
		users, ok := value.([]core.Presence)
		if !ok {
			return badValue()
		}
		snap.ActiveUsers = users
	case "cursors":
		if len(parts) == 1 {
			cursors, ok := value.(map[string]core.Point)
			if !ok {
				return badValue()
			}
			snap.Cursors = cursors
			return nil
		}
		p, ok := value.(core.Point)
		if !ok {
			return badValue()
		}
		if snap.Cursors == nil {
			snap.Cursors = map[string]core.Point{}
		}
		snap.Cursors[parts[1]] = p
		// A cursor write counts as activity for staleness eviction.
		for i := range snap.ActiveUsers {
			if snap.ActiveUsers[i].UserID == parts[1] {
				snap.ActiveUsers[i].Cursor = p
				snap.ActiveUsers[i].LastActive = time.Now()
				break
			}
		}
	}
	return nil
}

func appendToSet(snap *core.ProjectSnapshot, field string, value any) (bool, error) {
	switch field {
	case "comments":
		c, ok := value.(core.Comment)
		if !ok {
			return false, fmt.Errorf("%w: unexpected value type %T for comments", ErrBadFieldPath, value)
		}
		for _, existing := range snap.Comments {
			if reflect.DeepEqual(existing, c) {
				return false, nil
			}
		}
		snap.Comments = append(snap.Comments, c)
	case "drawings":
		d, ok := value.(core.DrawingRecord)
		if !ok {
			return false, fmt.Errorf("%w: unexpected value type %T for drawings", ErrBadFieldPath, value)
		}
		for _, existing := range snap.Drawings {
			if reflect.DeepEqual(existing, d) {
				return false, nil
			}
		}
		snap.Drawings = append(snap.Drawings, d)
	case "activeUsers":
		p, ok := value.(core.Presence)
		if !ok {
			return false, fmt.Errorf("%w: unexpected value type %T for activeUsers", ErrBadFieldPath, value)
		}
		// Presence is keyed by user id: a stale record from a crashed or
		// duplicate session is replaced on rejoin, never duplicated.
		// Otherwise eviction of the stale record would also take down the
		// live one.
		for i, existing := range snap.ActiveUsers {
			if existing.UserID != p.UserID {
				continue
			}
			if reflect.DeepEqual(existing, p) {
				return false, nil
			}
			snap.ActiveUsers[i] = p
			return true, nil
		}
		snap.ActiveUsers = append(snap.ActiveUsers, p)
	}
	return true, nil
}
