// Package registry implements the layer and comment operations of a project.
// Every operation is a whole-field overwrite or set append on the project
// snapshot; there is no per-field optimistic concurrency check. Two
// concurrent edits to different layers both succeed, but two concurrent
// edits to the same layer race and the later write wins. That limitation is
// part of the product's consistency model, not an oversight.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"designboard/canvas"
	"designboard/core"
	"designboard/docstore"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Registry mutates a project's layers, comments and drawings through the
// document store adapter.
type Registry struct {
	adapter *docstore.Adapter
}

// New creates a registry over the adapter.
func New(adapter *docstore.Adapter) *Registry {
	return &Registry{adapter: adapter}
}

// AddLayer appends a new visible, unlocked layer to the project's layer
// stack and returns it.
func (r *Registry) AddLayer(ctx context.Context, projectID, name, ownerID string) (*core.Layer, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("layer name is required")
	}

	snap, err := r.adapter.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	layer := core.Layer{
		ID:        ulid.Make().String(),
		Name:      name,
		Visible:   true,
		OwnerID:   ownerID,
		CreatedAt: time.Now(),
	}
	layers := append(snap.Layers, layer)
	if err := r.adapter.WriteField(ctx, projectID, "layers", layers); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"project_id": projectID,
		"layer_id":   layer.ID,
		"owner_id":   ownerID,
	}).Info("Layer added")
	return &layer, nil
}

// ToggleVisibility flips a layer's visibility flag and returns the new value.
func (r *Registry) ToggleVisibility(ctx context.Context, projectID, layerID string) (bool, error) {
	snap, err := r.adapter.Get(ctx, projectID)
	if err != nil {
		return false, err
	}
	for _, l := range snap.Layers {
		if l.ID == layerID {
			next := !l.Visible
			return next, r.adapter.WriteField(ctx, projectID, "layers."+layerID+".visible", next)
		}
	}
	return false, fmt.Errorf("%w: layer %s", docstore.ErrNotFound, layerID)
}

// ToggleLock flips a layer's lock flag and returns the new value.
func (r *Registry) ToggleLock(ctx context.Context, projectID, layerID string) (bool, error) {
	snap, err := r.adapter.Get(ctx, projectID)
	if err != nil {
		return false, err
	}
	for _, l := range snap.Layers {
		if l.ID == layerID {
			next := !l.Locked
			return next, r.adapter.WriteField(ctx, projectID, "layers."+layerID+".locked", next)
		}
	}
	return false, fmt.Errorf("%w: layer %s", docstore.ErrNotFound, layerID)
}

// AddComment appends a point-anchored comment and returns it.
func (r *Registry) AddComment(ctx context.Context, projectID string, anchor core.Point, text, userID string) (*core.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("comment text is required")
	}

	comment := core.Comment{
		ID:        ulid.Make().String(),
		Anchor:    anchor,
		Text:      text,
		UserID:    userID,
		CreatedAt: time.Now(),
	}
	if err := r.adapter.AppendToSet(ctx, projectID, "comments", comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// AddDrawing validates and appends an immutable drawing record. A missing id
// or timestamp is filled in.
func (r *Registry) AddDrawing(ctx context.Context, projectID string, rec core.DrawingRecord) (*core.DrawingRecord, error) {
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = time.Now().UnixMilli()
	}
	if rec.Opacity == 0 {
		rec.Opacity = 1
	}
	if err := canvas.Validate(rec); err != nil {
		return nil, err
	}
	if err := r.adapter.AppendToSet(ctx, projectID, "drawings", rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
