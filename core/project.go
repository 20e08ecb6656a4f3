package core

import (
	"context"
	"time"
)

// DrawingType enumerates the supported drawing record kinds.
type DrawingType string

const (
	DrawingFreehand  DrawingType = "freehand"
	DrawingRectangle DrawingType = "rectangle"
	DrawingCircle    DrawingType = "circle"
	DrawingArrow     DrawingType = "arrow"
)

type (
	// Point is a canvas coordinate.
	Point struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}

	// DrawingRecord is a single immutable stroke or shape. Freehand records
	// carry the full point sequence; shapes carry two corner points. The
	// rendered canvas is a pure function of the ordered record sequence.
	DrawingRecord struct {
		ID        string      `json:"id"`
		LayerID   string      `json:"layerId"`
		Type      DrawingType `json:"type"`
		Points    []Point     `json:"points"`
		Color     string      `json:"color"`
		Width     float64     `json:"width"`
		Opacity   float64     `json:"opacity"`
		Dash      []float64   `json:"dash,omitempty"`
		Smooth    bool        `json:"smooth"`
		Fill      bool        `json:"fill"`
		Roughness float64     `json:"roughness"`
		UserID    string      `json:"userId"`
		CreatedAt int64       `json:"createdAt"` // unix milliseconds, replay order key
	}

	// Layer is a named, ordered member of a project's layer stack.
	// Layers are created explicitly and never implicitly deleted.
	Layer struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		Visible   bool      `json:"visible"`
		Locked    bool      `json:"locked"`
		Elements  []string  `json:"elements,omitempty"`
		OwnerID   string    `json:"ownerId"`
		CreatedAt time.Time `json:"createdAt"`
	}

	// Comment is an immutable point-anchored note. Comments form a flat set;
	// thread grouping by proximity is a presentation concern.
	Comment struct {
		ID        string    `json:"id"`
		Anchor    Point     `json:"anchor"`
		Text      string    `json:"text"`
		UserID    string    `json:"userId"`
		CreatedAt time.Time `json:"createdAt"`
	}

	// Presence is one connected collaborator. Ephemeral: appended on join,
	// removed on leave or staleness eviction, never part of durable history.
	Presence struct {
		UserID     string    `json:"userId"`
		Email      string    `json:"email,omitempty"`
		Name       string    `json:"name,omitempty"`
		Cursor     Point     `json:"cursor"`
		LastActive time.Time `json:"lastActive"`
	}

	// ProjectSnapshot is the canonical shared state of one project. Exactly
	// one snapshot is live per project; connected clients converge toward it
	// under last-write-wins per field.
	ProjectSnapshot struct {
		ProjectID   string           `json:"projectId"`
		Layers      []Layer          `json:"layers"`
		Comments    []Comment        `json:"comments"`
		Drawings    []DrawingRecord  `json:"drawings"`
		ActiveUsers []Presence       `json:"activeUsers"`
		Cursors     map[string]Point `json:"cursors"`
		UpdatedAt   time.Time        `json:"updatedAt"`
	}

	// ProjectStore defines the persistence layer for project snapshots.
	ProjectStore interface {
		// GetProject returns the current snapshot for a project, creating an
		// empty one if the project has never been written.
		GetProject(ctx context.Context, projectID string) (*ProjectSnapshot, error)

		// SaveProject replaces the stored snapshot for snapshot.ProjectID.
		SaveProject(ctx context.Context, snapshot *ProjectSnapshot) error
	}
)

// NewProjectSnapshot returns an empty snapshot for a project.
func NewProjectSnapshot(projectID string) *ProjectSnapshot {
	return &ProjectSnapshot{
		ProjectID:   projectID,
		Layers:      []Layer{},
		Comments:    []Comment{},
		Drawings:    []DrawingRecord{},
		ActiveUsers: []Presence{},
		Cursors:     map[string]Point{},
	}
}

// Clone returns a deep copy of the snapshot so that subscribers and callers
// never alias the canonical state.
func (s *ProjectSnapshot) Clone() *ProjectSnapshot {
	out := &ProjectSnapshot{
		ProjectID: s.ProjectID,
		UpdatedAt: s.UpdatedAt,
	}
	out.Layers = make([]Layer, len(s.Layers))
	for i, l := range s.Layers {
		out.Layers[i] = l
		if l.Elements != nil {
			out.Layers[i].Elements = append([]string(nil), l.Elements...)
		}
	}
	out.Comments = append([]Comment{}, s.Comments...)
	out.Drawings = make([]DrawingRecord, len(s.Drawings))
	for i, d := range s.Drawings {
		out.Drawings[i] = d
		if d.Points != nil {
			out.Drawings[i].Points = append([]Point(nil), d.Points...)
		}
		if d.Dash != nil {
			out.Drawings[i].Dash = append([]float64(nil), d.Dash...)
		}
	}
	out.ActiveUsers = append([]Presence{}, s.ActiveUsers...)
	out.Cursors = make(map[string]Point, len(s.Cursors))
	for k, v := range s.Cursors {
		out.Cursors[k] = v
	}
	return out
}
