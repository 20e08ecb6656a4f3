// Package canvas holds the drawing log and its deterministic raster replay.
// Drawing records are immutable and append-only; the rendered surface is a
// pure function of the ordered record sequence, so replaying the same
// sequence on any client produces pixel-equivalent output.
package canvas

import (
	"fmt"
	"sort"
	"sync"

	"designboard/core"
)

// Log is an append-only ordered sequence of drawing records.
type Log struct {
	mu      sync.RWMutex
	records []core.DrawingRecord
}

// NewLog creates an empty drawing log.
func NewLog() *Log {
	return &Log{}
}

// Append validates and appends a record. Records are never mutated or
// removed afterwards.
func (l *Log) Append(rec core.DrawingRecord) error {
	if err := Validate(rec); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

// Records returns the log's records for a layer in replay order. An empty
// layer id selects all records.
func (l *Log) Records(layerID string) []core.DrawingRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]core.DrawingRecord, 0, len(l.records))
	for _, r := range l.records {
		if layerID == "" || r.LayerID == layerID {
			out = append(out, r)
		}
	}
	return Order(out)
}

// Order sorts records by timestamp, keeping insertion order for equal
// timestamps, which fixes the replay order on every client.
func Order(records []core.DrawingRecord) []core.DrawingRecord {
	out := make([]core.DrawingRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out
}

// Validate checks the structural invariants of a record.
func Validate(rec core.DrawingRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("drawing record id is required")
	}
	switch rec.Type {
	case core.DrawingFreehand:
		if len(rec.Points) < 2 {
			return fmt.Errorf("freehand record needs at least 2 points, got %d", len(rec.Points))
		}
	case core.DrawingRectangle, core.DrawingCircle, core.DrawingArrow:
		if len(rec.Points) != 2 {
			return fmt.Errorf("%s record needs exactly 2 corner points, got %d", rec.Type, len(rec.Points))
		}
	default:
		return fmt.Errorf("unknown drawing type %q", rec.Type)
	}
	if rec.Width <= 0 {
		return fmt.Errorf("stroke width must be positive, got %v", rec.Width)
	}
	if rec.Opacity < 0 || rec.Opacity > 1 {
		return fmt.Errorf("opacity must be in [0,1], got %v", rec.Opacity)
	}
	return nil
}
