package canvas

import "sync"

// History is a bounded ring of serialized raster states for client-local
// undo/redo. The stack does not propagate to other clients. Past the
// configured depth the oldest entry is evicted, so memory stays bounded.
type History struct {
	mu     sync.Mutex
	depth  int
	states [][]byte
	cursor int // index of the current state, -1 when empty
}

// NewHistory creates a history holding at most depth states.
func NewHistory(depth int) *History {
	if depth < 1 {
		depth = 1
	}
	return &History{depth: depth, cursor: -1}
}

// Push records a new current state, discarding any redo tail and evicting
// the oldest state when past the depth.
func (h *History) Push(state []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	saved := make([]byte, len(state))
	copy(saved, state)

	h.states = append(h.states[:h.cursor+1], saved)
	if len(h.states) > h.depth {
		h.states = h.states[len(h.states)-h.depth:]
	}
	h.cursor = len(h.states) - 1
}

// Undo steps back one state. The second return is false at the oldest state.
func (h *History) Undo() ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cursor <= 0 {
		return nil, false
	}
	h.cursor--
	return h.states[h.cursor], true
}

// Redo steps forward one state. The second return is false at the newest
// state.
func (h *History) Redo() ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cursor < 0 || h.cursor >= len(h.states)-1 {
		return nil, false
	}
	h.cursor++
	return h.states[h.cursor], true
}

// Len returns the number of retained states.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.states)
}
