package qlc

import "sync/atomic"

// Mirror holds the locally mirrored catalog.
//
// Readers load an immutable snapshot without locking. Writers build a new
// snapshot and swap it in, so a reader never observes a half-applied update.
type Mirror struct {
	snapshot atomic.Pointer[Catalog]
}

// NewMirror creates a mirror holding an empty catalog.
func NewMirror() *Mirror {
	m := &Mirror{}
	m.snapshot.Store(&Catalog{})
	return m
}

// Current returns a copy of the current catalog.
func (m *Mirror) Current() Catalog {
	return m.snapshot.Load().Clone()
}

// ReplaceCatalog swaps in a freshly built catalog.
func (m *Mirror) ReplaceCatalog(c Catalog) {
	next := c.Clone()
	m.snapshot.Store(&next)
}

// ApplyPushUpdate patches the status of one entity.
//
// Returns false and leaves the mirror untouched when the category is not
// recognised or no entity has the given id. Only functions carry status.
func (m *Mirror) ApplyPushUpdate(category PushCategory, id, status string) bool {
	if category != PushFunction {
		return false
	}

	for {
		cur := m.snapshot.Load()
		idx := -1
		for i := range cur.Functions {
			if cur.Functions[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return false
		}

		next := &Catalog{
			Functions: cloneEntities(cur.Functions),
			Widgets:   cur.Widgets,
		}
		next.Functions[idx].Status = status
		if m.snapshot.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// FunctionStatus returns the status of a function, StatusUnknown if it has
// not been reported, and false when the id is not in the catalog.
func (m *Mirror) FunctionStatus(id string) (string, bool) {
	e, ok := m.snapshot.Load().Function(id)
	if !ok {
		return "", false
	}
	return e.StatusOrUnknown(), true
}

// FunctionRunning reports whether a function's last known status is Running.
func (m *Mirror) FunctionRunning(id string) bool {
	status, ok := m.FunctionStatus(id)
	return ok && status == StatusRunning
}
