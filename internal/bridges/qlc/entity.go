package qlc

// EntityKind distinguishes the two controller object families.
type EntityKind string

// Entity kinds.
const (
	KindFunction EntityKind = "function"
	KindWidget   EntityKind = "widget"
)

// StatusUnknown is reported for functions whose status has not been seen.
const StatusUnknown = "Unknown"

// Function status values pushed by the controller.
const (
	StatusRunning = "Running"
	StatusStopped = "Stopped"
)

// Entity is a controller object mirrored locally.
//
// ID is immutable for the life of the entity. DisplayLabel is derived from
// Classification, RawLabel, ID and the number of siblings sharing the same
// (Classification, RawLabel) and is recomputed whenever any of those change.
// An empty Status means the status is unknown.
type Entity struct {
	ID             string     `json:"id"`
	Kind           EntityKind `json:"kind"`
	RawLabel       string     `json:"raw_label"`
	DisplayLabel   string     `json:"display_label"`
	Classification string     `json:"classification,omitempty"`
	Status         string     `json:"status,omitempty"`
}

// StatusOrUnknown returns Status, or StatusUnknown when none has been seen.
func (e Entity) StatusOrUnknown() string {
	if e.Status == "" {
		return StatusUnknown
	}
	return e.Status
}

// Catalog holds the two disjoint entity sequences, each in display order.
type Catalog struct {
	Functions []Entity `json:"functions"`
	Widgets   []Entity `json:"widgets"`
}

// Clone returns a deep copy so callers cannot mutate the mirror's snapshot.
func (c Catalog) Clone() Catalog {
	return Catalog{
		Functions: cloneEntities(c.Functions),
		Widgets:   cloneEntities(c.Widgets),
	}
}

// Function returns the function with the given id.
func (c Catalog) Function(id string) (Entity, bool) {
	return findEntity(c.Functions, id)
}

// Widget returns the widget with the given id.
func (c Catalog) Widget(id string) (Entity, bool) {
	return findEntity(c.Widgets, id)
}

func findEntity(entities []Entity, id string) (Entity, bool) {
	for _, e := range entities {
		if e.ID == id {
			return e, true
		}
	}
	return Entity{}, false
}

func cloneEntities(in []Entity) []Entity {
	if in == nil {
		return nil
	}
	out := make([]Entity, len(in))
	copy(out, in)
	return out
}
