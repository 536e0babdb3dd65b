package catalog

import "errors"

var (
	// ErrInvalidKind is returned for kinds other than function and widget.
	ErrInvalidKind = errors.New("catalog: kind must be function or widget")

	// ErrIDRequired is returned when an entity id is empty.
	ErrIDRequired = errors.New("catalog: entity id is required")
)
