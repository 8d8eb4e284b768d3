package structure

import "errors"

var (
	// ErrSchemaConflict is returned for type transitions the upgrade rules
	// cannot resolve, for overwriting write-once properties and for malformed
	// snapshots.
	ErrSchemaConflict = errors.New("schema conflict")

	// ErrNotFound is returned when a path does not address an existing node.
	ErrNotFound = errors.New("schema node not found")

	errPropertyConflict  = errors.New("property already set")
	errIncompatibleTypes = errors.New("incompatible data types")
)
