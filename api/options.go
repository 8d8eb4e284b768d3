package api

// Options configures one flattening session.
type Options struct {
	// Strict distinguishes integer, double, string and boolean values; loose
	// mode treats every scalar alike.
	Strict bool `json:"strict"`
	// NestedArraysAsJSON writes arrays found directly inside arrays as JSON
	// strings instead of rejecting them.
	NestedArraysAsJSON bool `json:"nested_arrays_as_json"`
	// AutoUpgradeToArray lets a scalar or object field widen into an array
	// when a later document carries an array there.
	AutoUpgradeToArray bool `json:"auto_upgrade_to_array"`
	// CacheMemoryLimit is the heap size in bytes above which buffered batches
	// spill to disk. Zero derives it from the process memory ceiling.
	CacheMemoryLimit int64 `json:"cache_memory_limit,omitempty"`
	// PrimaryKeys maps output table names to the properties whose values
	// identify a row.
	PrimaryKeys map[string][]string `json:"primary_keys,omitempty"`
}

// DefaultOptions returns loose mode with auto-upgrade enabled.
func DefaultOptions() Options {
	return Options{AutoUpgradeToArray: true}
}
