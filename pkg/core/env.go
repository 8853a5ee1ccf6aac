package core

import "maps"

// DefaultNamespace is the name under which the merged environment is bound
// inside a worker unless configured otherwise.
const DefaultNamespace = "env"

// MergeEnv returns a new map holding base overlaid key-by-key with each
// override in order. Inputs are never modified.
func MergeEnv(base map[string]any, overrides ...map[string]any) map[string]any {
	merged := make(map[string]any, len(base))
	maps.Copy(merged, base)
	for _, o := range overrides {
		maps.Copy(merged, o)
	}
	return merged
}
