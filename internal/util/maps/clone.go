// Package maps provides small helpers over the standard maps package.
package maps

import stdmaps "maps"

// Clone returns a shallow copy of the input map. Nil and empty maps both
// come back nil, so callers can treat absent and empty metadata the same.
func Clone[K comparable, V any](m map[K]V) map[K]V {
	if len(m) == 0 {
		return nil
	}
	return stdmaps.Clone(m)
}
