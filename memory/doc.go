// Package memory implements the value representation used by tasks.
//
// It provides allocation arenas (task-local and shared), the hybrid
// inline/heap Buffer, reference-counted Box cells, refcounted Str byte
// strings and the read-only TypeDesc layout metadata consumed by all of
// them.
package memory
