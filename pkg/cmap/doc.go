// Package cmap provides a string-keyed concurrent map split into shards.
//
// Keys are distributed with murmur3, each shard guarded by its own
// RWMutex. Besides the usual Get/Set/Delete it offers Compute, a
// read-modify-write under the shard lock that may also delete, and
// shard-level iteration used by cursor based scans.
//
//	m := cmap.New[*entry](64)
//	m.Set("k", e)
//	v, ok := m.Get("k")
package cmap
