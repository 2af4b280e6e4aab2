// Package memory implements storage.Engine in process memory.
//
// Keys live in a pkg/cmap sharded map. Expired keys are dropped lazily on
// access and by a background sweep; SCAN cursors are shard indexes, so a
// full iteration visits every key present for its whole duration.
package memory
