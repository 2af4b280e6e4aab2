// Package storage defines SableDB's key space contract and its persistent
// backend.
//
//   - engine.go: the Engine interface, value types and sentinel errors
//   - badger.go: a Badger v3 engine with native TTL and background GC
//   - guard.go: a circuit breaker around any Engine
//   - match.go: glob matching for SCAN MATCH
//
// The in-memory engine lives in the memory subpackage.
package storage
