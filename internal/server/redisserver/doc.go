// Package redisserver implements the RESP2 connection core of SableDB.
//
// Accepted connections are spread over a fixed pool of workers by a
// Manager. Each worker owns its clients outright and drives them through
// a small state machine:
//
//	Idle -> ReadingFrame -> Executing -> Idle
//	                          |    ^
//	                          v    |
//	                         Blocked
//
// Any state may move to Closing. A client blocked on a list key is parked
// in the watcher registry and resumed by whichever worker owns it when a
// writer on another worker notifies the key.
//
// The manager watches worker heartbeats. A worker that panics is replaced
// and its clients migrate to the survivors with their sessions intact; a
// worker that stops heartbeating is replaced and its clients are closed
// with a worker failure error.
//
// Supported commands:
//   - PING, ECHO, QUIT, AUTH, SELECT, CLIENT
//   - GET, SET, DEL, EXISTS, INCR, DECR, INCRBY, DECRBY
//   - EXPIRE, PEXPIRE, TTL, PTTL, TYPE, SCAN, KEYS, DBSIZE, FLUSHALL, FLUSHDB
//   - LPUSH, RPUSH, LPOP, RPOP, LLEN, LRANGE, BLPOP, BRPOP
//   - INFO, COMMAND, TIME, DEBUG
package redisserver
