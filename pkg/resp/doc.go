// Package resp implements the RESP2 wire format used by SableDB.
//
// The server side is built around ParseFrame, an incremental parser that
// works on whatever bytes have been read so far and reports ErrIncomplete
// until a whole frame is buffered. Replies are produced with the Append*
// helpers so a worker can accumulate output for several pipelined commands
// before a single flush.
//
// The client side (sabledb-cli and tests) uses WriteCommand and ReadValue.
package resp
