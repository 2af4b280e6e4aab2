// Package domain defines the error taxonomy of SableDB.
//
// Every error that reaches a client is a *DomainError carrying a Kind. The
// connection layer decides from the Kind alone whether to keep the
// connection open:
//
//   - KindProtocol: reply, then close
//   - KindCommand, KindStorage: reply, stay open
//   - KindTimeout: produce the command's timeout reply
//   - KindStartup: fatal at boot
//   - KindWorkerFailure: escalated to the worker manager
package domain
