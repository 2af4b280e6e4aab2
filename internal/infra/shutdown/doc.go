// Package shutdown stops SableDB components in order.
//
// A Handler waits for SIGINT, SIGTERM or Trigger and then runs the named
// hooks in reverse registration order under one grace deadline, so the
// component started last is stopped first.
package shutdown
