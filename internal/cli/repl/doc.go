// Package repl provides the interactive mode of sabledb-cli.
//
// Each input line is split into arguments with redis-cli quoting rules
// and handed to an Executor. "exit" and "quit" leave the loop; "help"
// lists the commands the completer knows.
package repl
