package repl

import (
	"sort"
	"strings"
)

// Commands lists what the server understands plus the REPL's own words.
var Commands = []string{
	"PING", "ECHO", "QUIT", "AUTH", "SELECT", "CLIENT",
	"GET", "SET", "DEL", "EXISTS", "INCR", "DECR", "INCRBY", "DECRBY",
	"EXPIRE", "PEXPIRE", "TTL", "PTTL", "TYPE", "SCAN", "KEYS", "DBSIZE", "FLUSHALL", "FLUSHDB",
	"LPUSH", "RPUSH", "LPOP", "RPOP", "LLEN", "LRANGE", "BLPOP", "BRPOP",
	"INFO", "COMMAND", "TIME", "DEBUG",
	"connect", "help", "exit", "quit",
}

// Completer provides command completion for the REPL.
type Completer struct {
	commands []string
}

// NewCompleter creates a new Completer.
func NewCompleter() *Completer {
	cmds := append([]string(nil), Commands...)
	sort.Strings(cmds)
	return &Completer{commands: cmds}
}

// Complete returns the commands starting with prefix, ignoring case.
// An empty prefix matches everything.
func (c *Completer) Complete(prefix string) []string {
	var suggestions []string
	for _, cmd := range c.commands {
		if len(cmd) >= len(prefix) && strings.EqualFold(cmd[:len(prefix)], prefix) {
			suggestions = append(suggestions, cmd)
		}
	}
	return suggestions
}
