package repl

import (
	"reflect"
	"testing"
)

func TestCompleter_Complete(t *testing.T) {
	c := NewCompleter()

	tests := []struct {
		name   string
		prefix string
		want   []string
	}{
		{"list pops", "bl", []string{"BLPOP"}},
		{"case insensitive", "lp", []string{"LPOP", "LPUSH"}},
		{"expire family", "PEX", []string{"PEXPIRE"}},
		{"repl words", "ex", []string{"EXISTS", "EXPIRE", "exit"}},
		{"no match", "zadd", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Complete(tt.prefix); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Complete(%q) = %q, want %q", tt.prefix, got, tt.want)
			}
		})
	}

	if got := c.Complete(""); len(got) != len(Commands) {
		t.Errorf("Complete(\"\") returned %d commands, want %d", len(got), len(Commands))
	}
}
