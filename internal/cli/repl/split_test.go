package repl

import (
	"errors"
	"reflect"
	"testing"
)

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    []string
		wantErr error
	}{
		{"empty", "", nil, nil},
		{"blank", "   \t ", nil, nil},
		{"words", "SET  key value", []string{"SET", "key", "value"}, nil},
		{"double quotes", `SET k "a b"`, []string{"SET", "k", "a b"}, nil},
		{"empty quoted", `SET k ""`, []string{"SET", "k", ""}, nil},
		{"escapes", `ECHO "a\nb\t\"c\"\\"`, []string{"ECHO", "a\nb\t\"c\"\\"}, nil},
		{"hex escape", `ECHO "\x41\x7a"`, []string{"ECHO", "Az"}, nil},
		{"single quotes", `ECHO 'it\'s "raw" \n'`, []string{"ECHO", `it's "raw" \n`}, nil},
		{"quote inside word", `ECHO ab"c d"`, []string{"ECHO", "abc d"}, nil},
		{"unterminated double", `ECHO "abc`, nil, ErrUnbalancedQuotes},
		{"unterminated single", `ECHO 'abc`, nil, ErrUnbalancedQuotes},
		{"closing quote followed", `ECHO "a"b`, nil, ErrQuoteFollowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitArgs(tt.line)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SplitArgs(%q) error = %v, want %v", tt.line, err, tt.wantErr)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitArgs(%q) = %q, want %q", tt.line, got, tt.want)
			}
		})
	}
}
