package storage

import "testing"

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"", "anything", true},
		{"*", "", true},
		{"user:*", "user:1", true},
		{"user:*", "users:1", false},
		{"*:1", "a/b:1", true},
		{"h?llo", "hello", true},
		{"h?llo", "hllo", false},
		{"h[ae]llo", "hallo", true},
		{"h[ae]llo", "hillo", false},
		{"h[^e]llo", "hallo", true},
		{"h[^e]llo", "hello", false},
		{"h[a-c]llo", "hbllo", true},
		{"h[a-c]llo", "hdllo", false},
		{`h\*llo`, "h*llo", true},
		{`h\*llo`, "hello", false},
		{"a**b", "axxb", true},
		{"abc", "abcd", false},
	}

	for _, tt := range tests {
		if got := Match(tt.pattern, tt.key); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
		}
	}
}

func TestListRange(t *testing.T) {
	tests := []struct {
		n, start, stop int
		lo, hi         int
		ok             bool
	}{
		{5, 0, -1, 0, 5, true},
		{5, -2, -1, 3, 5, true},
		{5, -100, 1, 0, 2, true},
		{5, 3, 1, 0, 0, false},
		{5, 7, 9, 0, 0, false},
		{0, 0, -1, 0, 0, false},
	}
	for _, tt := range tests {
		lo, hi, ok := ListRange(tt.n, tt.start, tt.stop)
		if lo != tt.lo || hi != tt.hi || ok != tt.ok {
			t.Errorf("ListRange(%d, %d, %d) = %d, %d, %v, want %d, %d, %v",
				tt.n, tt.start, tt.stop, lo, hi, ok, tt.lo, tt.hi, tt.ok)
		}
	}
}
