package repl

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// maxHistory is how many lines are kept, in memory and on disk.
const maxHistory = 1000

// DefaultHistoryFile returns ~/.sabledb/history.
func DefaultHistoryFile() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".sabledb", "history")
}

// History is the list of lines entered in the shell, oldest first.
type History struct {
	entries []string
	maxSize int
	file    string
}

// NewHistory creates a History backed by file. An empty file keeps the
// history in memory only.
func NewHistory(file string) *History {
	return &History{maxSize: maxHistory, file: file}
}

// Add records a line. Lines carrying credentials and repeats of the
// previous line are dropped.
func (h *History) Add(line string) {
	line = strings.TrimSpace(line)
	if line == "" || isSecret(line) {
		return
	}
	if n := len(h.entries); n > 0 && h.entries[n-1] == line {
		return
	}
	h.entries = append(h.entries, line)
	if over := len(h.entries) - h.maxSize; over > 0 {
		h.entries = append(h.entries[:0], h.entries[over:]...)
	}
}

func isSecret(line string) bool {
	name, _, _ := strings.Cut(line, " ")
	return strings.EqualFold(name, "auth") || strings.EqualFold(name, "connect")
}

// Get returns the entry index steps back (0 = most recent), or "".
func (h *History) Get(index int) string {
	if index < 0 || index >= len(h.entries) {
		return ""
	}
	return h.entries[len(h.entries)-1-index]
}

// Len returns the number of entries.
func (h *History) Len() int {
	return len(h.entries)
}

// Load appends the lines of the history file. A missing file is not an
// error.
func (h *History) Load() error {
	if h.file == "" {
		return nil
	}
	f, err := os.Open(h.file)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		h.Add(sc.Text())
	}
	return sc.Err()
}

// Save replaces the history file. The new content is written to a
// temporary file in the same directory and renamed over the old one, so an
// interrupted save never truncates the history.
func (h *History) Save() error {
	if h.file == "" {
		return nil
	}
	dir := filepath.Dir(h.file)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".history-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, line := range h.entries {
		w.WriteString(line)
		w.WriteByte('\n')
	}
	if err := errors.Join(w.Flush(), tmp.Chmod(0o600), tmp.Close()); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), h.file)
}
