package output

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

type workerRow struct {
	ID      int           `json:"id"`
	Clients int           `json:"clients"`
	Healthy bool          `json:"healthy"`
	Uptime  time.Duration `json:"uptime"`
	Name    *string       `json:"name,omitempty"`
	Tags    []string
	Secret  string `json:"secret" table:"-"`
	Hidden  string `json:"-"`
	private string
}

func render(t *testing.T, f *TableFormatter, data any) []string {
	t.Helper()
	var buf bytes.Buffer
	if err := f.Format(&buf, data); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	return strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
}

// ============================================================
// Table
// ============================================================

func TestTable_Render(t *testing.T) {
	table := NewTable("NAME", "VALUE")
	table.AddRow("a", "1")
	table.AddRow("longer", "2")
	table.AddRow("short")

	var buf bytes.Buffer
	if err := table.Render(&buf); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 || table.Len() != 3 {
		t.Fatalf("lines = %q, Len() = %d, want header and 3 rows", lines, table.Len())
	}
	if strings.Index(lines[0], "VALUE") != strings.Index(lines[1], "1") ||
		strings.Index(lines[1], "1") != strings.Index(lines[2], "2") {
		t.Errorf("columns not aligned:\n%s", buf.String())
	}
	if strings.TrimSpace(lines[3]) != "short" {
		t.Errorf("short row = %q, want padded row", lines[3])
	}
}

func TestTableFormatter_NoHeaders(t *testing.T) {
	table := NewTable("NAME")
	table.AddRow("only")

	lines := render(t, &TableFormatter{NoHeaders: true}, table)
	if len(lines) != 1 || strings.TrimSpace(lines[0]) != "only" {
		t.Errorf("lines = %q, want just the row", lines)
	}
}

// ============================================================
// Reflection
// ============================================================

func TestTableFormatter_Slice(t *testing.T) {
	name := "w0"
	rows := []workerRow{
		{ID: 0, Clients: 3, Healthy: true, Uptime: 90 * time.Second, Name: &name, Tags: []string{"a", "b"}, Secret: "s"},
		{ID: 1, Clients: 0, Healthy: false},
	}

	lines := render(t, &TableFormatter{}, rows)
	if len(lines) != 3 {
		t.Fatalf("lines = %q, want header and 2 rows", lines)
	}
	if got := strings.Join(strings.Fields(lines[0]), " "); got != "ID CLIENTS HEALTHY UPTIME NAME TAGS" {
		t.Errorf("header = %q", got)
	}
	if got := strings.Join(strings.Fields(lines[1]), " "); got != "0 3 true 1m30s w0 2 items" {
		t.Errorf("row 0 = %q", got)
	}
	if got := strings.Join(strings.Fields(lines[2]), " "); got != "1 0 false 0s - 0 items" {
		t.Errorf("row 1 = %q", got)
	}
	if strings.Contains(strings.Join(lines, "\n"), "SECRET") {
		t.Error("table:\"-\" field rendered")
	}
}

func TestTableFormatter_SliceOfPointers(t *testing.T) {
	lines := render(t, &TableFormatter{}, []*workerRow{{ID: 7}, nil})
	if len(lines) != 2 || strings.Fields(lines[1])[0] != "7" {
		t.Errorf("lines = %q, want one row for 7 and nil skipped", lines)
	}
}

func TestTableFormatter_Struct(t *testing.T) {
	lines := render(t, &TableFormatter{}, &workerRow{ID: 2, Clients: 5})

	want := map[string]string{"id": "2", "clients": "5", "healthy": "false", "name": "-", "tags": "0 items"}
	got := make(map[string]string)
	for _, line := range lines[1:] {
		f := strings.Fields(line)
		got[f[0]] = strings.Join(f[1:], " ")
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
	if strings.Join(strings.Fields(lines[0]), " ") != "FIELD VALUE" {
		t.Errorf("header = %q, want FIELD VALUE", lines[0])
	}
}

func TestTableFormatter_Unsupported(t *testing.T) {
	for _, data := range []any{42, "text", []string{"a"}, map[string]int{"a": 1}} {
		if err := (&TableFormatter{}).Format(&bytes.Buffer{}, data); err == nil {
			t.Errorf("Format(%T) error = nil, want error", data)
		}
	}
}

func TestTableFormatter_Nil(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, nil); err != nil || buf.Len() != 0 {
		t.Errorf("Format(nil) = %q, %v, want no output", buf.String(), err)
	}
}
