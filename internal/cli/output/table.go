package output

import (
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"text/tabwriter"
)

// empty is shown for blank strings and nil pointers.
const empty = "-"

// Table is rows of cells under a header line.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable creates a table with the given column headers.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow appends a row. Missing cells render empty, extra cells are kept.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render writes the table with columns padded to a common width.
func (t *Table) Render(w io.Writer) error {
	return t.render(w, true)
}

func (t *Table) render(w io.Writer, headers bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if headers && len(t.headers) > 0 {
		fmt.Fprintln(tw, strings.Join(t.headers, "\t"))
	}
	for _, row := range t.rows {
		if pad := len(t.headers) - len(row); pad > 0 {
			row = append(row, make([]string, pad)...)
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// TableFormatter renders admin reports as columns.
//
// A *Table renders as is. A slice of structs gives one row per element
// and a struct gives FIELD/VALUE rows. Column names are the upper-cased
// json names; fields tagged `table:"-"` are left out.
type TableFormatter struct {
	NoHeaders bool
}

// Format renders data. Other kinds of data are an error.
func (f *TableFormatter) Format(w io.Writer, data any) error {
	if data == nil {
		return nil
	}
	if t, ok := data.(*Table); ok {
		return t.render(w, !f.NoHeaders)
	}

	v := reflect.Indirect(reflect.ValueOf(data))
	var t *Table
	switch {
	case v.Kind() == reflect.Struct:
		t = NewTable("FIELD", "VALUE")
		for _, c := range columnsOf(v.Type()) {
			t.AddRow(c.name, cell(v.Field(c.index)))
		}
	case v.Kind() == reflect.Slice && structElem(v.Type()) != nil:
		cols := columnsOf(structElem(v.Type()))
		t = &Table{}
		for _, c := range cols {
			t.headers = append(t.headers, strings.ToUpper(c.name))
		}
		for i := 0; i < v.Len(); i++ {
			elem := reflect.Indirect(v.Index(i))
			if !elem.IsValid() {
				continue
			}
			row := make([]string, len(cols))
			for j, c := range cols {
				row[j] = cell(elem.Field(c.index))
			}
			t.AddRow(row...)
		}
	default:
		return fmt.Errorf("table output does not support %T", data)
	}
	return t.render(w, !f.NoHeaders)
}

type column struct {
	index int
	name  string
}

func structElem(t reflect.Type) reflect.Type {
	elem := t.Elem()
	if elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		return nil
	}
	return elem
}

func columnsOf(t reflect.Type) []column {
	var cols []column
	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() || field.Tag.Get("table") == "-" {
			continue
		}
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		switch name {
		case "-":
			continue
		case "":
			name = strings.ToLower(field.Name)
		}
		cols = append(cols, column{index: i, name: name})
	}
	return cols
}

var stringerType = reflect.TypeFor[fmt.Stringer]()

// cell formats one value.
func cell(v reflect.Value) string {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return empty
		}
		v = v.Elem()
	}
	if v.Type().Implements(stringerType) {
		return v.Interface().(fmt.Stringer).String()
	}

	switch v.Kind() {
	case reflect.String:
		if v.Len() == 0 {
			return empty
		}
		return v.String()
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64)
	case reflect.Slice, reflect.Array:
		return strconv.Itoa(v.Len()) + " items"
	case reflect.Map:
		return strconv.Itoa(v.Len()) + " entries"
	}
	return fmt.Sprint(v.Interface())
}
