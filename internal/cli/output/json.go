package output

import (
	"encoding/json"
	"io"
)

// JSONFormatter formats data as indented JSON. Reports carry addresses and
// user values, so HTML escaping is off.
type JSONFormatter struct{}

// Format formats data as indented JSON.
func (f *JSONFormatter) Format(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(data)
}
