package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/yndnr/sabledb-go/pkg/resp"
)

// WriteReply prints v the way redis-cli does in a terminal:
//
//	(integer) 3
//	"value"
//	(nil)
//	1) "a"
//	2) "b"
func WriteReply(w io.Writer, v resp.Value) error {
	var b strings.Builder
	writeReply(&b, v, 0)
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

func writeReply(b *strings.Builder, v resp.Value, indent int) {
	switch v.Kind {
	case resp.SimpleString:
		b.WriteString(v.Str)
	case resp.Error:
		b.WriteString("(error) ")
		b.WriteString(v.Str)
	case resp.Integer:
		b.WriteString("(integer) ")
		b.WriteString(strconv.FormatInt(v.Int, 10))
	case resp.BulkString:
		if v.Null {
			b.WriteString("(nil)")
		} else {
			b.WriteString(strconv.Quote(v.Str))
		}
	case resp.Array:
		switch {
		case v.Null:
			b.WriteString("(nil)")
		case len(v.Array) == 0:
			b.WriteString("(empty array)")
		default:
			width := len(strconv.Itoa(len(v.Array)))
			for i, elem := range v.Array {
				if i > 0 {
					b.WriteString(strings.Repeat(" ", indent))
				}
				prefix := fmt.Sprintf("%*d) ", width, i+1)
				b.WriteString(prefix)
				writeReply(b, elem, indent+len(prefix))
				if i < len(v.Array)-1 {
					b.WriteByte('\n')
				}
			}
		}
	default:
		fmt.Fprintf(b, "(unknown reply %q)", byte(v.Kind))
	}
}

// WriteRaw prints v without type annotations, one element per line, as
// redis-cli does when stdout is not a terminal.
func WriteRaw(w io.Writer, v resp.Value) error {
	var b strings.Builder
	writeRaw(&b, v)
	_, err := io.WriteString(w, b.String())
	return err
}

func writeRaw(b *strings.Builder, v resp.Value) {
	switch v.Kind {
	case resp.Integer:
		b.WriteString(strconv.FormatInt(v.Int, 10))
		b.WriteByte('\n')
	case resp.Array:
		for _, elem := range v.Array {
			writeRaw(b, elem)
		}
	default:
		if !v.Null {
			b.WriteString(v.Str)
		}
		b.WriteByte('\n')
	}
}
