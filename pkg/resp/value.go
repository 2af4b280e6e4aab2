package resp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Kind identifies the RESP2 type of a reply.
type Kind byte

const (
	SimpleString Kind = '+'
	Error        Kind = '-'
	Integer      Kind = ':'
	BulkString   Kind = '$'
	Array        Kind = '*'
)

// Value is a decoded reply.
type Value struct {
	Kind  Kind
	Str   string
	Int   int64
	Array []Value
	// Null marks "$-1" and "*-1".
	Null bool
}

// Append encodes v in wire form.
func (v Value) Append(dst []byte) []byte {
	switch v.Kind {
	case SimpleString:
		return AppendSimple(dst, v.Str)
	case Error:
		return AppendError(dst, v.Str)
	case Integer:
		return AppendInt(dst, v.Int)
	case BulkString:
		if v.Null {
			return AppendNull(dst)
		}
		return AppendBulkString(dst, v.Str)
	case Array:
		if v.Null {
			return AppendNullArray(dst)
		}
		dst = AppendArrayHeader(dst, len(v.Array))
		for _, e := range v.Array {
			dst = e.Append(dst)
		}
		return dst
	}
	return dst
}

// IsError reports whether v is an error reply.
func (v Value) IsError() bool { return v.Kind == Error }

// WriteCommand writes args as a request array and flushes w.
func WriteCommand(w *bufio.Writer, args ...string) error {
	if _, err := w.Write(Command(args...)); err != nil {
		return err
	}
	return w.Flush()
}

// ReadValue reads one complete reply from r.
func ReadValue(r *bufio.Reader) (Value, error) {
	line, err := readLine(r)
	if err != nil {
		return Value{}, err
	}
	if len(line) == 0 {
		return Value{}, fmt.Errorf("%w: empty reply line", ErrProtocol)
	}

	kind, body := Kind(line[0]), string(line[1:])
	switch kind {
	case SimpleString, Error:
		return Value{Kind: kind, Str: body}, nil
	case Integer:
		n, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: invalid integer %q", ErrProtocol, body)
		}
		return Value{Kind: Integer, Int: n}, nil
	case BulkString:
		n, err := strconv.Atoi(body)
		if err != nil {
			return Value{}, fmt.Errorf("%w: invalid bulk length %q", ErrProtocol, body)
		}
		if n < 0 {
			return Value{Kind: BulkString, Null: true}, nil
		}
		if n > MaxBulkLen {
			return Value{}, fmt.Errorf("%w: bulk length %d too large", ErrProtocol, n)
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Value{}, err
		}
		if !bytes.HasSuffix(buf, crlf) {
			return Value{}, fmt.Errorf("%w: invalid bulk terminator", ErrProtocol)
		}
		return Value{Kind: BulkString, Str: string(buf[:n])}, nil
	case Array:
		n, err := strconv.Atoi(body)
		if err != nil {
			return Value{}, fmt.Errorf("%w: invalid array length %q", ErrProtocol, body)
		}
		if n < 0 {
			return Value{Kind: Array, Null: true}, nil
		}
		if n > MaxArrayLen {
			return Value{}, fmt.Errorf("%w: array length %d too large", ErrProtocol, n)
		}
		out := Value{Kind: Array, Array: make([]Value, 0, min(n, 64))}
		for i := 0; i < n; i++ {
			e, err := ReadValue(r)
			if err != nil {
				return Value{}, err
			}
			out.Array = append(out.Array, e)
		}
		return out, nil
	}
	return Value{}, fmt.Errorf("%w: unknown reply type '%c'", ErrProtocol, line[0])
}

func readLine(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		frag, err := r.ReadSlice('\n')
		buf = append(buf, frag...)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			if len(buf) > MaxInlineLen {
				return nil, fmt.Errorf("%w: line too long", ErrProtocol)
			}
			continue
		}
		return nil, err
	}
	if !bytes.HasSuffix(buf, crlf) {
		return nil, fmt.Errorf("%w: missing CRLF", ErrProtocol)
	}
	return buf[:len(buf)-2], nil
}
