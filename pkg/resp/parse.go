package resp

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// Protocol limits.
const (
	// MaxArrayLen limits the number of elements in a request array.
	MaxArrayLen = 1024 * 1024

	// MaxInlineLen limits an inline command line.
	MaxInlineLen = 64 * 1024

	// MaxBulkLen limits a single bulk string.
	MaxBulkLen = 512 * 1024 * 1024

	// maxHeaderLen bounds "*<n>\r\n" and "$<n>\r\n" lines.
	maxHeaderLen = 32
)

var (
	// ErrIncomplete means more bytes are needed to complete the frame.
	ErrIncomplete = errors.New("resp: incomplete frame")

	// ErrProtocol means the bytes can never form a valid frame.
	ErrProtocol = errors.New("resp: protocol error")

	// ErrFrameTooLarge means the frame exceeds the configured maximum.
	ErrFrameTooLarge = errors.New("resp: frame too large")
)

var crlf = []byte("\r\n")

// ParseFrame parses one request frame from the front of buf.
//
// On success it returns the command arguments and the number of bytes the
// frame occupied. An empty frame ("*0\r\n" or a blank inline line) returns
// nil args with a positive consumed count; callers skip it.
//
// maxFrame bounds the encoded size of a single frame. A frame of exactly
// maxFrame bytes is accepted. Once buf holds more than maxFrame bytes of an
// unfinished frame, ErrFrameTooLarge is returned without waiting for the
// rest. maxFrame <= 0 disables the check.
//
// The returned slices alias buf.
func ParseFrame(buf []byte, maxFrame int) (args [][]byte, consumed int, err error) {
	if len(buf) == 0 {
		return nil, 0, ErrIncomplete
	}

	if buf[0] == '*' {
		args, consumed, err = parseArray(buf, maxFrame)
	} else {
		args, consumed, err = parseInline(buf)
	}

	if errors.Is(err, ErrIncomplete) && maxFrame > 0 && len(buf) > maxFrame {
		return nil, 0, fmt.Errorf("%w: more than %d bytes buffered", ErrFrameTooLarge, maxFrame)
	}
	if err == nil && maxFrame > 0 && consumed > maxFrame {
		return nil, 0, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrFrameTooLarge, consumed, maxFrame)
	}
	return args, consumed, err
}

func parseArray(buf []byte, maxFrame int) ([][]byte, int, error) {
	n, pos, err := parseHeader(buf, 0, '*')
	if err != nil {
		return nil, 0, err
	}
	if n <= 0 {
		// "*0" and "*-1" are empty requests.
		return nil, pos, nil
	}
	if n > MaxArrayLen {
		return nil, 0, fmt.Errorf("%w: invalid multibulk length %d", ErrProtocol, n)
	}

	args := make([][]byte, 0, min(n, 64))
	for i := 0; i < n; i++ {
		if pos >= len(buf) {
			return nil, 0, ErrIncomplete
		}
		if buf[pos] != '$' {
			return nil, 0, fmt.Errorf("%w: expected '$', got '%c'", ErrProtocol, buf[pos])
		}
		size, next, err := parseHeader(buf, pos, '$')
		if err != nil {
			return nil, 0, err
		}
		if size < 0 || size > MaxBulkLen {
			return nil, 0, fmt.Errorf("%w: invalid bulk length", ErrProtocol)
		}
		// Compare before adding: next+size must not overflow.
		if maxFrame > 0 && size > maxFrame-next-2 {
			return nil, 0, fmt.Errorf("%w: bulk of %d bytes exceeds limit %d", ErrFrameTooLarge, size, maxFrame)
		}
		if size > len(buf)-next-2 {
			return nil, 0, ErrIncomplete
		}
		end := next + size
		if buf[end] != '\r' || buf[end+1] != '\n' {
			return nil, 0, fmt.Errorf("%w: invalid bulk terminator", ErrProtocol)
		}
		args = append(args, buf[next:end:end])
		pos = end + 2
	}
	return args, pos, nil
}

// parseHeader reads "<prefix><int>\r\n" starting at buf[at].
func parseHeader(buf []byte, at int, prefix byte) (int, int, error) {
	idx := bytes.Index(buf[at:], crlf)
	if idx < 0 {
		if len(buf)-at > maxHeaderLen {
			return 0, 0, fmt.Errorf("%w: header too long", ErrProtocol)
		}
		return 0, 0, ErrIncomplete
	}
	if idx > maxHeaderLen || buf[at] != prefix {
		return 0, 0, fmt.Errorf("%w: invalid header", ErrProtocol)
	}
	n, err := strconv.Atoi(string(buf[at+1 : at+idx]))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: invalid length %q", ErrProtocol, buf[at+1:at+idx])
	}
	return n, at + idx + 2, nil
}

func parseInline(buf []byte) ([][]byte, int, error) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		if len(buf) > MaxInlineLen {
			return nil, 0, fmt.Errorf("%w: inline line too long", ErrProtocol)
		}
		return nil, 0, ErrIncomplete
	}
	if idx > MaxInlineLen {
		return nil, 0, fmt.Errorf("%w: inline line too long", ErrProtocol)
	}
	line := bytes.TrimRight(buf[:idx], "\r")
	fields := bytes.Fields(line)
	if len(fields) == 0 {
		return nil, idx + 1, nil
	}
	return fields, idx + 1, nil
}
