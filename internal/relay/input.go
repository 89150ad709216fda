package relay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// MaxLineBytes bounds one line of operator input.
const MaxLineBytes = 1 << 20

var (
	// ErrInputClosed is returned when the terminal can no longer be read.
	ErrInputClosed = errors.New("input closed")
	// ErrLineTooLong is returned for a line over MaxLineBytes. The rest of the
	// line is discarded and reading continues with the next one.
	ErrLineTooLong = errors.New("input line too long")
	// ErrInvalidUTF8 is returned for a line that is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("input line is not valid UTF-8")
)

// lineReader splits input on '\n', dropping the terminator and a preceding '\r'.
// A final line without a terminator is still returned.
type lineReader struct {
	r   *bufio.Reader
	max int
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 64*1024), max: MaxLineBytes}
}

// next returns the next line. io.EOF means input is exhausted. ErrLineTooLong
// and ErrInvalidUTF8 affect one line only; any other error is final.
func (l *lineReader) next() (string, error) {
	var (
		line    []byte
		seen    bool
		tooLong bool
	)
	for {
		chunk, err := l.r.ReadSlice('\n')
		if len(chunk) > 0 {
			seen = true
		}
		if !tooLong {
			line = append(line, chunk...)
			if len(line) > l.max+2 {
				tooLong = true
				line = nil
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF {
			if !seen {
				return "", io.EOF
			}
			break
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInputClosed, err)
		}
		break
	}

	if tooLong {
		return "", ErrLineTooLong
	}
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
		if n > 0 && line[n-1] == '\r' {
			n--
		}
	}
	line = line[:n]
	if len(line) > l.max {
		return "", ErrLineTooLong
	}
	if !utf8.Valid(line) {
		return "", ErrInvalidUTF8
	}
	return string(line), nil
}
