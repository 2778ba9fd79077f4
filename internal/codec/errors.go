package codec

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	errs "github.com/systemshift/graphedit/internal/errors"
)

// DecodeError reports malformed input. Line and Column are 1-based and zero
// when the parser cannot tell.
type DecodeError struct {
	MediaType string
	Line      int
	Column    int
	Err       error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Line > 0 && e.Column > 0:
		return fmt.Sprintf("decode %s: line %d, column %d: %v", e.MediaType, e.Line, e.Column, e.Err)
	case e.Line > 0:
		return fmt.Sprintf("decode %s: line %d: %v", e.MediaType, e.Line, e.Err)
	default:
		return fmt.Sprintf("decode %s: %v", e.MediaType, e.Err)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes every DecodeError match errors.ErrDecode.
func (e *DecodeError) Is(target error) bool { return target == errs.ErrDecode }

// syntaxErrorAt builds a DecodeError positioned at byte offset off of src.
func syntaxErrorAt(src []byte, off int, format string, args ...any) *DecodeError {
	line, col := position(src, off)
	return &DecodeError{Line: line, Column: col, Err: fmt.Errorf(format, args...)}
}

// checkUTF8 rejects src at the first byte that is not part of a valid
// UTF-8 sequence.
func checkUTF8(src []byte) error {
	if utf8.Valid(src) {
		return nil
	}
	for off := 0; off < len(src); {
		r, size := utf8.DecodeRune(src[off:])
		if r == utf8.RuneError && size == 1 {
			return syntaxErrorAt(src, off, "invalid UTF-8 byte 0x%02x", src[off])
		}
		off += size
	}
	return nil
}

// position converts a byte offset into a 1-based line and rune column.
func position(src []byte, off int) (int, int) {
	if off > len(src) {
		off = len(src)
	}
	if off < 0 {
		off = 0
	}
	head := src[:off]
	line := bytes.Count(head, []byte{'\n'}) + 1
	start := bytes.LastIndexByte(head, '\n') + 1
	return line, len(bytes.Runes(head[start:])) + 1
}

// classify makes sure a codec failure carries a kind. Limit and
// cancellation errors pass through; everything else becomes a DecodeError.
func classify(mediaType string, err error) error {
	var de *DecodeError
	if errs.As(err, &de) {
		if de.MediaType == "" {
			de.MediaType = mediaType
		}
		return err
	}
	switch errs.KindOf(err) {
	case errs.KindResourceExhausted, errs.KindUnsupportedMediaType:
		return err
	}
	return &DecodeError{MediaType: mediaType, Err: err}
}
