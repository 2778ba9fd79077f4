package codec

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html/charset"

	errs "github.com/systemshift/graphedit/internal/errors"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// prepare turns raw request bytes into UTF-8 without a byte order mark.
// A declared charset other than UTF-8 is transcoded here; without one the
// bytes are passed on for the codec to interpret.
func prepare(r io.Reader, label string) (io.Reader, error) {
	label = strings.TrimSpace(label)
	if label != "" && !isUTF8(label) {
		tr, err := charset.NewReaderLabel(label, r)
		if err != nil {
			return nil, errs.Errorf(errs.KindUnsupportedMediaType, "codec.Decode", "unsupported charset %q", label)
		}
		r = tr
	}

	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br, nil
}

func isUTF8(label string) bool {
	l := strings.ToLower(label)
	return l == "utf-8" || l == "utf8"
}

// transcode decodes src from the named encoding into UTF-8.
func transcode(src []byte, label string) ([]byte, error) {
	if label == "" || isUTF8(label) {
		return src, nil
	}
	r, err := charset.NewReaderLabel(label, bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// limitReader fails once more than n bytes have been read. n <= 0 is
// unlimited.
type limitReader struct {
	r        io.Reader
	n        int64
	read     int64
	exceeded bool
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.n <= 0 {
		return l.r.Read(p)
	}
	if l.read > l.n {
		l.exceeded = true
		return 0, errs.Errorf(errs.KindResourceExhausted, "codec.Decode", "input exceeds %d bytes", l.n)
	}
	if rem := l.n + 1 - l.read; int64(len(p)) > rem {
		p = p[:rem]
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	if l.read > l.n {
		l.exceeded = true
		return n, errs.Errorf(errs.KindResourceExhausted, "codec.Decode", "input exceeds %d bytes", l.n)
	}
	return n, err
}
