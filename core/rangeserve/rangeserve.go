// Package rangeserve turns an HTTP Range header and a file size into a
// response plan, and copies the planned byte window from any io.ReaderAt.
// Nothing here depends on a live HTTP stack.
package rangeserve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// ErrUnsatisfiable is returned for malformed or out-of-bounds ranges.
var ErrUnsatisfiable = errors.New("requested range not satisfiable")

const copyChunk = 64 << 10

// Range is an inclusive byte window.
type Range struct {
	Start int64
	End   int64
}

// Length returns the number of bytes in the window.
func (r Range) Length() int64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Plan is what a handler needs to write before the body.
type Plan struct {
	Status  int
	Range   Range
	Headers map[string]string
}

// ParseRange parses "bytes=<start>-<end>" against a file of size bytes. The
// end bound is optional and defaults to size-1.
func ParseRange(header string, size int64) (Range, error) {
	spec, ok := cutPrefixFold(strings.TrimSpace(header), "bytes=")
	if !ok {
		return Range{}, ErrUnsatisfiable
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return Range{}, ErrUnsatisfiable
	}

	start, ok := parseOffset(startStr)
	if !ok {
		return Range{}, ErrUnsatisfiable
	}
	end := size - 1
	if strings.TrimSpace(endStr) != "" {
		if end, ok = parseOffset(endStr); !ok {
			return Range{}, ErrUnsatisfiable
		}
	}

	if start > end || end >= size {
		return Range{}, ErrUnsatisfiable
	}
	return Range{Start: start, End: end}, nil
}

// NewPlan builds the response plan. An empty header means the whole file.
func NewPlan(rangeHeader string, size int64) (Plan, error) {
	if strings.TrimSpace(rangeHeader) == "" {
		return Plan{
			Status: http.StatusOK,
			Range:  Range{Start: 0, End: size - 1},
			Headers: map[string]string{
				"Accept-Ranges":  "bytes",
				"Content-Length": strconv.FormatInt(size, 10),
			},
		}, nil
	}

	r, err := ParseRange(rangeHeader, size)
	if err != nil {
		return Plan{
			Status: http.StatusRequestedRangeNotSatisfiable,
			Headers: map[string]string{
				"Content-Range": fmt.Sprintf("bytes */%d", size),
			},
		}, err
	}
	return Plan{
		Status: http.StatusPartialContent,
		Range:  r,
		Headers: map[string]string{
			"Accept-Ranges":  "bytes",
			"Content-Range":  fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size),
			"Content-Length": strconv.FormatInt(r.Length(), 10),
		},
	}, nil
}

// Copy writes the bytes of r from src to dst. It reads one chunk at a time and
// stops as soon as ctx is done or dst fails.
func Copy(ctx context.Context, dst io.Writer, src io.ReaderAt, r Range) (int64, error) {
	section := io.NewSectionReader(src, r.Start, r.Length())
	buf := make([]byte, copyChunk)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, rerr := section.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			if written != r.Length() {
				return written, io.ErrUnexpectedEOF
			}
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func parseOffset(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}
