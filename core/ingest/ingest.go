// Package ingest streams a multipart/form-data upload straight to disk.
//
// The file part is never held in memory: each chunk read from the wire is
// written to the target file before the next chunk is read, so a slow disk
// throttles the network read. Scalar field parts are small and are kept in
// memory up to MaxFieldBytes.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"MediaGuard/core/mediatype"
	"MediaGuard/logger"
	"MediaGuard/model"

	"github.com/google/uuid"
)

const (
	// DefaultFileField is the form field carrying the media file.
	DefaultFileField = "file"
	// MaxFieldBytes caps each scalar form field.
	MaxFieldBytes = 1 << 20

	copyBufferSize = 256 << 10
	// bodyOverhead is what a request may carry beyond the file itself:
	// boundaries, part headers and the scalar fields.
	bodyOverhead = 4 * MaxFieldBytes
)

var (
	ErrNotMultipart    = errors.New("content-type must be multipart/form-data")
	ErrUnsupportedType = errors.New("unsupported media type")
	ErrNoFile          = errors.New("no file uploaded")
	ErrTooLarge        = errors.New("file exceeds the upload size limit")
	ErrMultipleFiles   = errors.New("only one file may be uploaded per request")
	ErrFieldTooLarge   = errors.New("form field too large")
)

// Result describes a file that was fully written to disk.
type Result struct {
	Filename    string // client supplied, display only
	MimeType    string // canonical type for the extension
	Kind        model.MediaKind
	ByteSize    int64
	StoragePath string
	Fields      map[string]string
}

// Engine ingests uploads into a single directory.
type Engine struct {
	dir       string
	maxBytes  int64
	fileField string
	bufSize   int
	newName   func(ext string) string
}

// Option customizes the engine.
type Option func(*Engine)

// WithFileField overrides the form field name of the file part.
func WithFileField(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.fileField = name
		}
	}
}

// WithBufferSize overrides the copy buffer size.
func WithBufferSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.bufSize = n
		}
	}
}

// WithNameFunc overrides how storage file names are generated.
func WithNameFunc(fn func(ext string) string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newName = fn
		}
	}
}

// NewEngine creates an engine writing into dir with a per-file ceiling of maxBytes.
func NewEngine(dir string, maxBytes int64, opts ...Option) *Engine {
	e := &Engine{
		dir:       dir,
		maxBytes:  maxBytes,
		fileField: DefaultFileField,
		bufSize:   copyBufferSize,
		newName: func(ext string) string {
			return uuid.NewString() + ext
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dir returns the storage directory.
func (e *Engine) Dir() string { return e.dir }

// MaxBytes returns the per-file ceiling.
func (e *Engine) MaxBytes() int64 { return e.maxBytes }

// Ingest parses body as multipart/form-data and writes the file part to disk.
// On any error no file is left behind (best effort).
func (e *Engine) Ingest(ctx context.Context, contentType string, body io.Reader) (*Result, error) {
	boundary, err := multipartBoundary(contentType)
	if err != nil {
		return nil, err
	}

	if e.maxBytes > 0 {
		body = &cappedReader{r: body, remaining: e.maxBytes + bodyOverhead}
	}
	mr := multipart.NewReader(body, boundary)
	var (
		res       *Result
		fields    = make(map[string]string)
		discarded int64
	)

	fail := func(err error) (*Result, error) {
		if res != nil {
			removePartial(res.StoragePath)
		}
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(fmt.Errorf("read multipart: %w", err))
		}

		name := part.FormName()
		switch {
		case part.FileName() != "" && name == e.fileField:
			if res != nil {
				// 不读取第二个文件的内容，只做有限的 drain
				e.drain(body)
				return fail(ErrMultipleFiles)
			}
			written, err := e.writeFilePart(ctx, part)
			if written != nil {
				res = written
			}
			if err != nil {
				if errors.Is(err, ErrUnsupportedType) {
					e.drain(body)
				}
				return fail(err)
			}
			part.Close()

		case part.FileName() != "":
			// 非 file 字段的文件直接丢弃
			logger.Debug("丢弃多余的文件字段", logger.String("field", name))
			n, err := e.discard(part, discarded)
			discarded += n
			if err != nil {
				return fail(fmt.Errorf("discard part %q: %w", name, err))
			}
			part.Close()

		case name != "":
			value, err := readField(part)
			part.Close()
			if err != nil {
				return fail(fmt.Errorf("field %q: %w", name, err))
			}
			fields[name] = value

		default:
			part.Close()
		}
	}

	if res == nil {
		return nil, ErrNoFile
	}
	res.Fields = fields
	return res, nil
}

// writeFilePart validates the part and streams it to a new file. When the
// file was created, the returned Result is non-nil even on error so the
// caller can clean it up.
func (e *Engine) writeFilePart(ctx context.Context, part *multipart.Part) (*Result, error) {
	filename := part.FileName()
	declared := part.Header.Get("Content-Type")

	mimeType, kind, ok := mediatype.Validate(declared, filename)
	if !ok {
		logger.Warn("拒绝不支持的文件类型",
			logger.String("filename", filename),
			logger.String("contentType", declared))
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupportedType, filename, declared)
	}

	storagePath := filepath.Join(e.dir, e.newName(mediatype.Ext(filename)))
	f, err := os.OpenFile(storagePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", storagePath, err)
	}

	res := &Result{
		Filename:    filename,
		MimeType:    mimeType,
		Kind:        kind,
		StoragePath: storagePath,
	}

	n, copyErr := e.copyLimited(ctx, f, part)
	res.ByteSize = n
	if closeErr := f.Close(); copyErr == nil && closeErr != nil {
		copyErr = fmt.Errorf("close %s: %w", storagePath, closeErr)
	}
	return res, copyErr
}

// copyLimited forwards src to dst one buffer at a time and aborts once more
// than maxBytes would be written.
func (e *Engine) copyLimited(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, e.bufSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			if e.maxBytes > 0 && written+int64(nr) > e.maxBytes {
				return written, ErrTooLarge
			}
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, fmt.Errorf("write: %w", werr)
			}
			if nw != nr {
				return written, fmt.Errorf("write: %w", io.ErrShortWrite)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("read: %w", rerr)
		}
	}
}

// discard skips an unwanted file part. Discarded bytes count against the
// same ceiling as the stored file; already is what earlier parts used.
func (e *Engine) discard(part io.Reader, already int64) (int64, error) {
	if e.maxBytes <= 0 {
		return io.Copy(io.Discard, part)
	}
	limit := e.maxBytes - already
	n, err := io.CopyN(io.Discard, part, limit+1)
	if n > limit {
		return n, ErrTooLarge
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return n, err
	}
	return n, nil
}

// cappedReader bounds the whole request body. Reading past the cap yields
// ErrTooLarge.
type cappedReader struct {
	r         io.Reader
	remaining int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.remaining <= 0 {
		// 恰好读满时区分 EOF 和超限
		var one [1]byte
		n, err := c.r.Read(one[:])
		if n > 0 {
			return 0, ErrTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > c.remaining {
		p = p[:c.remaining]
	}
	n, err := c.r.Read(p)
	c.remaining -= int64(n)
	return n, err
}

// drain discards what is left of the request body so the connection can be
// reused after a rejection. It never reads more than the file ceiling.
func (e *Engine) drain(body io.Reader) {
	limit := e.maxBytes
	if limit <= 0 {
		limit = MaxFieldBytes
	}
	_, _ = io.CopyN(io.Discard, body, limit)
}

func readField(part *multipart.Part) (string, error) {
	b, err := io.ReadAll(io.LimitReader(part, MaxFieldBytes+1))
	if err != nil {
		return "", err
	}
	if len(b) > MaxFieldBytes {
		return "", ErrFieldTooLarge
	}
	return string(b), nil
}

func multipartBoundary(contentType string) (string, error) {
	if contentType == "" {
		return "", ErrNotMultipart
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.EqualFold(mediaType, "multipart/form-data") {
		return "", ErrNotMultipart
	}
	boundary := params["boundary"]
	if boundary == "" {
		return "", ErrNotMultipart
	}
	return boundary, nil
}

func removePartial(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("清理未完成的上传文件失败",
			logger.String("path", path),
			logger.ErrorField(err))
	}
}

// Remove deletes a stored file, ignoring files that are already gone.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
