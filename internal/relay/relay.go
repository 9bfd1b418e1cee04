// Package relay turns a captured upstream result into the response returned
// to the original caller.
package relay

import (
	"errors"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"connector-gate/internal/model"
	"connector-gate/internal/stream"
)

// DefaultContentType is used when the upstream sent no content type.
const DefaultContentType = "application/json"

// ErrConsumed is returned when a Body is drained a second time.
var ErrConsumed = errors.New("relay: body already consumed")

// Response is the status, primary content type and lazy body to send back.
type Response struct {
	Status      int
	ContentType string
	Body        *Body
}

// New builds a Response from result. A nil result means the upstream was
// unreachable and yields 500 with an empty body.
func New(result *model.UpstreamResult) *Response {
	if result == nil {
		return &Response{
			Status:      http.StatusInternalServerError,
			ContentType: DefaultContentType,
			Body:        NewBody(nil),
		}
	}
	return &Response{
		Status:      result.StatusCode,
		ContentType: MediaType(result.ContentType),
		Body:        NewBody(result.Body),
	}
}

// MediaType returns the text before the first ';' of a Content-Type value,
// or DefaultContentType when nothing is left.
func MediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	mt = strings.TrimSpace(mt)
	if mt == "" {
		return DefaultContentType
	}
	return mt
}

// Body is a lazy, single-pass byte sequence backed by an upstream stream.
// Nothing is read until the body is drained. The stream is closed once
// draining finishes, fails or is abandoned; Close releases it when the body
// is never drained. A nil source is an empty body.
type Body struct {
	src       io.ReadCloser
	used      atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewBody wraps src. src may be nil.
func NewBody(src io.ReadCloser) *Body {
	return &Body{src: src}
}

// Chunks yields the upstream bytes in reads of at most stream.ChunkSize. The
// yielded slice is reused between iterations. A second call yields
// ErrConsumed once.
func (b *Body) Chunks() iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if !b.used.CompareAndSwap(false, true) {
			yield(nil, ErrConsumed)
			return
		}
		defer b.Close()

		if b.src == nil {
			return
		}
		buf := make([]byte, stream.ChunkSize)
		for {
			n, err := b.src.Read(buf)
			if n > 0 && !yield(buf[:n], nil) {
				return
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
		}
	}
}

// WriteTo drains the body into w.
func (b *Body) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for chunk, err := range b.Chunks() {
		if err != nil {
			return written, err
		}
		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Close releases the upstream stream. It is safe to call more than once and
// after the body has been drained.
func (b *Body) Close() error {
	b.closeOnce.Do(func() {
		if b.src != nil {
			b.closeErr = b.src.Close()
		}
	})
	return b.closeErr
}
