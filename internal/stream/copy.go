// Package stream copies bodies between readers and writers in fixed-size
// chunks.
package stream

import (
	"errors"
	"io"
)

// ChunkSize is the buffer size used for every body copy.
const ChunkSize = 8096

// Copy reads src in ChunkSize reads and writes each chunk to dst until src is
// exhausted. Unlike io.Copy it never delegates to WriterTo or ReaderFrom, so
// the chunk size holds for every reader.
func Copy(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, ChunkSize)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			w, werr := dst.Write(buf[:n])
			written += int64(w)
			if werr != nil {
				return written, werr
			}
			if w != n {
				return written, io.ErrShortWrite
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return written, nil
			}
			return written, rerr
		}
	}
}
