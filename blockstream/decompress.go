package blockstream

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Compression names the per-blob compression code stored alongside a file
// content row.
type Compression int

const (
	CompressionNone Compression = 0
	CompressionGzip Compression = 1
)

// UnknownCompressionError is fatal: the source row names a compression code
// this pipeline does not understand.
type UnknownCompressionError struct {
	Code Compression
}

func (e *UnknownCompressionError) Error() string {
	return fmt.Sprintf("unknown compression code %d", e.Code)
}

var gzipReaderPool = sync.Pool{
	New: func() interface{} { return new(gzip.Reader) },
}

// Decompress wraps s, inflating it according to compression. CompressionNone
// passes blocks through untouched; CompressionGzip incrementally inflates
// using klauspost/compress's gzip, pooled the same way the rest of this
// pack pools its codecs.
func Decompress(s Stream, compression Compression) (Stream, error) {
	switch compression {
	case CompressionNone:
		return s, nil
	case CompressionGzip:
		zr := gzipReaderPool.Get().(*gzip.Reader)
		if err := zr.Reset(Reader(s)); err != nil {
			gzipReaderPool.Put(zr)
			return nil, fmt.Errorf("gzip reset: %w", err)
		}
		return &gzipStream{zr: zr, blockSize: 1 << 16}, nil
	default:
		return nil, &UnknownCompressionError{Code: compression}
	}
}

type gzipStream struct {
	zr        *gzip.Reader
	blockSize int
	done      bool
}

func (g *gzipStream) LenHint() int { return -1 }

func (g *gzipStream) NextBlock() ([]byte, error) {
	if g.done {
		return nil, io.EOF
	}
	buf := make([]byte, g.blockSize)
	n, err := g.zr.Read(buf)
	if err == io.EOF {
		g.done = true
		gzipReaderPool.Put(g.zr)
		if n > 0 {
			return buf[:n], nil
		}
		return nil, io.EOF
	}
	if err != nil {
		g.done = true
		gzipReaderPool.Put(g.zr)
		return buf[:n], err
	}
	return buf[:n], nil
}
