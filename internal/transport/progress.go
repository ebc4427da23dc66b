package transport

import (
	"context"
	"io"
)

const progressChunk = 32 * 1024

// progressReader reports transferred bytes after every chunk and stops at
// the first chunk boundary after ctx is cancelled.
type progressReader struct {
	r      io.Reader
	ctx    context.Context
	read   int64
	total  int64
	report func(done, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	if len(b) > progressChunk {
		b = b[:progressChunk]
	}
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.report(p.read, p.total)
	}
	return n, err
}
