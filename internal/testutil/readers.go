package testutil

import (
	"context"
	"errors"
	"io"
)

// SplitReader returns a reader that yields data in reads of the given sizes,
// cycling through sizes until data is exhausted. Sizes <= 0 are treated as 1.
func SplitReader(data []byte, sizes ...int) io.Reader {
	if len(sizes) == 0 {
		sizes = []int{1}
	}
	return &splitReader{data: data, sizes: sizes}
}

type splitReader struct {
	data  []byte
	sizes []int
	next  int
}

func (r *splitReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.sizes[r.next%len(r.sizes)]
	r.next++
	if n <= 0 {
		n = 1
	}
	if n > len(p) {
		n = len(p)
	}
	if n > len(r.data) {
		n = len(r.data)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

// ErrInjected is returned by FailingReader once its data is exhausted.
var ErrInjected = errors.New("testutil: injected read failure")

// FailingReader yields data and then fails with ErrInjected instead of io.EOF.
func FailingReader(data []byte) io.Reader {
	return io.MultiReader(SplitReader(data, len(data)+1), errReader{err: ErrInjected})
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// BlockingReader yields data and then blocks until ctx is done, returning
// ctx.Err(). It stands in for a stalled agent.
func BlockingReader(ctx context.Context, data []byte) io.ReadCloser {
	return &blockingReader{ctx: ctx, data: data}
}

type blockingReader struct {
	ctx  context.Context
	data []byte
}

func (r *blockingReader) Read(p []byte) (int, error) {
	if len(r.data) > 0 {
		n := copy(p, r.data)
		r.data = r.data[n:]
		return n, nil
	}
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

func (r *blockingReader) Close() error { return nil }
