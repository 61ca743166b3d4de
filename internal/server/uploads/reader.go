package uploads

import (
	"context"
	"fmt"
	"io"

	"github.com/dmitrijs2005/pressarchive/internal/common"
)

// exactReader yields exactly want bytes from r and fails otherwise, so a
// chunk of the wrong length never replaces a good one.
type exactReader struct {
	r    io.Reader
	left int64
	want int64
}

func newExactReader(r io.Reader, want int64) *exactReader {
	return &exactReader{r: r, left: want, want: want}
}

func (e *exactReader) Read(p []byte) (int, error) {
	if e.left == 0 {
		var extra [1]byte
		n, _ := io.ReadFull(e.r, extra[:])
		if n > 0 {
			return 0, common.Validationf("chunk exceeds %d bytes", e.want)
		}
		return 0, io.EOF
	}
	if int64(len(p)) > e.left {
		p = p[:e.left]
	}
	n, err := e.r.Read(p)
	e.left -= int64(n)
	if err == io.EOF && e.left > 0 {
		return n, common.Validationf("chunk is %d bytes, expected %d", e.want-e.left, e.want)
	}
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// chunkReader streams the staged chunks of one session in index order and
// keeps at most one of them open.
type chunkReader struct {
	ctx  context.Context
	open func(ctx context.Context, index int) (io.ReadCloser, error)
	n    int
	next int
	cur  io.ReadCloser
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if r.next >= r.n {
				return 0, io.EOF
			}
			rc, err := r.open(r.ctx, r.next)
			if err != nil {
				return 0, fmt.Errorf("chunk %d: %w", r.next, err)
			}
			r.cur = rc
			r.next++
		}

		n, err := r.cur.Read(p)
		if err == io.EOF {
			err = r.Close()
			if n > 0 || err != nil {
				return n, err
			}
			continue
		}
		return n, err
	}
}

func (r *chunkReader) Close() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	return err
}
