package importer

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/desertwitch/minixfs/internal/kernel"
	"github.com/zeebo/blake3"
)

//nolint:containedctx
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err //nolint:wrapcheck
	}

	return cr.reader.Read(p) //nolint:wrapcheck
}

// Sum returns the BLAKE3 digest of everything r yields.
func Sum(ctx context.Context, r io.Reader) ([32]byte, int64, error) {
	h := blake3.New()

	n, err := io.Copy(h, &contextReader{ctx: ctx, reader: r})
	if err != nil {
		return [32]byte{}, n, fmt.Errorf("(import-sum) %w", err)
	}

	var sum [32]byte
	copy(sum[:], h.Sum(nil))

	return sum, n, nil
}

// SumImage returns the BLAKE3 digest and size of the file at path inside
// the image.
func SumImage(ctx context.Context, k *kernel.Kernel, task *kernel.Task, path string) ([32]byte, int64, error) {
	f, err := k.Open(task, path, os.O_RDONLY, 0)
	if err != nil {
		return [32]byte{}, 0, fmt.Errorf("(import-sumimage) %w", err)
	}
	defer k.Close(f) //nolint:errcheck

	return Sum(ctx, k.Reader(f))
}

// Hex formats a digest.
func Hex(sum [32]byte) string {
	return hex.EncodeToString(sum[:])
}
