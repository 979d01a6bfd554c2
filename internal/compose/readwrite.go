package compose

import (
	"context"

	"github.com/statewire/statewire/internal/node"
)

// ReadWrite pairs a write-side node with a read-side node into one Node,
// e.g. a Broadcast over replicas with a FirstMatch over the same replicas.
// When the two sides share peers, Close on each side must tolerate double
// closing (every backend's Close is idempotent by contract).
type ReadWrite struct {
	write node.Node
	read  node.Node
}

func NewReadWrite(write, read node.Node) *ReadWrite {
	return &ReadWrite{write: write, read: read}
}

func (rw *ReadWrite) Receive(ctx context.Context, uri string, value any) (node.Receipt, error) {
	return rw.write.Receive(ctx, uri, value)
}

func (rw *ReadWrite) Read(ctx context.Context, uri string) (node.Record, error) {
	return rw.read.Read(ctx, uri)
}

func (rw *ReadWrite) ReadMulti(ctx context.Context, uris []string) ([]node.ReadOutcome, error) {
	return rw.read.ReadMulti(ctx, uris)
}

func (rw *ReadWrite) List(ctx context.Context, uri string, opts node.ListOptions) (node.ListResult, error) {
	return rw.read.List(ctx, uri, opts)
}

func (rw *ReadWrite) Delete(ctx context.Context, uri string) error {
	return rw.write.Delete(ctx, uri)
}

func (rw *ReadWrite) Health(ctx context.Context) node.Health {
	return rw.write.Health(ctx)
}

func (rw *ReadWrite) ListPrograms(ctx context.Context) ([]string, error) {
	return rw.write.ListPrograms(ctx)
}

func (rw *ReadWrite) Close() error {
	werr := rw.write.Close()
	rerr := rw.read.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
