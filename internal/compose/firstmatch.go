package compose

import (
	"context"

	"github.com/statewire/statewire/internal/node"
)

// FirstMatch queries peers in order: reads return the first ok record,
// lists the first non-empty page. It defines no write side of its own and
// is meant to be paired with a write combinator via ReadWrite.
type FirstMatch struct {
	peers []node.Node
}

func NewFirstMatch(peers ...node.Node) *FirstMatch {
	if len(peers) == 0 {
		panic("compose: first-match needs at least one peer")
	}
	return &FirstMatch{peers: peers}
}

func (f *FirstMatch) Read(ctx context.Context, uri string) (node.Record, error) {
	var last error
	for _, p := range f.peers {
		rec, err := p.Read(ctx, uri)
		if err == nil {
			return rec, nil
		}
		last = err
	}
	return node.Record{}, node.Errf(node.KindNotFound, "%s", node.Wrap(node.KindNotFound, last).Message)
}

func (f *FirstMatch) ReadMulti(ctx context.Context, uris []string) ([]node.ReadOutcome, error) {
	return node.ReadMultiOutcomes(ctx, f, uris)
}

func (f *FirstMatch) List(ctx context.Context, uri string, opts node.ListOptions) (node.ListResult, error) {
	var last node.ListResult
	var lastErr error
	for _, p := range f.peers {
		res, err := p.List(ctx, uri, opts)
		if err != nil {
			lastErr = err
			continue
		}
		if len(res.Items) > 0 {
			return res, nil
		}
		last, lastErr = res, nil
	}
	return last, lastErr
}

func (f *FirstMatch) Receive(ctx context.Context, uri string, value any) (node.Receipt, error) {
	return node.Receipt{}, node.Errf(node.KindBackend, "receive is not defined for a first-match read composition")
}

func (f *FirstMatch) Delete(ctx context.Context, uri string) error {
	return node.Errf(node.KindBackend, "delete is not defined for a first-match read composition")
}

func (f *FirstMatch) Health(ctx context.Context) node.Health {
	return f.peers[0].Health(ctx)
}

func (f *FirstMatch) ListPrograms(ctx context.Context) ([]string, error) {
	return f.peers[0].ListPrograms(ctx)
}

func (f *FirstMatch) Close() error {
	var first error
	for _, p := range f.peers {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
