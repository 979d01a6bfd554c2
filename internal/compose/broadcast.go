// Package compose provides the combinators clients assemble nodes with:
// parallel broadcast for the write side, first-match sequence for the read
// side, a read/write pairing, and the schema-validating wrapper. Every
// combinator is itself a node, so compositions nest freely.
package compose

import (
	"context"
	"sync"

	"github.com/statewire/statewire/internal/node"
)

// Broadcast fans writes out to every peer concurrently and accepts only on
// unanimity; the first failing peer's kind is reported verbatim. Reads,
// lists, health and program listing are served from the first peer.
type Broadcast struct {
	peers []node.Node
}

func NewBroadcast(peers ...node.Node) *Broadcast {
	if len(peers) == 0 {
		panic("compose: broadcast needs at least one peer")
	}
	return &Broadcast{peers: peers}
}

// fanOut runs op against every peer and returns the first error in peer
// order, so failure reporting is deterministic.
func (b *Broadcast) fanOut(op func(i int, p node.Node) error) error {
	errs := make([]error, len(b.peers))
	var wg sync.WaitGroup
	for i, p := range b.peers {
		wg.Add(1)
		go func(i int, p node.Node) {
			defer wg.Done()
			errs[i] = op(i, p)
		}(i, p)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return node.Wrap(node.KindBackend, err)
		}
	}
	return nil
}

func (b *Broadcast) Receive(ctx context.Context, uri string, value any) (node.Receipt, error) {
	receipts := make([]node.Receipt, len(b.peers))
	err := b.fanOut(func(i int, p node.Node) error {
		var e error
		receipts[i], e = p.Receive(ctx, uri, value)
		return e
	})
	if err != nil {
		return node.Receipt{}, err
	}
	return receipts[0], nil
}

func (b *Broadcast) Read(ctx context.Context, uri string) (node.Record, error) {
	return b.peers[0].Read(ctx, uri)
}

func (b *Broadcast) ReadMulti(ctx context.Context, uris []string) ([]node.ReadOutcome, error) {
	return b.peers[0].ReadMulti(ctx, uris)
}

func (b *Broadcast) List(ctx context.Context, uri string, opts node.ListOptions) (node.ListResult, error) {
	return b.peers[0].List(ctx, uri, opts)
}

func (b *Broadcast) Delete(ctx context.Context, uri string) error {
	return b.fanOut(func(_ int, p node.Node) error {
		return p.Delete(ctx, uri)
	})
}

// Health aggregates peer health: healthy only when every peer is, degraded
// while a strict subset is down.
func (b *Broadcast) Health(ctx context.Context) node.Health {
	healths := make([]node.Health, len(b.peers))
	b.fanOut(func(i int, p node.Node) error { //nolint:errcheck
		healths[i] = p.Health(ctx)
		return nil
	})
	down := 0
	infos := make([]any, len(healths))
	for i, h := range healths {
		if h.Status != node.StatusHealthy {
			down++
		}
		infos[i] = map[string]any{"status": string(h.Status), "info": h.Info}
	}
	status := node.StatusHealthy
	switch {
	case down == len(healths):
		status = node.StatusUnhealthy
	case down > 0:
		status = node.StatusDegraded
	}
	return node.Health{Status: status, Info: map[string]any{"peers": infos}}
}

func (b *Broadcast) ListPrograms(ctx context.Context) ([]string, error) {
	return b.peers[0].ListPrograms(ctx)
}

func (b *Broadcast) Close() error {
	var first error
	for _, p := range b.peers {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
