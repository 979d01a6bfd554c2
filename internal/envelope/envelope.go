// Package envelope implements content-addressed batch messages: a value
// whose "outputs" field lists child (uri, data) pairs. The envelope itself
// lands at a hash:// URI and every output is received individually, so a
// reader of any output URI never needs to know the write was batched.
package envelope

import (
	"context"
	"strings"

	"github.com/statewire/statewire/internal/codec"
	"github.com/statewire/statewire/internal/node"
)

// HashScheme prefixes the content-address an envelope is stored under.
const HashScheme = "hash://sha256:"

// Output is one child write carried by an envelope.
type Output struct {
	URI   string
	Value any
}

// Envelope is the decoded batch shape.
type Envelope struct {
	Outputs []Output
}

// Detect reports whether value has the envelope shape: a map carrying an
// "outputs" array of [uri, data] tuples. Values that merely have an
// "outputs" key of another shape are not envelopes.
func Detect(value any) (*Envelope, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, false
	}
	raw, ok := m["outputs"].([]any)
	if !ok || len(raw) == 0 {
		return nil, false
	}
	env := &Envelope{Outputs: make([]Output, 0, len(raw))}
	for _, item := range raw {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			return nil, false
		}
		uri, ok := pair[0].(string)
		if !ok || !strings.Contains(uri, "://") {
			return nil, false
		}
		env.Outputs = append(env.Outputs, Output{URI: uri, Value: pair[1]})
	}
	return env, true
}

// HashURI computes the content-address the envelope value is stored under.
func HashURI(value any) (string, error) {
	h, err := codec.Hash(value)
	if err != nil {
		return "", node.Wrap(node.KindBackend, err)
	}
	return HashScheme + h, nil
}

// PutFunc stores the envelope record itself without re-entering envelope
// detection. It returns the write timestamp.
type PutFunc func(ctx context.Context, uri string, value any) (int64, error)

// ReceiveFunc receives one child output; backends pass their own Receive so
// nested envelopes unpack recursively.
type ReceiveFunc func(ctx context.Context, uri string, value any) (node.Receipt, error)

// Unpack stores value at its content-hash URI via put, then receives every
// output via receive. The receipt's ResolvedURI is always the hash URI. If
// any child fails, the returned error carries the first failing child's
// kind and the receipt still lists every per-child outcome.
func Unpack(ctx context.Context, env *Envelope, value any, put PutFunc, receive ReceiveFunc) (node.Receipt, error) {
	hashURI, err := HashURI(value)
	if err != nil {
		return node.Receipt{}, err
	}
	ts, err := put(ctx, hashURI, value)
	if err != nil {
		return node.Receipt{}, node.Wrap(node.KindBackend, err)
	}

	rcpt := node.Receipt{ResolvedURI: hashURI, TS: ts}
	var firstErr *node.Error
	failed := 0
	for _, out := range env.Outputs {
		_, cerr := receive(ctx, out.URI, out.Value)
		oc := node.ChildOutcome{URI: out.URI, OK: cerr == nil}
		if cerr != nil {
			failed++
			ne := node.Wrap(node.KindBackend, cerr)
			oc.Error = ne.Error()
			if firstErr == nil {
				firstErr = ne
			}
		}
		rcpt.Children = append(rcpt.Children, oc)
	}
	if firstErr != nil {
		return rcpt, node.Errf(firstErr.Kind, "envelope: %d of %d outputs failed: %s",
			failed, len(env.Outputs), firstErr.Message)
	}
	return rcpt, nil
}
