package compose

import (
	"context"
	"fmt"

	"github.com/statewire/statewire/internal/node"
	"github.com/statewire/statewire/internal/schema"
)

// Validated wraps a node with the schema pre-step: on receive it resolves
// the URI's program key in the registry and runs the validator with a
// read-only handle to the wrapped node, forwarding only accepted writes.
// Unknown program keys fail no-schema; validator panics convert to
// validation failures. All other operations pass through unchanged.
type Validated struct {
	inner node.Node
	reg   *schema.Registry
}

func NewValidated(reg *schema.Registry, inner node.Node) *Validated {
	return &Validated{inner: inner, reg: reg}
}

func (v *Validated) Receive(ctx context.Context, uri string, value any) (node.Receipt, error) {
	parsed, err := node.ParseURI(uri)
	if err != nil {
		return node.Receipt{}, err
	}
	pk := parsed.ProgramKey()
	validator, ok := v.reg.Lookup(pk)
	if !ok {
		return node.Receipt{}, node.Errf(node.KindNoSchema, "no validator registered for program %s", pk)
	}
	if err := v.runValidator(ctx, validator, parsed, value); err != nil {
		return node.Receipt{}, err
	}
	return v.inner.Receive(ctx, uri, value)
}

// runValidator executes the validator with panic containment; a panicking
// validator is a validation failure, never a crashed node.
func (v *Validated) runValidator(ctx context.Context, validator schema.Validator, uri node.URI, value any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = node.Errf(node.KindValidation, "validator panic: %v", r)
		}
	}()
	verr := validator.Validate(ctx, uri, value, v.inner.Read)
	if verr != nil {
		return node.Wrap(node.KindValidation, fmt.Errorf("program %s: %w", uri.ProgramKey(), verr))
	}
	return nil
}

func (v *Validated) Read(ctx context.Context, uri string) (node.Record, error) {
	return v.inner.Read(ctx, uri)
}

func (v *Validated) ReadMulti(ctx context.Context, uris []string) ([]node.ReadOutcome, error) {
	return v.inner.ReadMulti(ctx, uris)
}

func (v *Validated) List(ctx context.Context, uri string, opts node.ListOptions) (node.ListResult, error) {
	return v.inner.List(ctx, uri, opts)
}

func (v *Validated) Delete(ctx context.Context, uri string) error {
	return v.inner.Delete(ctx, uri)
}

func (v *Validated) Health(ctx context.Context) node.Health {
	return v.inner.Health(ctx)
}

// ListPrograms reports the registry's programs: the set of program keys this
// node accepts writes for.
func (v *Validated) ListPrograms(ctx context.Context) ([]string, error) {
	return v.reg.Programs(), nil
}

func (v *Validated) Close() error {
	return v.inner.Close()
}
