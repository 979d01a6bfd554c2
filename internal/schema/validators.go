package schema

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"strings"

	"github.com/statewire/statewire/internal/codec"
	"github.com/statewire/statewire/internal/node"
)

// OpenMutable accepts any value at any URI of the program.
func OpenMutable() Validator {
	return ValidatorFunc(func(ctx context.Context, uri node.URI, value any, read ReadFunc) error {
		return nil
	})
}

// OpenImmutable accepts a value only while no record exists at the URI.
func OpenImmutable() Validator {
	return ValidatorFunc(func(ctx context.Context, uri node.URI, value any, read ReadFunc) error {
		_, err := read(ctx, uri.String())
		switch {
		case err == nil:
			return node.Errf(node.KindImmutableExists, "record already exists at %s", uri)
		case node.IsNotFound(err):
			return nil
		default:
			return node.Wrap(node.KindBackend, err)
		}
	})
}

// ContentHash accepts a value only when the URI's digest equals the SHA-256
// of the value's canonical bytes. Re-writing identical content is idempotent
// by construction, so the program is mutable-safe.
func ContentHash() Validator {
	return ValidatorFunc(func(ctx context.Context, uri node.URI, value any, read ReadFunc) error {
		want := uri.AuthoritySuffix()
		if want == "" {
			want = uri.Path
		}
		if want == "" {
			return node.Errf(node.KindHashMismatch, "uri %s carries no digest", uri)
		}
		got, err := codec.Hash(value)
		if err != nil {
			return node.Wrap(node.KindValidation, err)
		}
		if !strings.EqualFold(got, want) {
			return node.Errf(node.KindHashMismatch, "content hash %s does not match uri digest %s", got, want)
		}
		return nil
	})
}

// Link accepts only syntactically valid URI strings, for URI-valued
// reference programs.
func Link() Validator {
	return ValidatorFunc(func(ctx context.Context, uri node.URI, value any, read ReadFunc) error {
		s, ok := value.(string)
		if !ok {
			return node.Errf(node.KindValidation, "link value must be a string")
		}
		if _, err := node.ParseURI(s); err != nil {
			return node.Errf(node.KindValidation, "link value %q is not a valid uri", s)
		}
		return nil
	})
}

// AuthEntry is one signer attestation inside a signed value.
type AuthEntry struct {
	Pubkey    string
	Signature string
}

// SignBytes are the canonical bytes a signed value's signature covers: the
// record URI concatenated with the canonical serialization of the payload.
func SignBytes(uri string, payload any) ([]byte, error) {
	pb, err := codec.Canonical(payload)
	if err != nil {
		return nil, err
	}
	return append([]byte(uri), pb...), nil
}

// PubkeyScoped gates a program on Ed25519 signatures: the value must be a
// {auth:[{pubkey,signature}], payload} wrapper, every auth entry must verify
// over SignBytes(uri, payload), and at least one pubkey must equal the
// principal designated by the URI (a 64-hex authority, else the first 64-hex
// path segment). With immutable set, an absence check applies on top.
func PubkeyScoped(immutable bool) Validator {
	return ValidatorFunc(func(ctx context.Context, uri node.URI, value any, read ReadFunc) error {
		principal := principalOf(uri)
		if principal == "" {
			return node.Errf(node.KindValidation, "uri %s designates no principal", uri)
		}

		entries, payload, err := SplitSigned(value)
		if err != nil {
			return err
		}

		matched := false
		for _, e := range entries {
			ok, err := verifyEntry(uri.String(), payload, e)
			if err != nil {
				return err
			}
			if !ok {
				return node.Errf(node.KindValidation, "signature by %s does not verify", e.Pubkey)
			}
			if strings.EqualFold(e.Pubkey, principal) {
				matched = true
			}
		}
		if !matched {
			return node.Errf(node.KindValidation, "no signature by principal %s", principal)
		}

		if immutable {
			return OpenImmutable().Validate(ctx, uri, value, read)
		}
		return nil
	})
}

// SplitSigned decomposes a signed value into its auth entries and payload.
func SplitSigned(value any) ([]AuthEntry, any, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, nil, node.Errf(node.KindValidation, "signed value must be an object with auth and payload")
	}
	rawAuth, ok := m["auth"].([]any)
	if !ok || len(rawAuth) == 0 {
		return nil, nil, node.Errf(node.KindValidation, "signed value carries no auth entries")
	}
	payload, ok := m["payload"]
	if !ok {
		return nil, nil, node.Errf(node.KindValidation, "signed value carries no payload")
	}
	entries := make([]AuthEntry, 0, len(rawAuth))
	for _, raw := range rawAuth {
		em, ok := raw.(map[string]any)
		if !ok {
			return nil, nil, node.Errf(node.KindValidation, "auth entry must be an object")
		}
		pub, _ := em["pubkey"].(string)
		sig, _ := em["signature"].(string)
		if pub == "" || sig == "" {
			return nil, nil, node.Errf(node.KindValidation, "auth entry missing pubkey or signature")
		}
		entries = append(entries, AuthEntry{Pubkey: pub, Signature: sig})
	}
	return entries, payload, nil
}

func verifyEntry(uri string, payload any, e AuthEntry) (bool, error) {
	pub, err := hex.DecodeString(e.Pubkey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false, node.Errf(node.KindValidation, "invalid pubkey %q", e.Pubkey)
	}
	sig, err := hex.DecodeString(e.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false, node.Errf(node.KindValidation, "invalid signature encoding")
	}
	msg, err := SignBytes(uri, payload)
	if err != nil {
		return false, node.Wrap(node.KindValidation, err)
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig), nil
}

func principalOf(uri node.URI) string {
	if isHex64(uri.Authority) {
		return uri.Authority
	}
	for _, seg := range uri.PathSegments() {
		if isHex64(seg) {
			return seg
		}
	}
	return ""
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
