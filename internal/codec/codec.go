// Package codec holds the one serialization stack shared by transports,
// persistent stores, hashing and signing: JSON with a tagged base64 wrapper
// for raw bytes, and RFC 8785 (JCS) canonical bytes for anything that gets
// hashed or signed.
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

const (
	binTag = "__bin"
	binB64 = "b64"
)

// WrapBinary replaces every []byte in the value tree with the JSON-safe
// sentinel {"__bin":true,"b64":…}. Non-binary values pass through.
func WrapBinary(v any) any {
	switch t := v.(type) {
	case []byte:
		return map[string]any{binTag: true, binB64: base64.StdEncoding.EncodeToString(t)}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = WrapBinary(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = WrapBinary(val)
		}
		return out
	default:
		return v
	}
}

// UnwrapBinary is the inverse of WrapBinary: sentinel maps become []byte
// again so applications always see the original byte sequence.
func UnwrapBinary(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if isBin, ok := t[binTag].(bool); ok && isBin && len(t) == 2 {
			if s, ok := t[binB64].(string); ok {
				if b, err := base64.StdEncoding.DecodeString(s); err == nil {
					return b
				}
			}
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = UnwrapBinary(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = UnwrapBinary(val)
		}
		return out
	default:
		return v
	}
}

// Encode marshals v to wire JSON with binary values wrapped.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(WrapBinary(v))
	if err != nil {
		return nil, fmt.Errorf("codec encode: %w", err)
	}
	return b, nil
}

// Decode parses wire JSON, preserving number formatting via json.Number and
// unwrapping binary sentinels.
func Decode(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("codec decode: %w", err)
	}
	return UnwrapBinary(v), nil
}

// Canonical returns the canonical bytes of v: raw bytes as-is, everything
// else as RFC 8785 canonical JSON of the wire form. These bytes are the sole
// input to content hashes and signatures.
func Canonical(v any) ([]byte, error) {
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	enc, err := Encode(v)
	if err != nil {
		return nil, err
	}
	out, err := jcs.Transform(enc)
	if err != nil {
		return nil, fmt.Errorf("codec canonicalize: %w", err)
	}
	return out, nil
}

// Hash returns the SHA-256 hex digest of the canonical bytes of v.
func Hash(v any) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
