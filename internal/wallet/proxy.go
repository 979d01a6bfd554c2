package wallet

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/statewire/statewire/internal/node"
	"github.com/statewire/statewire/internal/schema"
)

// keyPlaceholder in a URI resolves to the authenticated principal's signing
// public key. It lets clients address per-user records without knowing their
// own key material.
const keyPlaceholder = ":key"

// resolveURI substitutes every :key occurrence with the principal hex.
func resolveURI(uri, principalPub string) string {
	return strings.ReplaceAll(uri, keyPlaceholder, principalPub)
}

// WriteRequest is one proxied write. Encrypt defaults to true: the wallet
// seals the payload to the writer's own box key unless RecipientPub names
// another reader or Encrypt is explicitly false.
type WriteRequest struct {
	URI          string `json:"uri"`
	Data         any    `json:"data"`
	Encrypt      *bool  `json:"encrypt,omitempty"`
	RecipientPub string `json:"recipientPub,omitempty"`
}

// WriteResult is the outcome of a proxied write: the store receipt plus the
// signed wrapper as it landed on disk.
type WriteResult struct {
	Receipt node.Receipt
	Stored  any
}

// ProxyWrite signs (and by default seals) a value on behalf of the
// authenticated user and forwards it to the backing store.
func (w *Wallet) ProxyWrite(ctx context.Context, claims *Claims, req WriteRequest) (WriteResult, error) {
	cred, err := w.loadCredential(ctx, claims.AppKey, claims.Username)
	if err != nil {
		return WriteResult{}, err
	}
	if cred == nil {
		return WriteResult{}, node.Errf(node.KindAuth, "unknown user %q", claims.Username)
	}
	uri := resolveURI(req.URI, cred.Sign.PubHex())

	payload := req.Data
	if req.Encrypt == nil || *req.Encrypt {
		recipient := cred.Box.Pub
		if req.RecipientPub != "" {
			recipient, err = hex.DecodeString(req.RecipientPub)
			if err != nil || len(recipient) != 32 {
				return WriteResult{}, node.Errf(node.KindValidation, "malformed recipient public key")
			}
		}
		if payload, err = seal(cred.Box.Priv, recipient, req.Data); err != nil {
			return WriteResult{}, err
		}
	}

	msg, err := schema.SignBytes(uri, payload)
	if err != nil {
		return WriteResult{}, node.Wrap(node.KindValidation, err)
	}
	sig := cred.Sign.SignHex(msg)
	wrapped := map[string]any{
		"auth": []any{
			map[string]any{"pubkey": cred.Sign.PubHex(), "signature": sig},
		},
		"payload": payload,
	}
	rcpt, err := w.store.Receive(ctx, uri, wrapped)
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Receipt: rcpt, Stored: wrapped}, nil
}

// ReadResult is a proxied read: the record plus whether the wallet managed
// to decrypt a sealed payload on the way out.
type ReadResult struct {
	URI       string      `json:"uri"`
	TS        int64       `json:"ts"`
	Data      any         `json:"data"`
	Decrypted bool        `json:"decrypted"`
	Record    node.Record `json:"-"`
}

// ProxyRead reads on behalf of the user, unwrapping the signed envelope and
// opening sealed payloads addressed to the user's box key.
func (w *Wallet) ProxyRead(ctx context.Context, claims *Claims, uri string) (ReadResult, error) {
	cred, err := w.loadCredential(ctx, claims.AppKey, claims.Username)
	if err != nil {
		return ReadResult{}, err
	}
	if cred == nil {
		return ReadResult{}, node.Errf(node.KindAuth, "unknown user %q", claims.Username)
	}
	resolved := resolveURI(uri, cred.Sign.PubHex())

	rec, err := w.store.Read(ctx, resolved)
	if err != nil {
		return ReadResult{}, err
	}
	out := ReadResult{URI: resolved, TS: rec.TS, Data: rec.Data, Record: rec}

	payload := rec.Data
	if entries, inner, err := schema.SplitSigned(rec.Data); err == nil && len(entries) > 0 {
		payload = inner
		out.Data = payload
	}
	if sealed, ok := sealedFrom(payload); ok {
		// The embedded sender key covers records sealed for another reader;
		// without it the record is self-addressed and the reader's own box
		// key is both sides of the shared secret.
		peer := cred.Box.Pub
		if sealed.SenderPub != "" {
			peer, err = hex.DecodeString(sealed.SenderPub)
			if err != nil || len(peer) != 32 {
				return ReadResult{}, node.Errf(node.KindDecrypt, "malformed sender public key")
			}
		}
		plain, err := open(cred.Box.Priv, peer, sealed)
		if err != nil {
			return ReadResult{}, err
		}
		out.Data = plain
		out.Decrypted = true
	}
	return out, nil
}

// MultiResult is one entry of a batched proxy read.
type MultiResult struct {
	URI    string      `json:"uri"`
	OK     bool        `json:"ok"`
	Result *ReadResult `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// ProxyReadMulti is the batched read: per-URI outcomes, never failing the
// whole batch for one bad record. The batch size cap still applies.
func (w *Wallet) ProxyReadMulti(ctx context.Context, claims *Claims, uris []string) ([]MultiResult, map[string]int, error) {
	if len(uris) > node.MaxReadMulti {
		return nil, nil, node.Errf(node.KindBatchTooLarge, "%d uris exceeds limit of %d", len(uris), node.MaxReadMulti)
	}
	results := make([]MultiResult, 0, len(uris))
	succeeded := 0
	for _, uri := range uris {
		r, err := w.ProxyRead(ctx, claims, uri)
		if err != nil {
			results = append(results, MultiResult{URI: uri, Error: err.Error()})
			continue
		}
		succeeded++
		results = append(results, MultiResult{URI: r.URI, OK: true, Result: &r})
	}
	summary := map[string]int{
		"total":     len(uris),
		"succeeded": succeeded,
		"failed":    len(uris) - succeeded,
	}
	return results, summary, nil
}
