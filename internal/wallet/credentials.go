package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"

	"github.com/statewire/statewire/internal/node"
)

// Credential records live under a reserved program key in the wallet's own
// store; nothing outside the wallet reads or writes them.
const (
	credentialPrefix = "vault://credentials"
	resetPrefix      = "vault://resets"
	serviceKeysURI   = "vault://service/keys"
)

// Credential is the persisted per-(appKey, username) material: password
// hash, long-term signing identity, long-term encryption pair.
type Credential struct {
	AppKey       string
	Username     string
	PasswordHash string
	Email        string
	Sign         SigningKeypair
	Box          BoxKeypair
}

func credentialURI(appKey, username string) string {
	return credentialPrefix + "/" + appKey + "/" + username
}

func resetURI(appKey, username string) string {
	return resetPrefix + "/" + appKey + "/" + username
}

func (c *Credential) toValue() map[string]any {
	return map[string]any{
		"appKey":       c.AppKey,
		"username":     c.Username,
		"passwordHash": c.PasswordHash,
		"email":        c.Email,
		"signPub":      hex.EncodeToString(c.Sign.Pub),
		"signPriv":     hex.EncodeToString(c.Sign.Priv),
		"encPub":       hex.EncodeToString(c.Box.Pub),
		"encPriv":      hex.EncodeToString(c.Box.Priv),
	}
}

func credentialFromValue(v any) (*Credential, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, node.Errf(node.KindBackend, "malformed credential record")
	}
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	signPub, err1 := hex.DecodeString(str("signPub"))
	signPriv, err2 := hex.DecodeString(str("signPriv"))
	encPub, err3 := hex.DecodeString(str("encPub"))
	encPriv, err4 := hex.DecodeString(str("encPriv"))
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil ||
		len(signPub) != ed25519.PublicKeySize || len(signPriv) != ed25519.PrivateKeySize {
		return nil, node.Errf(node.KindBackend, "malformed credential key material")
	}
	return &Credential{
		AppKey:       str("appKey"),
		Username:     str("username"),
		PasswordHash: str("passwordHash"),
		Email:        str("email"),
		Sign:         SigningKeypair{Pub: signPub, Priv: signPriv},
		Box:          BoxKeypair{Pub: encPub, Priv: encPriv},
	}, nil
}

// loadCredential returns nil without error when no credential exists.
func (w *Wallet) loadCredential(ctx context.Context, appKey, username string) (*Credential, error) {
	rec, err := w.store.Read(ctx, credentialURI(appKey, username))
	if node.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return credentialFromValue(rec.Data)
}

func (w *Wallet) saveCredential(ctx context.Context, c *Credential) error {
	_, err := w.store.Receive(ctx, credentialURI(c.AppKey, c.Username), c.toValue())
	return err
}

// resetRecord is a pending single-use password reset.
type resetRecord struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (w *Wallet) saveReset(ctx context.Context, appKey, username string, r resetRecord) error {
	_, err := w.store.Receive(ctx, resetURI(appKey, username), map[string]any{
		"token":     r.Token,
		"expiresAt": r.ExpiresAt,
	})
	return err
}

func (w *Wallet) loadReset(ctx context.Context, appKey, username string) (*resetRecord, error) {
	rec, err := w.store.Read(ctx, resetURI(appKey, username))
	if node.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m, ok := rec.Data.(map[string]any)
	if !ok {
		return nil, node.Errf(node.KindBackend, "malformed reset record")
	}
	r := &resetRecord{}
	r.Token, _ = m["token"].(string)
	r.ExpiresAt = int64Of(m["expiresAt"])
	return r, nil
}

// int64Of recovers an integer regardless of how the backend round-tripped
// it: native int64 from in-process stores, float64 or json.Number from
// JSON-backed ones.
func int64Of(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}
