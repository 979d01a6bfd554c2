package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/statewire/statewire/internal/codec"
	"github.com/statewire/statewire/internal/node"
)

// SigningKeypair is a long-term Ed25519 identity. The public key hex is the
// principal every signed record carries.
type SigningKeypair struct {
	Pub  ed25519.PublicKey
	Priv ed25519.PrivateKey
}

func NewSigningKeypair() (SigningKeypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SigningKeypair{}, node.Errf(node.KindBackend, "generate signing key: %v", err)
	}
	return SigningKeypair{Pub: pub, Priv: priv}, nil
}

func (k SigningKeypair) PubHex() string { return hex.EncodeToString(k.Pub) }

// SignHex signs msg and returns the signature hex, the encoding signed
// records carry in their auth entries.
func (k SigningKeypair) SignHex(msg []byte) string {
	return hex.EncodeToString(ed25519.Sign(k.Priv, msg))
}

// BoxKeypair is a long-term X25519 pair used for envelope encryption.
type BoxKeypair struct {
	Pub  []byte
	Priv []byte
}

func NewBoxKeypair() (BoxKeypair, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, priv); err != nil {
		return BoxKeypair{}, node.Errf(node.KindBackend, "generate box key: %v", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return BoxKeypair{}, node.Errf(node.KindBackend, "derive box pubkey: %v", err)
	}
	return BoxKeypair{Pub: pub, Priv: priv}, nil
}

func (k BoxKeypair) PubHex() string { return hex.EncodeToString(k.Pub) }

// sealedPayload is the encrypted payload shape stored in place of plaintext
// data: XChaCha20-Poly1305 over the value's wire JSON, keyed by the X25519
// shared secret between sender and recipient. The sender's box public key
// rides along so any addressed recipient can rederive the secret.
type sealedPayload struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	SenderPub  string `json:"senderPub"`
}

// seal encrypts value for recipientPub using the sender's box private key.
func seal(senderPriv []byte, recipientPub []byte, value any) (map[string]any, error) {
	plaintext, err := codec.Encode(value)
	if err != nil {
		return nil, node.Wrap(node.KindValidation, err)
	}
	senderPub, err := curve25519.X25519(senderPriv, curve25519.Basepoint)
	if err != nil {
		return nil, node.Errf(node.KindBackend, "derive box pubkey: %v", err)
	}
	shared, err := curve25519.X25519(senderPriv, recipientPub)
	if err != nil {
		return nil, node.Errf(node.KindBackend, "derive shared secret: %v", err)
	}
	aead, err := chacha20poly1305.NewX(shared)
	if err != nil {
		return nil, node.Errf(node.KindBackend, "init aead: %v", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, node.Errf(node.KindBackend, "generate nonce: %v", err)
	}
	ct := aead.Seal(nil, nonce, plaintext, nil)
	return map[string]any{
		"nonce":      base64.StdEncoding.EncodeToString(nonce),
		"ciphertext": base64.StdEncoding.EncodeToString(ct),
		"senderPub":  hex.EncodeToString(senderPub),
	}, nil
}

// open decrypts a sealed payload with the recipient's box private key and
// the sender's public key. Failures are decrypt-kind errors: the ciphertext
// cannot be opened with the keys at hand.
func open(recipientPriv []byte, senderPub []byte, p sealedPayload) (any, error) {
	nonce, err := base64.StdEncoding.DecodeString(p.Nonce)
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, node.Errf(node.KindDecrypt, "malformed nonce")
	}
	ct, err := base64.StdEncoding.DecodeString(p.Ciphertext)
	if err != nil {
		return nil, node.Errf(node.KindDecrypt, "malformed ciphertext")
	}
	shared, err := curve25519.X25519(recipientPriv, senderPub)
	if err != nil {
		return nil, node.Errf(node.KindDecrypt, "derive shared secret: %v", err)
	}
	aead, err := chacha20poly1305.NewX(shared)
	if err != nil {
		return nil, node.Errf(node.KindDecrypt, "init aead: %v", err)
	}
	plaintext, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, node.Errf(node.KindDecrypt, "ciphertext cannot be opened with current keys")
	}
	return codec.Decode(plaintext)
}

// sealedFrom recognizes the encrypted payload shape inside a stored value.
// Records sealed before the sender key rode along carry just nonce and
// ciphertext; those are still recognized and open as self-addressed.
func sealedFrom(payload any) (sealedPayload, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return sealedPayload{}, false
	}
	nonce, ok1 := m["nonce"].(string)
	ct, ok2 := m["ciphertext"].(string)
	sender, hasSender := m["senderPub"].(string)
	if !ok1 || !ok2 {
		return sealedPayload{}, false
	}
	if len(m) != 2 && !(len(m) == 3 && hasSender) {
		return sealedPayload{}, false
	}
	return sealedPayload{Nonce: nonce, Ciphertext: ct, SenderPub: sender}, true
}
