package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/statewire/statewire/internal/compose"
	"github.com/statewire/statewire/internal/node"
	"github.com/statewire/statewire/internal/schema"
	"github.com/statewire/statewire/internal/store/memory"
)

const testApp = "app-1"

// testWallet builds a wallet over a validated store so proxied writes run
// through the real program validators.
func testWallet(t *testing.T) (*Wallet, node.Node) {
	t.Helper()
	reg := schema.Default()
	RegisterPrograms(reg)
	store := compose.NewValidated(reg, memory.New())

	w, err := New(context.Background(), store, Config{
		JWTSecret:  []byte("test-secret"),
		SessionTTL: time.Hour,
	}, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return w, store
}

// approveSession pre-authorizes a fresh session key and returns a signed
// auth request for it.
func approveSession(t *testing.T, store node.Node, username, password string) AuthRequest {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	req := AuthRequest{
		Username:   username,
		Password:   password,
		Type:       "password",
		SessionPub: hex.EncodeToString(pub),
	}
	if _, err := store.Receive(context.Background(), SessionURI(testApp, req.SessionPub), 1); err != nil {
		t.Fatal(err)
	}
	msg, err := SessionSignBytes(testApp, req)
	if err != nil {
		t.Fatal(err)
	}
	req.SessionSignature = hex.EncodeToString(ed25519.Sign(priv, msg))
	return req
}

func signup(t *testing.T, w *Wallet, store node.Node, username, password string) AuthResult {
	t.Helper()
	res, err := w.Signup(context.Background(), testApp, approveSession(t, store, username, password))
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestSignupAndLogin(t *testing.T) {
	w, store := testWallet(t)
	ctx := context.Background()

	res := signup(t, w, store, "alice", "s3cret")
	if res.Token == "" || len(res.PrincipalPub) != 64 {
		t.Fatalf("result = %+v", res)
	}

	claims, err := w.ParseToken(res.Token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Username != "alice" || claims.AppKey != testApp || claims.PrincipalPub != res.PrincipalPub {
		t.Errorf("claims = %+v", claims)
	}

	// Login with the right password issues a token for the same principal.
	login, err := w.Login(ctx, testApp, approveSession(t, store, "alice", "s3cret"))
	if err != nil {
		t.Fatal(err)
	}
	if login.PrincipalPub != res.PrincipalPub {
		t.Error("login principal differs from signup")
	}

	// Wrong password fails auth.
	_, err = w.Login(ctx, testApp, approveSession(t, store, "alice", "wrong"))
	if node.KindOf(err) != node.KindAuth {
		t.Errorf("kind = %s, want auth", node.KindOf(err))
	}
}

func TestSignupRequiresApprovedSession(t *testing.T) {
	w, _ := testWallet(t)
	ctx := context.Background()

	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	req := AuthRequest{
		Username:   "bob",
		Password:   "pw",
		Type:       "password",
		SessionPub: hex.EncodeToString(pub),
	}
	msg, _ := SessionSignBytes(testApp, req)
	req.SessionSignature = hex.EncodeToString(ed25519.Sign(priv, msg))

	// Session key never approved.
	_, err := w.Signup(ctx, testApp, req)
	if node.KindOf(err) != node.KindAuth {
		t.Errorf("kind = %s, want auth", node.KindOf(err))
	}
}

func TestSignupRejectsBadSessionSignature(t *testing.T) {
	w, store := testWallet(t)
	req := approveSession(t, store, "carol", "pw")
	req.SessionSignature = strings.Repeat("00", ed25519.SignatureSize)

	_, err := w.Signup(context.Background(), testApp, req)
	if node.KindOf(err) != node.KindAuth {
		t.Errorf("kind = %s, want auth", node.KindOf(err))
	}
}

func TestSignupDuplicateUsername(t *testing.T) {
	w, store := testWallet(t)
	signup(t, w, store, "alice", "pw")

	_, err := w.Signup(context.Background(), testApp, approveSession(t, store, "alice", "pw2"))
	if node.KindOf(err) != node.KindAuth {
		t.Errorf("kind = %s, want auth", node.KindOf(err))
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	w, _ := testWallet(t)
	if _, err := w.ParseToken("not.a.token"); node.KindOf(err) != node.KindAuth {
		t.Errorf("kind = %s, want auth", node.KindOf(err))
	}
}

func TestChangePassword(t *testing.T) {
	w, store := testWallet(t)
	ctx := context.Background()
	signup(t, w, store, "alice", "old")

	if err := w.ChangePassword(ctx, testApp, "alice", "wrong", "new"); node.KindOf(err) != node.KindAuth {
		t.Errorf("kind = %s, want auth", node.KindOf(err))
	}
	if err := w.ChangePassword(ctx, testApp, "alice", "old", "new"); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Login(ctx, testApp, approveSession(t, store, "alice", "new")); err != nil {
		t.Errorf("login with new password: %v", err)
	}
}

func TestPasswordReset(t *testing.T) {
	w, store := testWallet(t)
	ctx := context.Background()
	signup(t, w, store, "alice", "old")

	token, err := w.RequestPasswordReset(ctx, testApp, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.ResetPassword(ctx, testApp, "alice", "bogus-token", "new"); node.KindOf(err) != node.KindAuth {
		t.Errorf("bogus token kind = %s, want auth", node.KindOf(err))
	}
	if err := w.ResetPassword(ctx, testApp, "alice", token, "new"); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Login(ctx, testApp, approveSession(t, store, "alice", "new")); err != nil {
		t.Errorf("login after reset: %v", err)
	}
	// The token is single use.
	if err := w.ResetPassword(ctx, testApp, "alice", token, "newer"); node.KindOf(err) != node.KindAuth {
		t.Errorf("reuse kind = %s, want auth", node.KindOf(err))
	}
}

func TestServiceKeysPersist(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	cfg := Config{JWTSecret: []byte("s")}

	w1, err := New(ctx, store, cfg, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	w2, err := New(ctx, store, cfg, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if w1.ServerKeys()["signPub"] != w2.ServerKeys()["signPub"] {
		t.Error("service keys not stable across restarts")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	kp, err := NewBoxKeypair()
	if err != nil {
		t.Fatal(err)
	}
	value := map[string]any{"note": "secret"}

	sealed, err := seal(kp.Priv, kp.Pub, value)
	if err != nil {
		t.Fatal(err)
	}
	p, ok := sealedFrom(sealed)
	if !ok {
		t.Fatal("sealed shape not recognized")
	}
	if p.SenderPub != kp.PubHex() {
		t.Errorf("senderPub = %s, want sealer's key", p.SenderPub)
	}
	back, err := open(kp.Priv, kp.Pub, p)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := back.(map[string]any)
	if !ok || m["note"] != "secret" {
		t.Errorf("opened = %#v", back)
	}

	// A different key cannot open it.
	other, _ := NewBoxKeypair()
	if _, err := open(other.Priv, other.Pub, p); node.KindOf(err) != node.KindDecrypt {
		t.Errorf("kind = %s, want decrypt", node.KindOf(err))
	}
}
