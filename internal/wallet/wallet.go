// Package wallet implements the trusted write/read proxy: it holds per-user
// key material, authorizes logins against pre-approved session keys, issues
// JWT sessions, signs outgoing writes with the principal's Ed25519 key,
// resolves the :key placeholder, and envelope-encrypts payloads on request.
package wallet

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/statewire/statewire/internal/codec"
	"github.com/statewire/statewire/internal/node"
	"github.com/statewire/statewire/internal/schema"
)

// Profile is what an external identity verifier vouches for.
type Profile struct {
	Email string
}

// IdentityVerifier validates a third-party id token. The wallet treats it
// as an opaque capability; OAuth specifics live outside the core.
type IdentityVerifier interface {
	Verify(ctx context.Context, idToken string) (Profile, error)
}

// Config tunes a wallet instance.
type Config struct {
	JWTSecret  []byte
	SessionTTL time.Duration // default 1h
	ResetTTL   time.Duration // default 15m
}

// Wallet is the privileged node sitting between applications and storage.
type Wallet struct {
	store    node.Node
	cfg      Config
	verifier IdentityVerifier
	log      *zap.Logger

	serviceSign SigningKeypair
	serviceBox  BoxKeypair
}

// New loads (or creates and persists) the wallet's service keys and returns
// a ready wallet over the given trusted store.
func New(ctx context.Context, store node.Node, cfg Config, verifier IdentityVerifier, log *zap.Logger) (*Wallet, error) {
	if len(cfg.JWTSecret) == 0 {
		return nil, node.Errf(node.KindBackend, "wallet requires a JWT secret")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = 15 * time.Minute
	}
	w := &Wallet{store: store, cfg: cfg, verifier: verifier, log: log}
	if err := w.loadOrCreateServiceKeys(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// RegisterPrograms adds the wallet's reserved programs to a registry, for
// deployments that route the wallet through a validated store.
func RegisterPrograms(reg *schema.Registry) {
	reg.Register("vault://credentials", schema.OpenMutable())
	reg.Register("vault://resets", schema.OpenMutable())
	reg.Register("vault://service", schema.OpenMutable())
}

func (w *Wallet) loadOrCreateServiceKeys(ctx context.Context) error {
	rec, err := w.store.Read(ctx, serviceKeysURI)
	if err == nil {
		cred, err := credentialFromValue(rec.Data)
		if err != nil {
			return err
		}
		w.serviceSign, w.serviceBox = cred.Sign, cred.Box
		return nil
	}
	if !node.IsNotFound(err) {
		return err
	}
	if w.serviceSign, err = NewSigningKeypair(); err != nil {
		return err
	}
	if w.serviceBox, err = NewBoxKeypair(); err != nil {
		return err
	}
	blob := (&Credential{Sign: w.serviceSign, Box: w.serviceBox}).toValue()
	if _, err := w.store.Receive(ctx, serviceKeysURI, blob); err != nil {
		return err
	}
	w.log.Info("wallet service keys created", zap.String("signPub", w.serviceSign.PubHex()))
	return nil
}

// ServerKeys returns the public halves of the wallet's service keypairs.
func (w *Wallet) ServerKeys() map[string]string {
	return map[string]string{
		"signPub": w.serviceSign.PubHex(),
		"encPub":  w.serviceBox.PubHex(),
	}
}

// ── Sessions ────────────────────────────────────────────────────────────────

// AuthRequest carries the credential fields of signup and login calls. The
// session signature is made by the client's ephemeral session key over
// SessionSignBytes.
type AuthRequest struct {
	Username         string `json:"username"`
	Password         string `json:"password,omitempty"`
	IDToken          string `json:"idToken,omitempty"`
	Type             string `json:"type"` // "password" or "identity"
	SessionPub       string `json:"sessionPub"`
	SessionSignature string `json:"sessionSignature"`
}

// SessionURI is the well-known address an application owner writes 1 to in
// order to pre-authorize a session public key.
func SessionURI(appKey, sessionPub string) string {
	return "mutable://accounts/" + appKey + "/sessions/" + sessionPub
}

// SessionSignBytes are the canonical bytes the session key signs on signup
// and login. Secrets (password, id token) are deliberately not covered.
func SessionSignBytes(appKey string, req AuthRequest) ([]byte, error) {
	return codec.Canonical(map[string]any{
		"appKey":     appKey,
		"username":   req.Username,
		"sessionPub": req.SessionPub,
		"type":       req.Type,
	})
}

// verifySession checks that the session key is currently approved and that
// the request signature verifies against it.
func (w *Wallet) verifySession(ctx context.Context, appKey string, req AuthRequest) error {
	if req.SessionPub == "" || req.SessionSignature == "" {
		return node.Errf(node.KindAuth, "missing session credentials")
	}
	rec, err := w.store.Read(ctx, SessionURI(appKey, req.SessionPub))
	if node.IsNotFound(err) {
		return node.Errf(node.KindAuth, "session key is not authorized")
	}
	if err != nil {
		return err
	}
	if !isOne(rec.Data) {
		return node.Errf(node.KindAuth, "session key authorization revoked")
	}

	pub, err := hex.DecodeString(req.SessionPub)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return node.Errf(node.KindAuth, "malformed session public key")
	}
	sig, err := hex.DecodeString(req.SessionSignature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return node.Errf(node.KindAuth, "malformed session signature")
	}
	msg, err := SessionSignBytes(appKey, req)
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), msg, sig) {
		return node.Errf(node.KindAuth, "session signature does not verify")
	}
	return nil
}

func isOne(v any) bool {
	switch t := v.(type) {
	case json.Number:
		return t.String() == "1"
	case float64:
		return t == 1
	case int:
		return t == 1
	case string:
		return t == "1"
	default:
		return false
	}
}

// ── JWT ─────────────────────────────────────────────────────────────────────

// Claims are the wallet's JWT session claims.
type Claims struct {
	jwt.RegisteredClaims
	AppKey       string `json:"appKey"`
	Username     string `json:"username"`
	PrincipalPub string `json:"principalPub"`
}

func (w *Wallet) issueToken(appKey, username, principalPub string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(w.cfg.SessionTTL)),
			Issuer:    "statewire/wallet",
		},
		AppKey:       appKey,
		Username:     username,
		PrincipalPub: principalPub,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(w.cfg.JWTSecret)
	if err != nil {
		return "", node.Errf(node.KindAuth, "sign token: %v", err)
	}
	return signed, nil
}

// ParseToken validates a bearer token and returns its claims.
func (w *Wallet) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, node.Errf(node.KindAuth, "unexpected signing method %v", t.Header["alg"])
		}
		return w.cfg.JWTSecret, nil
	})
	if err != nil {
		return nil, node.Errf(node.KindAuth, "invalid token: %v", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, node.Errf(node.KindAuth, "invalid token claims")
	}
	return claims, nil
}

// ── Credential lifecycle ────────────────────────────────────────────────────

// AuthResult is the outcome of signup and login.
type AuthResult struct {
	Token        string `json:"token"`
	PrincipalPub string `json:"principalPub"`
}

// Signup creates the long-term identity for (appKey, username) and issues a
// session token. The request must be signed by a pre-authorized session key.
func (w *Wallet) Signup(ctx context.Context, appKey string, req AuthRequest) (AuthResult, error) {
	if err := w.verifySession(ctx, appKey, req); err != nil {
		return AuthResult{}, err
	}
	existing, err := w.loadCredential(ctx, appKey, req.Username)
	if err != nil {
		return AuthResult{}, err
	}
	if existing != nil {
		return AuthResult{}, node.Errf(node.KindAuth, "username %q is taken", req.Username)
	}

	cred := &Credential{AppKey: appKey, Username: req.Username}
	switch req.Type {
	case "identity":
		if w.verifier == nil {
			return AuthResult{}, node.Errf(node.KindAuth, "identity signup is not enabled")
		}
		profile, err := w.verifier.Verify(ctx, req.IDToken)
		if err != nil {
			return AuthResult{}, node.Errf(node.KindAuth, "identity verification failed: %v", err)
		}
		cred.Email = profile.Email
	default:
		if req.Password == "" {
			return AuthResult{}, node.Errf(node.KindAuth, "password must not be empty")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return AuthResult{}, node.Errf(node.KindBackend, "hash password: %v", err)
		}
		cred.PasswordHash = string(hash)
	}

	if cred.Sign, err = NewSigningKeypair(); err != nil {
		return AuthResult{}, err
	}
	if cred.Box, err = NewBoxKeypair(); err != nil {
		return AuthResult{}, err
	}
	if err := w.saveCredential(ctx, cred); err != nil {
		return AuthResult{}, err
	}

	token, err := w.issueToken(appKey, req.Username, cred.Sign.PubHex())
	if err != nil {
		return AuthResult{}, err
	}
	w.log.Info("wallet signup", zap.String("appKey", appKey), zap.String("username", req.Username))
	return AuthResult{Token: token, PrincipalPub: cred.Sign.PubHex()}, nil
}

// Login authenticates an existing credential and issues a session token.
func (w *Wallet) Login(ctx context.Context, appKey string, req AuthRequest) (AuthResult, error) {
	if err := w.verifySession(ctx, appKey, req); err != nil {
		return AuthResult{}, err
	}
	cred, err := w.loadCredential(ctx, appKey, req.Username)
	if err != nil {
		return AuthResult{}, err
	}
	if cred == nil {
		return AuthResult{}, node.Errf(node.KindAuth, "unknown user %q", req.Username)
	}

	if req.IDToken != "" {
		if w.verifier == nil {
			return AuthResult{}, node.Errf(node.KindAuth, "identity login is not enabled")
		}
		profile, err := w.verifier.Verify(ctx, req.IDToken)
		if err != nil || profile.Email == "" || profile.Email != cred.Email {
			return AuthResult{}, node.Errf(node.KindAuth, "identity verification failed")
		}
	} else {
		if cred.PasswordHash == "" {
			return AuthResult{}, node.Errf(node.KindAuth, "password login is not enabled for this user")
		}
		if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(req.Password)); err != nil {
			return AuthResult{}, node.Errf(node.KindAuth, "wrong password")
		}
	}

	token, err := w.issueToken(appKey, req.Username, cred.Sign.PubHex())
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Token: token, PrincipalPub: cred.Sign.PubHex()}, nil
}

// ChangePassword swaps the password after verifying the old one.
func (w *Wallet) ChangePassword(ctx context.Context, appKey, username, oldPassword, newPassword string) error {
	cred, err := w.loadCredential(ctx, appKey, username)
	if err != nil {
		return err
	}
	if cred == nil || cred.PasswordHash == "" {
		return node.Errf(node.KindAuth, "unknown user %q", username)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(oldPassword)); err != nil {
		return node.Errf(node.KindAuth, "wrong password")
	}
	if newPassword == "" {
		return node.Errf(node.KindAuth, "new password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return node.Errf(node.KindBackend, "hash password: %v", err)
	}
	cred.PasswordHash = string(hash)
	return w.saveCredential(ctx, cred)
}

// RequestPasswordReset issues a single-use reset token. Delivering it to
// the user (mail, messenger) is the embedding application's business.
func (w *Wallet) RequestPasswordReset(ctx context.Context, appKey, username string) (string, error) {
	cred, err := w.loadCredential(ctx, appKey, username)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", node.Errf(node.KindAuth, "unknown user %q", username)
	}
	token := uuid.NewString()
	err = w.saveReset(ctx, appKey, username, resetRecord{
		Token:     token,
		ExpiresAt: time.Now().Add(w.cfg.ResetTTL).UnixMilli(),
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// ResetPassword consumes a reset token and installs the new password.
func (w *Wallet) ResetPassword(ctx context.Context, appKey, username, token, newPassword string) error {
	reset, err := w.loadReset(ctx, appKey, username)
	if err != nil {
		return err
	}
	if reset == nil || reset.Token != token {
		return node.Errf(node.KindAuth, "invalid reset token")
	}
	if time.Now().UnixMilli() > reset.ExpiresAt {
		return node.Errf(node.KindAuth, "reset token expired")
	}
	cred, err := w.loadCredential(ctx, appKey, username)
	if err != nil {
		return err
	}
	if cred == nil {
		return node.Errf(node.KindAuth, "unknown user %q", username)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return node.Errf(node.KindBackend, "hash password: %v", err)
	}
	cred.PasswordHash = string(hash)
	if err := w.saveCredential(ctx, cred); err != nil {
		return err
	}
	return w.store.Delete(ctx, resetURI(appKey, username))
}

// PublicKeys returns the authenticated user's public key material.
func (w *Wallet) PublicKeys(ctx context.Context, claims *Claims) (map[string]string, error) {
	cred, err := w.loadCredential(ctx, claims.AppKey, claims.Username)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, node.Errf(node.KindAuth, "unknown user %q", claims.Username)
	}
	return map[string]string{
		"signPub": cred.Sign.PubHex(),
		"encPub":  cred.Box.PubHex(),
	}, nil
}
