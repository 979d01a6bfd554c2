package wallet

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestLoadResetExpiryForms(t *testing.T) {
	w, store := testWallet(t)
	ctx := context.Background()

	// In-process stores hand the saved expiry back as a native int64.
	exp := time.Now().Add(time.Hour).UnixMilli()
	if err := w.saveReset(ctx, testApp, "alice", resetRecord{Token: "tok", ExpiresAt: exp}); err != nil {
		t.Fatal(err)
	}
	r, err := w.loadReset(ctx, testApp, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || r.Token != "tok" || r.ExpiresAt != exp {
		t.Fatalf("reset = %+v, want expiresAt %d", r, exp)
	}

	// JSON-backed stores hand it back as json.Number or float64.
	for name, v := range map[string]any{
		"number": json.Number("1234"),
		"float":  float64(1234),
	} {
		if _, err := store.Receive(ctx, resetURI(testApp, name), map[string]any{
			"token":     "t-" + name,
			"expiresAt": v,
		}); err != nil {
			t.Fatal(err)
		}
		r, err := w.loadReset(ctx, testApp, name)
		if err != nil {
			t.Fatal(err)
		}
		if r.ExpiresAt != 1234 {
			t.Errorf("%s: expiresAt = %d, want 1234", name, r.ExpiresAt)
		}
	}
}
