package wallet

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	circled25519 "github.com/cloudflare/circl/sign/ed25519"
	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"clinicalledger/backend/internal/model"
	"clinicalledger/backend/internal/storage"
)

func newTestService(t *testing.T) (*Service, *Registry) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	reg := NewRegistry(store, nil)
	return New(zap.NewNop(), store, reg, time.Second*5), reg
}

func TestIssueNonce_AutoCreatesExternalSignerWallet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.IssueNonce(ctx, IssueNonceInput{Address: "0xABCDEF0123456789", Family: model.WalletFamilyExternalSigner})
	if err != nil {
		t.Fatalf("IssueNonce: %v", err)
	}
	if res.Nonce == "" || res.Message == "" {
		t.Fatal("expected nonce and message to be populated")
	}
	if res.Wallet.Status != model.WalletStatusActive {
		t.Errorf("auto-created wallet status = %q, want active", res.Wallet.Status)
	}
}

func TestIssueNonce_CustomKeypairRequiresPublicKeyOnFirstSight(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.IssueNonce(ctx, IssueNonceInput{Address: "custom-1", Family: model.WalletFamilyCustomKeypair})
	if err != ErrPublicKeyNeeded {
		t.Fatalf("err = %v, want ErrPublicKeyNeeded", err)
	}
}

func TestVerify_ExternalSignerRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	address := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()

	res, err := svc.IssueNonce(ctx, IssueNonceInput{Address: address, Family: model.WalletFamilyExternalSigner})
	if err != nil {
		t.Fatalf("IssueNonce: %v", err)
	}

	hash := accounts.TextHash([]byte(res.Message))
	sig, err := ethcrypto.Sign(hash, key)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sig[64] += 27

	verifyRes, err := svc.Verify(ctx, address, "0x"+hexEncode(sig))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verifyRes.SessionToken == "" || verifyRes.Proof == "" {
		t.Error("expected sessionToken and proof to be populated")
	}

	// The nonce must be single-use: verifying again must fail.
	if _, err := svc.Verify(ctx, address, "0x"+hexEncode(sig)); err != ErrNoActiveNonce {
		t.Errorf("second Verify err = %v, want ErrNoActiveNonce", err)
	}
}

func TestVerify_CustomKeypairEd25519RoundTrip(t *testing.T) {
	svc, reg := newTestService(t)
	ctx := context.Background()

	pub, priv, err := circled25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	address := "custom-wallet-1"
	if _, err := reg.Register(ctx, RegisterInput{Address: address, Family: model.WalletFamilyCustomKeypair, PublicKey: hexEncode(pub)}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	res, err := svc.IssueNonce(ctx, IssueNonceInput{Address: address, Family: model.WalletFamilyCustomKeypair})
	if err != nil {
		t.Fatalf("IssueNonce: %v", err)
	}

	sig := circled25519.Sign(priv, []byte(res.Message))
	if _, err := svc.Verify(ctx, address, hexEncode(sig)); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerify_UnknownWallet(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Verify(context.Background(), "never-registered", "deadbeef")
	if err != ErrUnknownWallet {
		t.Fatalf("err = %v, want ErrUnknownWallet", err)
	}
}

func TestVerify_ExpiredNonce(t *testing.T) {
	store, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	reg := NewRegistry(store, nil)
	svc := New(zap.NewNop(), store, reg, time.Millisecond)
	ctx := context.Background()

	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	address := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	if _, err := svc.IssueNonce(ctx, IssueNonceInput{Address: address, Family: model.WalletFamilyExternalSigner}); err != nil {
		t.Fatalf("IssueNonce: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if _, err := svc.Verify(ctx, address, "0xdeadbeef"); err != ErrNonceExpired {
		t.Fatalf("err = %v, want ErrNonceExpired", err)
	}
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0x0f]
	}
	return string(out)
}
