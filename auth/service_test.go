package auth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

func newKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func sign(t *testing.T, key *ecdsa.PrivateKey, account common.Address) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(RegistrationMessage(account))), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")
	key, account := newKey(t)

	ctx := context.Background()
	cred, err := svc.Register(ctx, RegisterRequest{
		Account:   account.Hex(),
		Secret:    "correct horse battery",
		Label:     "client bot",
		Signature: sign(t, key, account),
	})
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}
	if cred.Account != account {
		t.Fatalf("expected account %s got %s", account.Hex(), cred.Account.Hex())
	}
	if cred.SecretHash == "correct horse battery" {
		t.Fatal("register: secret stored in clear")
	}

	resp, err := svc.Login(ctx, LoginRequest{Account: account.Hex(), Secret: "correct horse battery"})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}

	got, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if got != account {
		t.Fatalf("verify token: expected %s got %s", account.Hex(), got.Hex())
	}
}

func TestService_RegisterValidation(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")
	key, account := newKey(t)
	_, other := newKey(t)

	_, err := svc.Register(context.Background(), RegisterRequest{
		Account:   account.Hex(),
		Secret:    "short",
		Signature: sign(t, key, account),
	})
	if !errors.Is(err, ErrWeakSecret) {
		t.Fatalf("expected ErrWeakSecret, got %v", err)
	}

	_, err = svc.Register(context.Background(), RegisterRequest{
		Account:   other.Hex(),
		Secret:    "long enough secret",
		Signature: sign(t, key, account),
	})
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Account: "not-an-address",
		Secret:  "long enough secret",
	}); err == nil {
		t.Fatal("expected validation error for malformed account")
	}
}

func TestService_DuplicateAccount(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")
	key, account := newKey(t)

	req := RegisterRequest{
		Account:   account.Hex(),
		Secret:    "long enough secret",
		Signature: sign(t, key, account),
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateAccount) {
		t.Fatalf("expected ErrDuplicateAccount, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")
	key, account := newKey(t)

	_, err := svc.Login(context.Background(), LoginRequest{Account: account.Hex(), Secret: "irrelevant"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Account:   account.Hex(),
		Secret:    "long enough secret",
		Signature: sign(t, key, account),
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err = svc.Login(context.Background(), LoginRequest{Account: account.Hex(), Secret: "wrong secret value"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_ExpiredToken(t *testing.T) {
	repo := newFakeRepository()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService(repo, "test-secret").WithClock(func() time.Time { return now })
	key, account := newKey(t)

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Account:   account.Hex(),
		Secret:    "long enough secret",
		Signature: sign(t, key, account),
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	resp, err := svc.Login(context.Background(), LoginRequest{Account: account.Hex(), Secret: "long enough secret"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	now = now.Add(tokenTTL + time.Minute)
	if _, err := svc.VerifyToken(resp.Token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

type fakeRepository struct {
	byAccount map[common.Address]Credential
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{byAccount: make(map[common.Address]Credential)}
}

func (f *fakeRepository) CreateCredential(ctx context.Context, cred Credential) (Credential, error) {
	if _, exists := f.byAccount[cred.Account]; exists {
		return Credential{}, ErrDuplicateAccount
	}
	cred.CreatedAt = time.Now().UTC()
	f.byAccount[cred.Account] = cred
	return cred, nil
}

func (f *fakeRepository) GetCredential(ctx context.Context, account common.Address) (Credential, error) {
	cred, ok := f.byAccount[account]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return cred, nil
}
