package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials signals wrong account or secret.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakSecret signals the secret doesn't meet requirements.
	ErrWeakSecret = errors.New("auth: secret must be at least 12 characters")
	// ErrBadSignature signals the registration was not signed by the account.
	ErrBadSignature = errors.New("auth: signature does not match account")
	// ErrInvalidAccount signals a malformed account address.
	ErrInvalidAccount = errors.New("auth: invalid account")
)

const tokenTTL = 24 * time.Hour

// Service handles authentication business logic.
type Service struct {
	repo      Repository
	jwtSecret []byte
	now       func() time.Time
}

// LoginResult bundles the token and the authenticated account.
type LoginResult struct {
	Token     string
	Account   common.Address
	ExpiresAt time.Time
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		now:       time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RegistrationMessage is the text an account signs to claim a secret.
func RegistrationMessage(account common.Address) string {
	return "reviewescrow api registration for " + strings.ToLower(account.Hex())
}

// Register stores a bcrypt hash of the secret after checking the
// registration signature recovers to the account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Credential, error) {
	if len(req.Secret) < 12 {
		return nil, ErrWeakSecret
	}
	if !common.IsHexAddress(req.Account) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAccount, req.Account)
	}
	account := common.HexToAddress(req.Account)
	if err := verifySignature(account, req.Signature); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash secret: %w", err)
	}

	cred, err := s.repo.CreateCredential(ctx, Credential{
		Account:    account,
		SecretHash: string(hash),
		Label:      strings.TrimSpace(req.Label),
	})
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// Login verifies the secret and issues a JWT carrying the account.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	if !common.IsHexAddress(req.Account) {
		return LoginResult{}, ErrInvalidCredentials
	}
	cred, err := s.repo.GetCredential(ctx, common.HexToAddress(req.Account))
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.SecretHash), []byte(req.Secret)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	expires := s.now().Add(tokenTTL)
	token, err := s.generateToken(cred.Account, expires)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}
	return LoginResult{Token: token, Account: cred.Account, ExpiresAt: expires}, nil
}

// VerifyToken validates a JWT and returns the account it was issued to.
func (s *Service) VerifyToken(tokenString string) (common.Address, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return common.Address{}, fmt.Errorf("auth: parse token: %w", err)
	}
	if !token.Valid || !common.IsHexAddress(claims.Subject) {
		return common.Address{}, fmt.Errorf("auth: invalid token")
	}
	return common.HexToAddress(claims.Subject), nil
}

func (s *Service) generateToken(account common.Address, expires time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   account.Hex(),
		IssuedAt:  jwt.NewNumericDate(s.now()),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func verifySignature(account common.Address, sigHex string) error {
	sig, err := hexutil.Decode(sigHex)
	if err != nil || len(sig) != crypto.SignatureLength {
		return ErrBadSignature
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(RegistrationMessage(account))), sig)
	if err != nil {
		return ErrBadSignature
	}
	if crypto.PubkeyToAddress(*pub) != account {
		return ErrBadSignature
	}
	return nil
}
