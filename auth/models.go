package auth

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Credential is an API secret bound to an account address.
type Credential struct {
	Account    common.Address
	SecretHash string
	Label      string
	CreatedAt  time.Time
}

// RegisterRequest binds a secret to an account. Signature is the account's
// personal_sign over RegistrationMessage(Account), hex encoded.
type RegisterRequest struct {
	Account   string `json:"account"`
	Secret    string `json:"secret"`
	Label     string `json:"label"`
	Signature string `json:"signature"`
}

// LoginRequest exchanges an account secret for a bearer token.
type LoginRequest struct {
	Account string `json:"account"`
	Secret  string `json:"secret"`
}
