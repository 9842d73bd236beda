package memstore

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"reviewescrow/auth"
)

// Credentials implements auth.Repository.
type Credentials struct {
	store *Store
}

func (r *Credentials) CreateCredential(ctx context.Context, cred auth.Credential) (auth.Credential, error) {
	var err error
	r.store.view(func(st *state) {
		if _, exists := st.credentials[cred.Account]; exists {
			err = auth.ErrDuplicateAccount
			return
		}
		cred.CreatedAt = time.Now().UTC()
		st.credentials[cred.Account] = cred
	})
	if err != nil {
		return auth.Credential{}, err
	}
	return cred, nil
}

func (r *Credentials) GetCredential(ctx context.Context, account common.Address) (auth.Credential, error) {
	var (
		cred auth.Credential
		ok   bool
	)
	r.store.view(func(st *state) {
		cred, ok = st.credentials[account]
	})
	if !ok {
		return auth.Credential{}, auth.ErrCredentialNotFound
	}
	return cred, nil
}
