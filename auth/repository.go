package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"reviewescrow/db"
)

var (
	// ErrCredentialNotFound signals that no secret is registered for the account.
	ErrCredentialNotFound = errors.New("auth: credential not found")
	// ErrDuplicateAccount signals that the account already has a secret.
	ErrDuplicateAccount = errors.New("auth: account already registered")
)

// Repository handles data access for API credentials.
type Repository interface {
	CreateCredential(ctx context.Context, cred Credential) (Credential, error)
	GetCredential(ctx context.Context, account common.Address) (Credential, error)
}

// Querier is the subset of pgxpool.Pool the repository uses.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool Querier
}

// NewRepository creates a PostgreSQL-backed credential repository.
func NewRepository(pool Querier) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) CreateCredential(ctx context.Context, cred Credential) (Credential, error) {
	const insertSQL = `
		INSERT INTO api_credentials (account, secret_hash, label)
		VALUES ($1, $2, $3)
		RETURNING account, secret_hash, label, created_at
	`

	out, err := scanCredential(r.pool.QueryRow(ctx, insertSQL, cred.Account.Bytes(), cred.SecretHash, cred.Label))
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Credential{}, ErrDuplicateAccount
		}
		return Credential{}, fmt.Errorf("auth: create credential: %w", err)
	}
	return out, nil
}

func (r *PGRepository) GetCredential(ctx context.Context, account common.Address) (Credential, error) {
	const selectSQL = `
		SELECT account, secret_hash, label, created_at
		FROM api_credentials
		WHERE account = $1
	`

	out, err := scanCredential(r.pool.QueryRow(ctx, selectSQL, account.Bytes()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, ErrCredentialNotFound
		}
		return Credential{}, fmt.Errorf("auth: get credential: %w", err)
	}
	return out, nil
}

func scanCredential(row pgx.Row) (Credential, error) {
	var (
		cred    Credential
		account []byte
	)
	if err := row.Scan(&account, &cred.SecretHash, &cred.Label, &cred.CreatedAt); err != nil {
		return Credential{}, err
	}
	cred.Account = db.Address(account)
	cred.CreatedAt = cred.CreatedAt.UTC()
	return cred, nil
}
