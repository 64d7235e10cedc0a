package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"proposal/internal/domain"
	"proposal/internal/repository"
)

const createAccountsTable = `
CREATE TABLE IF NOT EXISTS accounts (
	id BIGSERIAL PRIMARY KEY,
	identifier TEXT NOT NULL UNIQUE,
	secret_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

var _ repository.AccountRepository = (*AccountRepository)(nil)

func (r *AccountRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createAccountsTable); err != nil {
		return fmt.Errorf("create accounts table: %w", err)
	}
	return nil
}

func (r *AccountRepository) Create(ctx context.Context, identifier, secretHash string) (*domain.Account, error) {
	query :=
		`INSERT INTO accounts (identifier, secret_hash)
		 VALUES ($1, $2)
		 RETURNING id, created_at`

	account := &domain.Account{Identifier: identifier, SecretHash: secretHash}
	err := r.db.QueryRowContext(ctx, query, identifier, secretHash).Scan(&account.ID, &account.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, repository.ErrAccountExists
		}
		return nil, fmt.Errorf("insert account: %w: %w", repository.ErrUnavailable, err)
	}

	return account, nil
}

func (r *AccountRepository) FindByIdentifier(ctx context.Context, identifier string) (*domain.Account, error) {
	query :=
		`SELECT id, identifier, secret_hash, created_at FROM accounts
		 WHERE identifier = $1`

	account := &domain.Account{}
	err := r.db.QueryRowContext(ctx, query, identifier).
		Scan(&account.ID, &account.Identifier, &account.SecretHash, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrAccountNotFound
		}
		return nil, fmt.Errorf("find account: %w: %w", repository.ErrUnavailable, err)
	}

	return account, nil
}

func (r *AccountRepository) Close() error {
	return r.db.Close()
}
