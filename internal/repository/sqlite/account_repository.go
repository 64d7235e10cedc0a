package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"proposal/internal/domain"
	"proposal/internal/repository"
)

const createAccountsTable = `
CREATE TABLE IF NOT EXISTS accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	identifier TEXT NOT NULL UNIQUE,
	secret_hash TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
`

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
	account := &domain.Account{
		Identifier: identifier,
		SecretHash: secretHash,
		CreatedAt:  time.Now().UTC(),
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO accounts (identifier, secret_hash, created_at)
VALUES (?, ?, ?)`,
		account.Identifier,
		account.SecretHash,
		account.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, repository.ErrAccountExists
		}
		return nil, fmt.Errorf("insert account: %w: %w", repository.ErrUnavailable, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("account last insert id: %w: %w", repository.ErrUnavailable, err)
	}
	account.ID = id
	return account, nil
}

func (r *AccountRepository) FindByIdentifier(ctx context.Context, identifier string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, identifier, secret_hash, created_at
FROM accounts
WHERE identifier = ?`,
		identifier,
	)

	var account domain.Account
	if err := row.Scan(
		&account.ID,
		&account.Identifier,
		&account.SecretHash,
		&account.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w: %w", repository.ErrUnavailable, err)
	}
	return &account, nil
}

func (r *AccountRepository) Close() error {
	return r.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
