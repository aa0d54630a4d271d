package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/felo/mail-indexer/internal/entity"
)

// addressRepo resolves addresses inside an admission transaction.
type addressRepo struct {
	tx *sqlx.Tx
}

func (r *addressRepo) FindAddress(ctx context.Context, email string) (*entity.Address, error) {
	return findAddress(ctx, r.tx, email)
}

func (r *addressRepo) CreateAddress(ctx context.Context, email, name string) (int64, error) {
	return ensureAddress(ctx, r.tx, email, name)
}

func (r *addressRepo) FillDisplayName(ctx context.Context, id int64, name string) error {
	_, err := r.tx.ExecContext(ctx,
		"UPDATE addresses SET display_name = ? WHERE id = ? AND display_name = ''", name, id)
	return err
}

func findAddress(ctx context.Context, q sqlx.QueryerContext, email string) (*entity.Address, error) {
	a := &entity.Address{}
	err := sqlx.GetContext(ctx, q, a,
		"SELECT id, email_address, display_name FROM addresses WHERE email_address = ?", email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ensureAddress inserts the address unless the email is already known and
// returns its id either way. The unique email constraint settles races.
func ensureAddress(ctx context.Context, tx *sqlx.Tx, email, name string) (int64, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO addresses (email_address, display_name) VALUES (?, ?)
		ON CONFLICT(email_address) DO NOTHING
	`, email, name)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := tx.GetContext(ctx, &id, "SELECT id FROM addresses WHERE email_address = ?", email); err != nil {
		return 0, err
	}
	return id, nil
}

// GetAddress retrieves an address by email. It returns nil if unknown.
func (db *DB) GetAddress(ctx context.Context, email string) (*entity.Address, error) {
	a, err := findAddress(ctx, db, entity.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to get address: %w", err)
	}
	return a, nil
}

// CountAddresses returns the total number of addresses
func (db *DB) CountAddresses(ctx context.Context) (int, error) {
	var count int
	if err := db.GetContext(ctx, &count, "SELECT COUNT(*) FROM addresses"); err != nil {
		return 0, fmt.Errorf("failed to count addresses: %w", err)
	}
	return count, nil
}
