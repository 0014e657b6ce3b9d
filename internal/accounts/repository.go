package accounts

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"time"
)

// Schema creates the accounts table when the account service has not done so
// (local and test environments).
//
//go:embed schema.sql
var Schema string

// PostgresStore reads accounts from the shared accounts table.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Account, error) {
	const q = `
SELECT id, name, profile, role, account_status, about,
       COALESCE(approval_status, ''), COALESCE(presence, ''), created_at, updated_at
FROM accounts
WHERE id = $1
`
	var (
		a        Account
		about    string
		approval string
		presence string
	)
	if err := s.db.QueryRowContext(ctx, q, id).Scan(
		&a.ID,
		&a.Name,
		&a.Profile,
		&a.Role,
		&a.Status,
		&about,
		&approval,
		&presence,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	if a.Role == RoleCallTaker {
		p := Presence(presence)
		if !p.Valid() {
			p = PresenceOffline
		}
		a.callTaker = &CallTakerProfile{About: about, Approval: Approval(approval), Presence: p}
	}
	return a, nil
}

func (s *PostgresStore) SetPresence(ctx context.Context, id string, p Presence) error {
	if !p.Valid() {
		return ErrInvalidPresence
	}
	const q = `
UPDATE accounts
SET presence = $2, updated_at = $3
WHERE id = $1 AND role = 'TELECALLER'
`
	res, err := s.db.ExecContext(ctx, q, id, string(p), s.clock().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ResetPresence(ctx context.Context) (int64, error) {
	const q = `
UPDATE accounts
SET presence = 'OFFLINE', updated_at = $1
WHERE role = 'TELECALLER' AND presence IS DISTINCT FROM 'OFFLINE'
`
	res, err := s.db.ExecContext(ctx, q, s.clock().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
