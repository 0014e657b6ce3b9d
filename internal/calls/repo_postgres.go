package calls

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"time"

	"telecom-signaling/pkg/utils"
)

//go:embed schema.sql
var Schema string

// Partial unique index names; see schema.sql.
const (
	liveCallerIndex    = "calls_live_caller_idx"
	liveCallTakerIndex = "calls_live_call_taker_idx"
)

const callColumns = `id, caller_id, call_taker_id, kind, state, created_at, accepted_at, ended_at,
       duration_seconds, COALESCE(ended_by, ''), COALESCE(end_reason, ''), updated_at`

// PostgresRepo stores calls in Postgres.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Create(ctx context.Context, c Call) (Call, error) {
	if c.ID == "" || c.CallerID == "" || c.CallTakerID == "" || !c.Kind.Valid() {
		return Call{}, ErrInvalidArgument
	}
	c.State = StateRinging
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt

	const q = `
INSERT INTO calls (id, caller_id, call_taker_id, kind, state, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	_, err := r.db.ExecContext(ctx, q, c.ID, c.CallerID, c.CallTakerID, c.Kind, c.State, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if constraint, ok := utils.UniqueViolation(err); ok {
			switch constraint {
			case liveCallTakerIndex:
				return Call{}, ErrCallTakerBusy
			default:
				// liveCallerIndex, or a primary key clash on a reused id.
				return Call{}, ErrCallerBusy
			}
		}
		return Call{}, err
	}
	return c, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	return scanCall(r.db.QueryRowContext(ctx, q, id))
}

func (r *PostgresRepo) FindLive(ctx context.Context, side Side, participantID string) (Call, error) {
	var q string
	switch side {
	case SideCaller:
		q = `SELECT ` + callColumns + ` FROM calls WHERE caller_id = $1 AND state IN ('RINGING', 'ACCEPTED') LIMIT 1`
	case SideCallTaker:
		q = `SELECT ` + callColumns + ` FROM calls WHERE call_taker_id = $1 AND state IN ('RINGING', 'ACCEPTED') LIMIT 1`
	default:
		return Call{}, ErrInvalidArgument
	}
	return scanCall(r.db.QueryRowContext(ctx, q, participantID))
}

func (r *PostgresRepo) Transition(ctx context.Context, t Transition) (Call, error) {
	if err := t.Validate(); err != nil {
		return Call{}, err
	}
	at := t.At.UTC()

	if t.To == StateAccepted {
		q := `
UPDATE calls
SET state = $2, accepted_at = $3, updated_at = $3
WHERE id = $1 AND state = $4
  AND ($5::text = '' OR caller_id = $5)
  AND ($6::text = '' OR call_taker_id = $6)
RETURNING ` + callColumns
		return scanCall(r.db.QueryRowContext(ctx, q, t.CallID, t.To, at, t.From, t.CallerID, t.CallTakerID))
	}

	q := `
UPDATE calls
SET state = $2, ended_at = $3, updated_at = $3,
    ended_by = NULLIF($7::text, ''), end_reason = NULLIF($8::text, ''),
    duration_seconds = CASE
      WHEN $2::text = 'COMPLETED' AND accepted_at IS NOT NULL
        THEN GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($3::timestamptz - accepted_at))))::int
      ELSE 0
    END
WHERE id = $1 AND state = $4
  AND ($5::text = '' OR caller_id = $5)
  AND ($6::text = '' OR call_taker_id = $6)
RETURNING ` + callColumns
	return scanCall(r.db.QueryRowContext(ctx, q, t.CallID, t.To, at, t.From, t.CallerID, t.CallTakerID, t.EndedBy, t.EndReason))
}

func (r *PostgresRepo) ListByState(ctx context.Context, state State, createdBefore time.Time, limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 500
	}
	q := `SELECT ` + callColumns + ` FROM calls WHERE state = $1 AND created_at < $2 ORDER BY created_at LIMIT $3`
	return r.list(ctx, q, state, createdBefore.UTC(), limit)
}

func (r *PostgresRepo) ListCreated(ctx context.Context, from, to time.Time) ([]Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE created_at >= $1 AND created_at < $2 ORDER BY created_at`
	return r.list(ctx, q, from.UTC(), to.UTC())
}

func (r *PostgresRepo) list(ctx context.Context, q string, args ...any) ([]Call, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var (
		c          Call
		acceptedAt sql.NullTime
		endedAt    sql.NullTime
	)
	if err := row.Scan(
		&c.ID,
		&c.CallerID,
		&c.CallTakerID,
		&c.Kind,
		&c.State,
		&c.CreatedAt,
		&acceptedAt,
		&endedAt,
		&c.DurationSeconds,
		&c.EndedBy,
		&c.EndReason,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		c.AcceptedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	return c, nil
}
