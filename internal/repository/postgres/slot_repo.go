package postgres

import (
	"context"
	"errors"

	"github.com/and161185/resumatch/internal/errs"
	"github.com/jackc/pgx/v5"
)

// SlotRepo implements SlotRepository using PostgreSQL. Rows are namespaced by
// profile so several client installations can share one database.
type SlotRepo struct {
	db      *DB
	profile string
}

// NewSlotRepo constructs a slot repository for the given profile.
func NewSlotRepo(db *DB, profile string) *SlotRepo {
	if profile == "" {
		profile = "default"
	}
	return &SlotRepo{db: db, profile: profile}
}

// Get selects a slot value.
func (r *SlotRepo) Get(ctx context.Context, slot string) (string, error) {
	const q = `SELECT value FROM session_slots WHERE profile=$1 AND slot=$2`
	var v string
	if err := r.db.Pool.QueryRow(ctx, q, r.profile, slot).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", errs.ErrNotFound
		}
		return "", err
	}
	return v, nil
}

// Put upserts a slot value.
func (r *SlotRepo) Put(ctx context.Context, slot, value string) error {
	const q = `
INSERT INTO session_slots (profile, slot, value, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (profile, slot) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	_, err := r.db.Pool.Exec(ctx, q, r.profile, slot, value)
	return err
}

// Delete removes a slot row; a missing row is fine.
func (r *SlotRepo) Delete(ctx context.Context, slot string) error {
	const q = `DELETE FROM session_slots WHERE profile=$1 AND slot=$2`
	_, err := r.db.Pool.Exec(ctx, q, r.profile, slot)
	return err
}
