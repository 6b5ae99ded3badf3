// Package testhooks provides a seeding helper for exercising the dispatch
// pipeline against a real Postgres instance in integration tests, adapting
// the teacher's db.EnsureAdminUser idempotent-upsert shape to the user
// directory's columns. It is never imported by cmd/scheduler or cmd/worker
// (SPEC_FULL.md §9: "not a production endpoint").
package testhooks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SeedUser is the shape a test supplies; BirthdayDate/AnniversaryDate are
// YYYY-MM-DD or empty.
type SeedUser struct {
	Email           string
	FirstName       string
	LastName        string
	Timezone        string
	BirthdayDate    string
	AnniversaryDate string
}

// EnsureUser inserts u if no row with its email exists yet, returning the
// row's ID either way — idempotent, so a test fixture can call this freely
// across repeated runs against the same database.
func EnsureUser(ctx context.Context, pool *pgxpool.Pool, u SeedUser) (string, error) {
	var id string
	err := pool.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, u.Email).Scan(&id)
	if err == nil {
		return id, nil
	}

	id = uuid.NewString()
	now := time.Now().UTC()

	_, err = pool.Exec(ctx, `
		INSERT INTO users (id, email, first_name, last_name, timezone, birthday_date, anniversary_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, '')::date, NULLIF($7, '')::date, $8, $8)
		ON CONFLICT (email) DO NOTHING
	`, id, u.Email, u.FirstName, u.LastName, u.Timezone, u.BirthdayDate, u.AnniversaryDate, now)
	if err != nil {
		return "", err
	}
	return id, nil
}

// Truncate clears both tables for a clean slate between test runs.
func Truncate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `TRUNCATE TABLE message_logs, users CASCADE`)
	return err
}
