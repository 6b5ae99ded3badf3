package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domainuser "github.com/occasionhub/birthdaysvc/internal/domain/user"
)

// UsersRepo implements the Postgres side of the User Directory (spec.md
// §4.B), generalizing the teacher's UsersRepo (by_email lookup against an
// auth table) into the two read-only operations the core actually needs.
// The core never writes to this table; it is owned by external CRUD.
type UsersRepo struct {
	pool *pgxpool.Pool
}

func NewUsersRepo(pool *pgxpool.Pool) *UsersRepo {
	return &UsersRepo{pool: pool}
}

const userColumns = `id, email, first_name, last_name, timezone, birthday_date, anniversary_date, deleted_at`

func scanUser(row pgx.Row) (domainuser.User, error) {
	var u domainuser.User
	err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Timezone, &u.BirthdayDate, &u.AnniversaryDate, &u.DeletedAt)
	return u, err
}

// ByID implements by_id (spec.md §4.B). Soft-deleted users are treated as
// absent, matching "The core treats soft-deleted users as absent."
func (r *UsersRepo) ByID(ctx context.Context, id string) (domainuser.User, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+userColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL
	`, id)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domainuser.User{}, domainuser.ErrNotFound
		}
		return domainuser.User{}, err
	}
	return u, nil
}

// WithOccasionOn implements with_occasion_on (spec.md §4.B): users whose
// birthday/anniversary month+day matches, excluding soft-deleted rows. The
// month/day comparison is done in SQL via EXTRACT so it is index-friendly
// under an expression index.
func (r *UsersRepo) WithOccasionOn(ctx context.Context, occasion domainuser.OccasionType, month time.Month, day int) ([]domainuser.User, error) {
	column := "birthday_date"
	if occasion == domainuser.Anniversary {
		column = "anniversary_date"
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE deleted_at IS NULL
		  AND `+column+` IS NOT NULL
		  AND EXTRACT(MONTH FROM `+column+`) = $1
		  AND EXTRACT(DAY FROM `+column+`) = $2
	`, int(month), day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domainuser.User
	for rows.Next() {
		u, serr := scanUser(rows)
		if serr != nil {
			return nil, serr
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
