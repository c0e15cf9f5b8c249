package users

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

const pgColumns = `id, name, email, password_hash, role, created_at, updated_at`

// PostgresRepository stores users in PostgreSQL through the pgx stdlib driver.
type PostgresRepository struct {
	sqlRepository
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{sqlRepository{db: db, d: dialect{
		findByEmail: `SELECT ` + pgColumns + ` FROM users WHERE email = $1`,
		findByID:    `SELECT ` + pgColumns + ` FROM users WHERE id = $1`,
		emailOwner:  `SELECT id FROM users WHERE email = $1 AND id <> $2`,
		upsert: `INSERT INTO users (` + pgColumns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   email = EXCLUDED.email,
		   password_hash = EXCLUDED.password_hash,
		   role = EXCLUDED.role,
		   updated_at = EXCLUDED.updated_at`,
		deleteByID:   `DELETE FROM users WHERE id = $1`,
		list:         `SELECT ` + pgColumns + ` FROM users ORDER BY created_at, id`,
		isUniqueViol: isPgUniqueViolation,
	}}}
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
