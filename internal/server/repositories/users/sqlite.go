package users

import (
	"database/sql"
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteColumns = `id, name, email, password_hash, role, created_at, updated_at`

// SQLiteRepository stores users in a SQLite file via the pure-Go modernc driver.
type SQLiteRepository struct {
	sqlRepository
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{sqlRepository{db: db, d: dialect{
		findByEmail: `SELECT ` + sqliteColumns + ` FROM users WHERE email = ?`,
		findByID:    `SELECT ` + sqliteColumns + ` FROM users WHERE id = ?`,
		emailOwner:  `SELECT id FROM users WHERE email = ? AND id <> ?`,
		upsert: `INSERT INTO users (` + sqliteColumns + `)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name,
		   email = excluded.email,
		   password_hash = excluded.password_hash,
		   role = excluded.role,
		   updated_at = excluded.updated_at`,
		deleteByID:   `DELETE FROM users WHERE id = ?`,
		list:         `SELECT ` + sqliteColumns + ` FROM users ORDER BY created_at, id`,
		isUniqueViol: isSQLiteUniqueViolation,
	}}}
}

func isSQLiteUniqueViolation(err error) bool {
	var sqErr *sqlite.Error
	if !errors.As(err, &sqErr) {
		return false
	}
	code := sqErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}
