package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/clusterapi/internal/common"
	"github.com/dmitrijs2005/clusterapi/internal/dbx"
	"github.com/dmitrijs2005/clusterapi/internal/server/models"
)

// dialect carries the per-driver text of every statement plus the driver's
// unique-violation detector.
type dialect struct {
	findByEmail  string
	findByID     string
	emailOwner   string
	upsert       string
	deleteByID   string
	list         string
	isUniqueViol func(error) bool
}

// sqlRepository implements Repository on database/sql for both relational
// backends.
type sqlRepository struct {
	db *sql.DB
	d  dialect
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	var role string
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func (r *sqlRepository) findOne(ctx context.Context, query string, arg string) (*models.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

func (r *sqlRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, r.d.findByEmail, email)
}

func (r *sqlRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, r.d.findByID, id)
}

// Save checks the email owner and upserts in one transaction. The unique
// index on email stays the final arbiter when two writers race.
func (r *sqlRepository) Save(ctx context.Context, user *models.User) error {
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var owner string
		err := tx.QueryRowContext(ctx, r.d.emailOwner, user.Email, user.ID).Scan(&owner)
		switch {
		case err == nil:
			return common.ErrorAlreadyExists
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}

		_, err = tx.ExecContext(ctx, r.d.upsert,
			user.ID, user.Name, user.Email, user.PasswordHash, string(user.Role),
			user.CreatedAt.UTC(), user.UpdatedAt.UTC())
		return err
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrorAlreadyExists), r.d.isUniqueViol(err):
		return common.ErrorAlreadyExists
	default:
		return fmt.Errorf("db error: %w", err)
	}
}

func (r *sqlRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.d.deleteByID, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *sqlRepository) List(ctx context.Context) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, r.d.list)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	list := make([]*models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		list = append(list, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return list, nil
}

func (r *sqlRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *sqlRepository) Close() error {
	return r.db.Close()
}
