// Package users stores account records behind a single capability interface
// with one implementation per backing store: in-memory, PostgreSQL, SQLite,
// Redis and S3-compatible object storage.
package users

import (
	"context"
	"sort"

	"github.com/dmitrijs2005/clusterapi/internal/server/models"
)

// Repository is everything the business logic needs from a user store.
//
// FindByID and FindByEmail return common.ErrorNotFound when absent.
// Save inserts or replaces the user with user.ID and returns
// common.ErrorAlreadyExists when another user already owns user.Email.
// Delete returns common.ErrorNotFound when nothing was removed.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Save(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.User, error)
}

// Store is a connected backend: a Repository that can be pinged and closed.
type Store interface {
	Repository
	Ping(ctx context.Context) error
	Close() error
}

// sortUsers orders users by creation time, then id, so every backend lists
// in the same order.
func sortUsers(list []*models.User) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
