// Package services holds the business operations behind the HTTP handlers.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/clusterapi/internal/common"
	"github.com/dmitrijs2005/clusterapi/internal/logging"
	"github.com/dmitrijs2005/clusterapi/internal/server/auth"
	"github.com/dmitrijs2005/clusterapi/internal/server/models"
	"github.com/dmitrijs2005/clusterapi/internal/server/repositories/users"
	"github.com/google/uuid"
)

// RegisterInput is a new account request. Role defaults to user.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     models.Role
}

// UpdateInput is a partial update; nil fields keep their stored value.
type UpdateInput struct {
	Name     *string
	Email    *string
	Password *string
	Role     *models.Role
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	User  *models.User
	Token string
}

type UserService struct {
	repo       users.Repository
	tokens     *auth.TokenService
	bcryptCost int
	logger     logging.Logger

	now   func() time.Time
	newID func() string
}

func NewUserService(repo users.Repository, tokens *auth.TokenService, bcryptCost int, logger logging.Logger) *UserService {
	return &UserService{
		repo:       repo,
		tokens:     tokens,
		bcryptCost: bcryptCost,
		logger:     logger.With("module", "users"),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.NewString() },
	}
}

// NormalizeEmail is the canonical form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account and signs a token for it. Only an admin
// actor may create another admin.
func (s *UserService) Register(ctx context.Context, in RegisterInput, actor *models.Credential) (*AuthResult, error) {
	role := in.Role
	if role == "" {
		role = models.RoleUser
	}
	if !role.Valid() {
		return nil, common.NewValidationError(common.FieldError{Field: "role", Message: "must be one of user admin"})
	}
	if role == models.RoleAdmin && !actor.IsAdmin() {
		return nil, common.ErrorForbidden
	}

	name := strings.TrimSpace(in.Name)
	if err := checkProfile(&name, &in.Password); err != nil {
		return nil, err
	}

	email := NormalizeEmail(in.Email)
	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, common.ErrorAlreadyExists
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	user := &models.User{
		ID:           s.newID(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Save(ctx, user); err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID, "role", string(user.Role))
	return &AuthResult{User: user, Token: token}, nil
}

// Login checks the password. Unknown email and wrong password both yield
// common.ErrorUnauthorized.
func (s *UserService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.repo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, err
	}

	if !auth.CheckPassword(user.PasswordHash, password) {
		return nil, common.ErrorUnauthorized
	}

	token, err := s.tokens.Issue(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

// Refresh re-issues a still valid token without a password check.
func (s *UserService) Refresh(_ context.Context, token string) (string, error) {
	return s.tokens.Refresh(token)
}

func (s *UserService) List(ctx context.Context) ([]*models.User, error) {
	return s.repo.List(ctx)
}

func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	return s.repo.FindByID(ctx, id)
}

// Update applies the non-nil fields of in. Changing a role needs an admin
// actor.
func (s *UserService) Update(ctx context.Context, id string, in UpdateInput, actor *models.Credential) (*models.User, error) {
	if in.Role != nil && !actor.IsAdmin() {
		return nil, common.ErrorForbidden
	}

	var name *string
	if in.Name != nil {
		trimmed := strings.TrimSpace(*in.Name)
		name = &trimmed
	}
	if err := checkProfile(name, in.Password); err != nil {
		return nil, err
	}

	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if name != nil {
		user.Name = *name
	}
	if in.Email != nil {
		user.Email = NormalizeEmail(*in.Email)
	}
	if in.Role != nil {
		if !in.Role.Valid() {
			return nil, common.NewValidationError(common.FieldError{Field: "role", Message: "must be one of user admin"})
		}
		user.Role = *in.Role
	}
	if in.Password != nil {
		hash, err := auth.HashPassword(*in.Password, s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = hash
	}
	user.UpdatedAt = s.now()

	if err := s.repo.Save(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// checkProfile rejects values the store would accept but a user record must
// not hold. nil fields are not being set.
func checkProfile(name, password *string) error {
	var fields []common.FieldError
	if name != nil && *name == "" {
		fields = append(fields, common.FieldError{Field: "name", Message: "must not be blank"})
	}
	if password != nil && len(*password) > auth.MaxPasswordBytes {
		fields = append(fields, common.FieldError{Field: "password", Message: fmt.Sprintf("must be at most %d bytes", auth.MaxPasswordBytes)})
	}
	if len(fields) > 0 {
		return common.NewValidationError(fields...)
	}
	return nil
}

func (s *UserService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info(ctx, "user deleted", "user_id", id)
	return nil
}

// EnsureAdmin creates the configured admin account if no user owns email.
// An existing account is left untouched.
func (s *UserService) EnsureAdmin(ctx context.Context, email, password string) error {
	email = NormalizeEmail(email)
	_, err := s.repo.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, common.ErrorNotFound):
		return err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	err = s.repo.Save(ctx, &models.User{
		ID:           s.newID(),
		Name:         "admin",
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	// another worker seeded it first
	if errors.Is(err, common.ErrorAlreadyExists) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "admin account created", "email", email)
	return nil
}
