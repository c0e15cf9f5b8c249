package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/clusterapi/internal/common"
	"github.com/dmitrijs2005/clusterapi/internal/logging"
	"github.com/dmitrijs2005/clusterapi/internal/server/auth"
	"github.com/dmitrijs2005/clusterapi/internal/server/models"
	"github.com/dmitrijs2005/clusterapi/internal/server/repositories/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) (*UserService, *users.MemoryRepository, *auth.TokenService) {
	t.Helper()
	repo := users.NewMemoryRepository()
	tokens := auth.NewTokenService("test-secret", time.Hour)
	svc := NewUserService(repo, tokens, bcrypt.MinCost, logging.NewSlogJSON(io.Discard, "error"))
	return svc, repo, tokens
}

func ptr[T any](v T) *T { return &v }

func adminCred() *models.Credential {
	return &models.Credential{SubjectID: "admin-1", Role: models.RoleAdmin}
}

func TestRegister_Success(t *testing.T) {
	svc, repo, tokens := newTestService(t)
	ctx := context.Background()

	res, err := svc.Register(ctx, RegisterInput{Name: " Alice ", Email: "Alice@Example.COM", Password: "s3cret-pass"}, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, res.User.ID)
	assert.Equal(t, "Alice", res.User.Name)
	assert.Equal(t, "alice@example.com", res.User.Email)
	assert.Equal(t, models.RoleUser, res.User.Role)
	assert.NotEqual(t, "s3cret-pass", res.User.PasswordHash)

	cred, err := tokens.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, cred.SubjectID)
	assert.Equal(t, "alice@example.com", cred.Email)
	assert.Equal(t, models.RoleUser, cred.Role)

	stored, err := repo.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, stored.ID)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "password1"}, nil)
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterInput{Name: "B", Email: "A@example.com", Password: "password2"}, nil)
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRegister_AdminRoleNeedsAdminActor(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Name: "M", Email: "m@example.com", Password: "password1", Role: models.RoleAdmin}, nil)
	assert.ErrorIs(t, err, common.ErrorForbidden)

	_, err = svc.Register(ctx, RegisterInput{Name: "M", Email: "m@example.com", Password: "password1", Role: models.RoleAdmin},
		&models.Credential{SubjectID: "u", Role: models.RoleUser})
	assert.ErrorIs(t, err, common.ErrorForbidden)

	res, err := svc.Register(ctx, RegisterInput{Name: "M", Email: "m@example.com", Password: "password1", Role: models.RoleAdmin}, adminCred())
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, res.User.Role)
}

func TestRegister_InvalidRole(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Register(context.Background(), RegisterInput{Name: "M", Email: "m@example.com", Password: "password1", Role: "root"}, nil)
	var vErr *common.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "role", vErr.Fields[0].Field)
}

func validationFields(t *testing.T, err error) []string {
	t.Helper()
	var vErr *common.ValidationError
	require.True(t, errors.As(err, &vErr), "expected validation error, got %v", err)
	names := make([]string, 0, len(vErr.Fields))
	for _, f := range vErr.Fields {
		names = append(names, f.Field)
	}
	return names
}

func TestRegister_RejectsBlankNameAndLongPasswordWithoutWriting(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterInput{Name: "   ", Email: "a@example.com", Password: strings.Repeat("é", 40)}, nil)
	assert.ElementsMatch(t, []string{"name", "password"}, validationFields(t, err))

	_, err = repo.FindByEmail(ctx, "a@example.com")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: strings.Repeat("x", auth.MaxPasswordBytes)}, nil)
	require.NoError(t, err)
}

func TestUpdate_RejectsBlankNameAndLongPassword(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "password1"}, nil)
	require.NoError(t, err)

	_, err = svc.Update(ctx, reg.User.ID, UpdateInput{Name: ptr(" \t ")}, nil)
	assert.Equal(t, []string{"name"}, validationFields(t, err))

	_, err = svc.Update(ctx, reg.User.ID, UpdateInput{Password: ptr(strings.Repeat("é", 37))}, nil)
	assert.Equal(t, []string{"password"}, validationFields(t, err))

	stored, err := repo.FindByID(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", stored.Name)
	assert.Equal(t, reg.User.PasswordHash, stored.PasswordHash)
}

func TestLogin(t *testing.T) {
	svc, _, tokens := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "password1"}, nil)
	require.NoError(t, err)

	res, err := svc.Login(ctx, " A@EXAMPLE.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, res.User.ID)
	cred, err := tokens.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, cred.SubjectID)

	_, err = svc.Login(ctx, "a@example.com", "wrong-password")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	_, err = svc.Login(ctx, "nobody@example.com", "password1")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestRefresh(t *testing.T) {
	svc, _, tokens := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "password1"}, nil)
	require.NoError(t, err)

	fresh, err := svc.Refresh(ctx, reg.Token)
	require.NoError(t, err)
	cred, err := tokens.Verify(fresh)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, cred.SubjectID)

	_, err = svc.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestUpdate_PartialKeepsOtherFields(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "password1"}, nil)
	require.NoError(t, err)
	before := *reg.User

	svc.now = func() time.Time { return before.UpdatedAt.Add(time.Minute) }
	got, err := svc.Update(ctx, reg.User.ID, UpdateInput{Name: ptr("Alice")}, nil)
	require.NoError(t, err)

	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, before.Email, got.Email)
	assert.Equal(t, before.PasswordHash, got.PasswordHash)
	assert.Equal(t, before.Role, got.Role)
	assert.True(t, got.CreatedAt.Equal(before.CreatedAt))
	assert.True(t, got.UpdatedAt.After(before.UpdatedAt))
}

func TestUpdate_PasswordAndEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "password1"}, nil)
	require.NoError(t, err)

	_, err = svc.Update(ctx, reg.User.ID, UpdateInput{Email: ptr("New@Example.com"), Password: ptr("password2")}, nil)
	require.NoError(t, err)

	_, err = svc.Login(ctx, "new@example.com", "password2")
	require.NoError(t, err)
	_, err = svc.Login(ctx, "a@example.com", "password1")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestUpdate_EmailTaken(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "password1"}, nil)
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterInput{Name: "B", Email: "b@example.com", Password: "password1"}, nil)
	require.NoError(t, err)

	_, err = svc.Update(ctx, a.User.ID, UpdateInput{Email: ptr("b@example.com")}, nil)
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)
}

func TestUpdate_RoleChangeNeedsAdmin(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "password1"}, nil)
	require.NoError(t, err)
	self := &models.Credential{SubjectID: reg.User.ID, Role: models.RoleUser}

	_, err = svc.Update(ctx, reg.User.ID, UpdateInput{Role: ptr(models.RoleAdmin)}, self)
	assert.ErrorIs(t, err, common.ErrorForbidden)

	stored, err := repo.FindByID(ctx, reg.User.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, stored.Role)

	got, err := svc.Update(ctx, reg.User.ID, UpdateInput{Role: ptr(models.RoleAdmin)}, adminCred())
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, got.Role)
}

func TestUpdate_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Update(context.Background(), "missing", UpdateInput{Name: ptr("x")}, adminCred())
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGetListDelete(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "password1"}, nil)
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterInput{Name: "B", Email: "b@example.com", Password: "password1"}, nil)
	require.NoError(t, err)

	got, err := svc.Get(ctx, a.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, svc.Delete(ctx, a.User.ID))
	_, err = svc.Get(ctx, a.User.ID)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, a.User.ID), common.ErrorNotFound)
}

func TestEnsureAdmin(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureAdmin(ctx, "Root@Example.com", "admin-pass"))
	require.NoError(t, svc.EnsureAdmin(ctx, "root@example.com", "other-pass"))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.RoleAdmin, list[0].Role)

	res, err := svc.Login(ctx, "root@example.com", "admin-pass")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, res.User.Role)
}

type failingRepo struct {
	users.Repository
	err error
}

func (f failingRepo) FindByEmail(context.Context, string) (*models.User, error) { return nil, f.err }

func TestLogin_StoreErrorIsNotUnauthorized(t *testing.T) {
	boom := errors.New("db error: connection reset")
	svc := NewUserService(failingRepo{err: boom}, auth.NewTokenService("k", time.Hour), bcrypt.MinCost, logging.NewSlogJSON(io.Discard, "error"))

	_, err := svc.Login(context.Background(), "a@example.com", "pw")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, common.ErrorUnauthorized)
}
