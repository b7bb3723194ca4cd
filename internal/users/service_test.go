package users_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/avocado-data/avocado/internal/shared"
	"github.com/avocado-data/avocado/internal/store/memory"
	"github.com/avocado-data/avocado/internal/users"
)

func newService() *users.Service {
	return users.NewService(memory.NewUsers()).WithHashCost(bcrypt.MinCost)
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	user, err := svc.CreateUser(ctx, users.CreateInput{Username: " user1 ", Password: "secret", Email: "user1@example.com"})
	require.NoError(t, err)
	require.Equal(t, "user1", user.Username)
	require.True(t, user.IsActive)
	require.False(t, user.IsSuperuser)
	require.NotEqual(t, "secret", user.PasswordHash)

	got, err := svc.Authenticate(ctx, "user1", "secret")
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)

	_, err = svc.Authenticate(ctx, "user1", "wrong")
	require.ErrorIs(t, err, users.ErrInvalidCredentials)
	require.ErrorIs(t, err, shared.ErrUnauthorized)
	_, err = svc.Authenticate(ctx, "nobody", "secret")
	require.ErrorIs(t, err, users.ErrInvalidCredentials)
}

func TestCreateUserValidation(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	_, err := svc.CreateUser(ctx, users.CreateInput{Username: "admin", Password: "pw", Superuser: true})
	require.NoError(t, err)
	_, err = svc.CreateUser(ctx, users.CreateInput{Username: "admin", Password: "pw"})
	require.ErrorIs(t, err, users.ErrDuplicate)

	cases := []users.CreateInput{
		{Username: "", Password: "pw"},
		{Username: "two words", Password: "pw"},
		{Username: "x", Password: ""},
		{Username: "y", Password: "pw", Email: "not-an-email"},
	}
	for _, in := range cases {
		_, err := svc.CreateUser(ctx, in)
		require.ErrorIs(t, err, shared.ErrValidation, "%+v", in)
	}

	all, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.True(t, all[0].IsSuperUser())
}

type failingRepo struct {
	users.RepositoryPort
	err error
}

func (r failingRepo) GetUserByUsername(context.Context, string) (users.User, error) {
	return users.User{}, r.err
}

func TestAuthenticateSurfacesRepositoryErrors(t *testing.T) {
	ctx := context.Background()
	down := errors.New("connection refused")
	svc := users.NewService(failingRepo{err: down})

	_, err := svc.Authenticate(ctx, "user1", "secret")
	require.ErrorIs(t, err, down)
	require.NotErrorIs(t, err, users.ErrInvalidCredentials)
	require.NotErrorIs(t, err, shared.ErrUnauthorized)

	svc = users.NewService(failingRepo{err: users.ErrNotFound})
	_, err = svc.Authenticate(ctx, "user1", "secret")
	require.ErrorIs(t, err, users.ErrInvalidCredentials)
}
