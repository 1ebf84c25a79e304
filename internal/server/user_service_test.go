package server

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/support-triage/internal/config"
	"github.com/jonathan/support-triage/internal/db"
	"github.com/jonathan/support-triage/internal/types"
)

// fakeDB is an in-memory DBClient for user service tests
type fakeDB struct {
	usersByEmail map[string]*db.User
	usersByID    map[uuid.UUID]*db.User
	createErr    error
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		usersByEmail: make(map[string]*db.User),
		usersByID:    make(map[uuid.UUID]*db.User),
	}
}

func (f *fakeDB) CreateUser(_ context.Context, name, email, passwordHash string) (*db.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	user := &db.User{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	f.usersByEmail[email] = user
	f.usersByID[user.ID] = user
	return user, nil
}

func (f *fakeDB) GetUserByEmail(_ context.Context, email string) (*db.User, error) {
	return f.usersByEmail[email], nil
}

func (f *fakeDB) GetUserByID(_ context.Context, id uuid.UUID) (*db.User, error) {
	return f.usersByID[id], nil
}

func (f *fakeDB) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	user, ok := f.usersByID[id]
	if !ok {
		return errors.New("no such user")
	}
	user.PasswordHash = passwordHash
	return nil
}

func newTestUserService(t *testing.T) (*UserService, *fakeDB) {
	t.Helper()
	fdb := newFakeDB()
	svc := NewUserService(fdb, &config.PasswordConfig{BcryptCost: 10})
	return svc, fdb
}

func TestRegister_CreatesUser(t *testing.T) {
	svc, fdb := newTestUserService(t)

	user, err := svc.Register(context.Background(), &types.CreateUserRequest{
		Name:     "Dana",
		Email:    "dana@example.com",
		Password: "s3cret-pass",
	})
	require.NoError(t, err)
	assert.Equal(t, "Dana", user.Name)
	assert.Equal(t, "dana@example.com", user.Email)

	// Hash is stored, never the plaintext
	stored := fdb.usersByEmail["dana@example.com"]
	require.NotNil(t, stored)
	assert.NotEqual(t, "s3cret-pass", stored.PasswordHash)
	assert.NotEmpty(t, stored.PasswordHash)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, _ := newTestUserService(t)
	req := &types.CreateUserRequest{Name: "Dana", Email: "dana@example.com", Password: "s3cret-pass"}

	_, err := svc.Register(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), req)
	require.Error(t, err)
	var dup *ErrEmailAlreadyExists
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
}

func TestLogin_Succeeds(t *testing.T) {
	svc, _ := newTestUserService(t)
	_, err := svc.Register(context.Background(), &types.CreateUserRequest{
		Name: "Dana", Email: "dana@example.com", Password: "s3cret-pass",
	})
	require.NoError(t, err)

	user, err := svc.Login(context.Background(), &types.LoginRequest{
		Email:    "dana@example.com",
		Password: "s3cret-pass",
	})
	require.NoError(t, err)
	assert.Equal(t, "dana@example.com", user.Email)
}

func TestLogin_WrongPasswordAndUnknownUserLookAlike(t *testing.T) {
	svc, _ := newTestUserService(t)
	_, err := svc.Register(context.Background(), &types.CreateUserRequest{
		Name: "Dana", Email: "dana@example.com", Password: "s3cret-pass",
	})
	require.NoError(t, err)

	_, wrongPw := svc.Login(context.Background(), &types.LoginRequest{
		Email: "dana@example.com", Password: "wrong",
	})
	_, unknown := svc.Login(context.Background(), &types.LoginRequest{
		Email: "nobody@example.com", Password: "wrong",
	})

	require.Error(t, wrongPw)
	require.Error(t, unknown)
	assert.Equal(t, wrongPw.Error(), unknown.Error())
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(wrongPw))
}

func TestUpdatePassword(t *testing.T) {
	svc, fdb := newTestUserService(t)
	user, err := svc.Register(context.Background(), &types.CreateUserRequest{
		Name: "Dana", Email: "dana@example.com", Password: "s3cret-pass",
	})
	require.NoError(t, err)

	err = svc.UpdatePassword(context.Background(), user.ID, "s3cret-pass", "new-password-1")
	require.NoError(t, err)

	// Old password no longer works, new one does
	_, err = svc.Login(context.Background(), &types.LoginRequest{
		Email: "dana@example.com", Password: "s3cret-pass",
	})
	require.Error(t, err)
	_, err = svc.Login(context.Background(), &types.LoginRequest{
		Email: "dana@example.com", Password: "new-password-1",
	})
	require.NoError(t, err)
	require.NotNil(t, fdb.usersByID[user.ID])
}

func TestUpdatePassword_WrongCurrent(t *testing.T) {
	svc, _ := newTestUserService(t)
	user, err := svc.Register(context.Background(), &types.CreateUserRequest{
		Name: "Dana", Email: "dana@example.com", Password: "s3cret-pass",
	})
	require.NoError(t, err)

	err = svc.UpdatePassword(context.Background(), user.ID, "wrong", "new-password-1")
	var mismatch *ErrPasswordMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestUpdatePassword_UnknownUser(t *testing.T) {
	svc, _ := newTestUserService(t)

	err := svc.UpdatePassword(context.Background(), uuid.New(), "whatever", "new-password-1")
	var notFound *ErrUserNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, http.StatusNotFound, HTTPStatus(err))
}

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService(&config.JWTConfig{Secret: "test-secret", ExpirationHours: 1})
	userID := uuid.New()

	token, err := svc.GenerateToken(userID)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.GetUserID())
}

func TestJWTValidate_WrongSecret(t *testing.T) {
	issuer := NewJWTService(&config.JWTConfig{Secret: "secret-a", ExpirationHours: 1})
	verifier := NewJWTService(&config.JWTConfig{Secret: "secret-b", ExpirationHours: 1})

	token, err := issuer.GenerateToken(uuid.New())
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTValidate_Garbage(t *testing.T) {
	svc := NewJWTService(&config.JWTConfig{Secret: "test-secret", ExpirationHours: 1})

	_, err := svc.ValidateToken("")
	assert.Error(t, err)
	_, err = svc.ValidateToken("not.a.token")
	assert.Error(t, err)
}
