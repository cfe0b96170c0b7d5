package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/credential"
	"github.com/Tyrowin/gochat-relay/internal/password"
	"github.com/Tyrowin/gochat-relay/internal/token"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestService(t *testing.T, store credential.Store) (*Service, *token.Codec) {
	t.Helper()
	codec, err := token.NewCodec(token.Config{Secret: testSecret, TTL: time.Hour})
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return NewService(store, password.NewBcrypt(4), codec, logger), codec
}

// failingStore fails every call with err.
type failingStore struct {
	err error
}

func (f failingStore) FindByUsername(context.Context, string) (*credential.Credential, error) {
	return nil, f.err
}

func (f failingStore) FindByEmail(context.Context, string) (*credential.Credential, error) {
	return nil, f.err
}

func (f failingStore) Save(context.Context, *credential.Credential) error {
	return f.err
}

// racingStore reports every lookup as free but rejects the save, as happens
// when a concurrent registration wins.
type racingStore struct {
	field string
}

func (r racingStore) FindByUsername(context.Context, string) (*credential.Credential, error) {
	return nil, credential.ErrNotFound
}

func (r racingStore) FindByEmail(context.Context, string) (*credential.Credential, error) {
	return nil, credential.ErrNotFound
}

func (r racingStore) Save(context.Context, *credential.Credential) error {
	return &credential.DuplicateError{Field: r.field}
}

func TestRegisterThenLogin(t *testing.T) {
	store := credential.NewMemoryStore()
	svc, codec := newTestService(t, store)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "alice", "a@x.com", "pw1"))

	stored, err := store.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, "pw1", stored.PasswordHash)

	tok, err := svc.Login(ctx, "alice", "pw1")
	require.NoError(t, err)

	sub, err := codec.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
}

func TestRegister_Conflicts(t *testing.T) {
	store := credential.NewMemoryStore()
	svc, _ := newTestService(t, store)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "alice", "a@x.com", "pw1"))

	err := svc.Register(ctx, "alice", "b@x.com", "pw2")
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "username", conflict.Field)
	assert.Equal(t, "username already exists", err.Error())

	err = svc.Register(ctx, "bob", "a@x.com", "pw2")
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "email", conflict.Field)
	assert.Equal(t, "email already exists", err.Error())

	assert.Equal(t, 1, store.Len(), "failed registrations must not persist anything")
}

func TestRegister_RaceMapsToConflict(t *testing.T) {
	svc, _ := newTestService(t, racingStore{field: credential.FieldEmail})

	err := svc.Register(context.Background(), "alice", "a@x.com", "pw1")
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "email", conflict.Field)
}

func TestRegister_StoreUnavailable(t *testing.T) {
	svc, _ := newTestService(t, failingStore{err: errors.New("connection refused")})

	err := svc.Register(context.Background(), "alice", "a@x.com", "pw1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestLogin_Failures(t *testing.T) {
	store := credential.NewMemoryStore()
	svc, _ := newTestService(t, store)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "alice", "a@x.com", "pw1"))

	_, err := svc.Login(ctx, "nobody", "pw1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_StoreUnavailable(t *testing.T) {
	svc, _ := newTestService(t, failingStore{err: errors.New("timeout")})

	_, err := svc.Login(context.Background(), "alice", "pw1")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestLogin_CorruptHash(t *testing.T) {
	store := credential.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), &credential.Credential{Username: "alice", Email: "a@x.com", PasswordHash: "not-a-hash"}))
	svc, _ := newTestService(t, store)

	_, err := svc.Login(context.Background(), "alice", "pw1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRegister_PasswordTooLong(t *testing.T) {
	store := credential.NewMemoryStore()
	svc, _ := newTestService(t, store)

	// 40 two-byte runes is 80 bytes, past bcrypt's limit.
	err := svc.Register(context.Background(), "alice", "a@x.com", strings.Repeat("é", 40))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 0, store.Len())
}

// countingHasher records how often Compare runs.
type countingHasher struct {
	password.Hasher
	compares atomic.Int32
}

func (c *countingHasher) Compare(encoded, plaintext string) (bool, error) {
	c.compares.Add(1)
	return c.Hasher.Compare(encoded, plaintext)
}

func TestLogin_UnknownUserComparesHash(t *testing.T) {
	codec, err := token.NewCodec(token.Config{Secret: testSecret, TTL: time.Hour})
	require.NoError(t, err)
	hasher := &countingHasher{Hasher: password.NewBcrypt(4)}
	svc := NewService(credential.NewMemoryStore(), hasher, codec, nil)

	_, err = svc.Login(context.Background(), "nobody", "pw1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), hasher.compares.Load())

	_, err = svc.Login(context.Background(), "ghost", "pw2")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(2), hasher.compares.Load())
}
