package application

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tomarrohitt/e-commerce-sub000/internal/identity/domain"
	identityDB "github.com/tomarrohitt/e-commerce-sub000/internal/identity/infra/outbound/db"
	"github.com/tomarrohitt/e-commerce-sub000/internal/shared/domain/events"
	sharedCache "github.com/tomarrohitt/e-commerce-sub000/internal/shared/infra/platform/cache"
	"github.com/tomarrohitt/e-commerce-sub000/internal/testutil"
)

func setup(t *testing.T) (*UserService, *identityDB.UserRepo, *sharedCache.InMemoryCache) {
	repo := identityDB.NewUserRepo(testutil.OpenSQLite(t))
	testutil.InitSchemas(t, repo)
	cache := sharedCache.NewInMemoryCache(time.Minute, 0)
	t.Cleanup(cache.Stop)
	return NewUserService(repo, cache, zap.NewNop()), repo, cache
}

func TestRegister_EmitsVerificationLink(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := setup(t)

	user, err := svc.Register(ctx, "ana@example.com", "Ana")
	require.NoError(t, err)

	pending, err := repo.Outbox().FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, events.UserRegistered, pending[0].EventType)

	var data events.UserRegisteredData
	require.NoError(t, json.Unmarshal(pending[0].Payload.(json.RawMessage), &data))
	assert.Equal(t, user.ID.String(), data.UserID)
	assert.True(t, strings.HasPrefix(data.Link, "/users/"+user.ID.String()+"/verify?token="))
}

func TestRegister_InvalidInput(t *testing.T) {
	svc, _, _ := setup(t)
	_, err := svc.Register(context.Background(), "not-an-email", "Ana")
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
}

func TestVerify_FlipsFlagAndEmits(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := setup(t)

	user, err := svc.Register(ctx, "bob@example.com", "Bob")
	require.NoError(t, err)

	_, err = svc.Verify(ctx, user.ID, "bad")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)

	verified, err := svc.Verify(ctx, user.ID, user.VerificationToken)
	require.NoError(t, err)
	assert.True(t, verified.Verified)

	// Idempotente: no se emite un segundo user.verified.
	_, err = svc.Verify(ctx, user.ID, user.VerificationToken)
	require.NoError(t, err)

	pending, err := repo.Outbox().FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, events.UserVerified, pending[1].EventType)
}

func TestGetUser_CacheFirst(t *testing.T) {
	ctx := context.Background()
	svc, _, cache := setup(t)

	cached := domain.User{ID: uuid.New(), Email: "cached@example.com", Name: "Cache"}
	require.NoError(t, cache.Set(ctx, userKey(cached.ID), cached, 0))

	got, err := svc.GetUser(ctx, cached.ID)
	require.NoError(t, err)
	assert.Equal(t, "cached@example.com", got.Email)
}

func TestGetUser_NotFoundIsNotRetried(t *testing.T) {
	svc, _, _ := setup(t)

	start := time.Now()
	_, err := svc.GetUser(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
