//go:build integration

package hacienda_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/jhoicas/dte-api/internal/domain/entity"
	"github.com/jhoicas/dte-api/internal/infrastructure/hacienda"
)

func startRedis(t *testing.T) *hacienda.RedisTokenStore {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	store, err := hacienda.NewRedisTokenStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisTokenStore_CompartidoYBorradoCondicional(t *testing.T) {
	store := startRedis(t)
	ctx := context.Background()
	key := "u1|00"

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)

	cred := &entity.HaciendaCredential{UserID: "u1", Environment: "00", Token: "tok-1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, store.Set(ctx, key, cred))

	got, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tok-1", got.Token)

	// Otra réplica ya renovó: borrar con el token viejo no toca el nuevo.
	require.NoError(t, store.Delete(ctx, key, "tok-0"))
	got, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, store.Delete(ctx, key, "tok-1"))
	got, err = store.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisTokenStore_VencidoNoSeGuarda(t *testing.T) {
	store := startRedis(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "u1|01", &entity.HaciendaCredential{Token: "x", ExpiresAt: time.Now().Add(-time.Second)}))
	got, err := store.Get(ctx, "u1|01")
	require.NoError(t, err)
	assert.Nil(t, got)
}
