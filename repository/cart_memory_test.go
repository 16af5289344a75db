package repository_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imramesh222/ecommerce/models"
	"github.com/imramesh222/ecommerce/repository"
)

func testCart(ownerID string) *models.Cart {
	cart := models.NewCart(ownerID)
	cart.Items = append(cart.Items, models.CartItem{
		ProductID: uuid.New(),
		Name:      "Widget",
		Quantity:  2,
		UnitPrice: decimal.RequireFromString("3.50"),
	})
	return cart
}

func TestCartRepository_SaveBumpsVersion(t *testing.T) {
	repo := repository.NewMemoryCartRepository()
	ctx := context.Background()

	cart := testCart("alice")
	require.NoError(t, repo.Save(ctx, cart, 0))
	assert.EqualValues(t, 1, cart.Version, "save reports the stored version back")

	cart.Items[0].Quantity = 3
	require.NoError(t, repo.Save(ctx, cart, 1))
	assert.EqualValues(t, 2, cart.Version)

	got, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.EqualValues(t, 2, got.Version)
	assert.Equal(t, 3, got.Items[0].Quantity)
}

func TestCartRepository_SaveStaleVersionFails(t *testing.T) {
	repo := repository.NewMemoryCartRepository()
	ctx := context.Background()

	cart := testCart("alice")
	require.NoError(t, repo.Save(ctx, cart, 0))

	stale := testCart("alice")
	err := repo.Save(ctx, stale, 0)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)

	// a fresh cart cannot claim a taken slot either
	err = repo.Save(ctx, testCart("alice"), 5)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)
}

func TestCartRepository_GetAbsentIsNil(t *testing.T) {
	repo := repository.NewMemoryCartRepository()

	got, err := repo.Get(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCartRepository_GetReturnsCopy(t *testing.T) {
	repo := repository.NewMemoryCartRepository()
	ctx := context.Background()

	cart := testCart("alice")
	require.NoError(t, repo.Save(ctx, cart, 0))

	first, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	first.Items[0].Quantity = 99

	second, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Items[0].Quantity, "mutating a read must not touch the store")
}

func TestCartRepository_DeleteChecksVersion(t *testing.T) {
	repo := repository.NewMemoryCartRepository()
	ctx := context.Background()

	require.NoError(t, repo.Delete(ctx, "ghost", 0), "deleting an absent cart succeeds")

	cart := testCart("alice")
	require.NoError(t, repo.Save(ctx, cart, 0))

	assert.ErrorIs(t, repo.Delete(ctx, "alice", 7), repository.ErrVersionConflict)
	require.NoError(t, repo.Delete(ctx, "alice", 1))

	got, err := repo.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCartRepository_ConcurrentSavesOneWins(t *testing.T) {
	repo := repository.NewMemoryCartRepository()
	ctx := context.Background()

	base := testCart("alice")
	require.NoError(t, repo.Save(ctx, base, 0))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cart := testCart("alice")
			cart.Version = 1
			err := repo.Save(ctx, cart, 1)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if err == repository.ErrVersionConflict {
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one writer may advance version 1")
	assert.Equal(t, 9, conflicts)
}
