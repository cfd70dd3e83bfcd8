package repository

import (
	"context"
	"testing"
	"time"

	"biblesketch/internal/model"
	"biblesketch/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrder(orderNo, requestID string, expiredAt time.Time) *model.PurchaseOrder {
	return &model.PurchaseOrder{
		OrderNo:   orderNo,
		RequestID: requestID,
		UserID:    "user-1",
		PackID:    "starter",
		Credits:   20,
		Downloads: 20,
		Status:    model.OrderStatusCreated,
		ExpiredAt: expiredAt,
	}
}

func TestOrderRepository_UpdateStatus(t *testing.T) {
	repo := NewOrderRepository(testutil.NewDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, nil, newOrder("PUR1", "req-1", time.Now().Add(time.Hour))))

	require.NoError(t, repo.UpdateStatus(ctx, nil, "PUR1", model.OrderStatusCreated, model.OrderStatusFulfilled))

	err := repo.UpdateStatus(ctx, nil, "PUR1", model.OrderStatusCreated, model.OrderStatusClosed)
	assert.ErrorIs(t, err, ErrOrderStatusChanged)

	err = repo.UpdateStatus(ctx, nil, "PUR1", model.OrderStatusFulfilled, model.OrderStatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	order, err := repo.GetByOrderNo(ctx, nil, "PUR1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFulfilled, order.Status)
	require.NotNil(t, order.FulfilledAt)
}

func TestOrderRepository_Lookups(t *testing.T) {
	repo := NewOrderRepository(testutil.NewDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, nil, newOrder("PUR1", "req-1", time.Now().Add(time.Hour))))

	order, err := repo.GetByRequestID(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, "PUR1", order.OrderNo)

	order, err = repo.GetByRequestID(ctx, "req-2")
	require.NoError(t, err)
	assert.Nil(t, order)

	_, err = repo.GetByOrderNo(ctx, nil, "PUR2")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderRepository_GetExpiredOrders(t *testing.T) {
	repo := NewOrderRepository(testutil.NewDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, nil, newOrder("PUR1", "req-1", time.Now().Add(-time.Minute))))
	require.NoError(t, repo.Create(ctx, nil, newOrder("PUR2", "req-2", time.Now().Add(time.Hour))))
	require.NoError(t, repo.Create(ctx, nil, newOrder("PUR3", "req-3", time.Now().Add(-time.Minute))))
	require.NoError(t, repo.UpdateStatus(ctx, nil, "PUR3", model.OrderStatusCreated, model.OrderStatusFulfilled))

	orders, err := repo.GetExpiredOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "PUR1", orders[0].OrderNo)
}

func TestOrderRepository_ListByUserID(t *testing.T) {
	repo := NewOrderRepository(testutil.NewDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, nil, newOrder("PUR1", "req-1", time.Now().Add(time.Hour))))
	require.NoError(t, repo.Create(ctx, nil, newOrder("PUR2", "req-2", time.Now().Add(time.Hour))))

	orders, total, err := repo.ListByUserID(ctx, "user-1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, orders, 2)
	assert.Equal(t, "PUR2", orders[0].OrderNo)
}
