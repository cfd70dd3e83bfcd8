package job

import (
	"context"
	"testing"
	"time"

	"biblesketch/internal/model"
	"biblesketch/internal/service"
	"biblesketch/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerReconciler(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.purchase.CreateOrder(ctx, &service.CreateOrderRequest{RequestID: "req-1", AccountID: "user-1", PackID: "starter"})
	require.NoError(t, err)
	_, err = f.purchase.Fulfill(ctx, order.OrderNo)
	require.NoError(t, err)

	// 模拟提交后流水丢失
	require.NoError(t, f.db.Where("kind = ?", model.EntryKindPurchase).Delete(&model.LedgerEntry{}).Error)

	reconciler := NewLedgerReconciler(f.purchase, f.cfg, testutil.DiscardLogger())

	assert.Equal(t, 0, reconciler.reconcile(ctx, time.Now()), "orders inside the grace period are left alone")
	assert.Equal(t, 2, reconciler.reconcile(ctx, time.Now().Add(10*time.Minute)))
	assert.Equal(t, 0, reconciler.reconcile(ctx, time.Now().Add(10*time.Minute)))

	var refs []string
	require.NoError(t, f.db.Model(&model.LedgerEntry{}).
		Where("kind = ?", model.EntryKindPurchase).
		Order("reference ASC").
		Pluck("reference", &refs).Error)
	assert.Equal(t, []string{order.CreditsReference(), order.DownloadsReference()}, refs)
}
