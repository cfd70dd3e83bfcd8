package service

import (
	"context"
	"testing"
	"time"

	"biblesketch/internal/config"
	"biblesketch/internal/metrics"
	"biblesketch/internal/model"
	"biblesketch/internal/testutil"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db       *gorm.DB
	cfg      *config.Config
	metrics  *metrics.Metrics
	ledger   *LedgerService
	purchase *PurchaseService
}

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{Topic: config.KafkaTopicConfig{BalanceEvents: "balance_events"}},
		Ledger: config.LedgerConfig{
			SeedCredits:   5,
			SeedDownloads: 5,
			MaxTxAttempts: 5,
			LockTTL:       5 * time.Second,
		},
		Purchase: config.PurchaseConfig{
			OrderTimeoutMinutes: 30,
			Packs: []config.PackConfig{
				{ID: "starter", Credits: 20, Downloads: 10},
				{ID: "premium", Credits: 50, Premium: true},
			},
		},
	}
}

func newTestEnv(t *testing.T, modify ...func(*config.Config)) *testEnv {
	return newTestEnvWithRedis(t, nil, modify...)
}

func newTestEnvWithRedis(t *testing.T, rdb *redis.Client, modify ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, fn := range modify {
		fn(cfg)
	}

	db := testutil.NewDB(t)
	m := metrics.New(prometheus.NewRegistry())
	logger := testutil.DiscardLogger()
	ledger := NewLedgerService(db, rdb, cfg, m, logger)

	return &testEnv{
		db:       db,
		cfg:      cfg,
		metrics:  m,
		ledger:   ledger,
		purchase: NewPurchaseService(db, cfg, ledger, logger),
	}
}

func (e *testEnv) createAccount(t *testing.T, accountID string) *model.Account {
	t.Helper()
	account, err := e.ledger.CreateAccount(context.Background(), accountID)
	require.NoError(t, err)
	return account
}

func (e *testEnv) entries(t *testing.T, accountID string) []*model.LedgerEntry {
	t.Helper()
	var entries []*model.LedgerEntry
	require.NoError(t, e.db.Where("user_id = ?", accountID).Order("id ASC").Find(&entries).Error)
	return entries
}

func (e *testEnv) outboxCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.OutboxMessage{}).Count(&n).Error)
	return n
}
