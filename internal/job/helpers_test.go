package job

import (
	"context"
	"testing"
	"time"

	"biblesketch/internal/config"
	"biblesketch/internal/metrics"
	"biblesketch/internal/service"
	"biblesketch/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	cfg      *config.Config
	metrics  *metrics.Metrics
	ledger   *service.LedgerService
	purchase *service.PurchaseService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		Kafka:  config.KafkaConfig{Topic: config.KafkaTopicConfig{BalanceEvents: "balance_events"}},
		Ledger: config.LedgerConfig{SeedCredits: 5, SeedDownloads: 5, MaxTxAttempts: 5},
		Purchase: config.PurchaseConfig{
			OrderTimeoutMinutes: 30,
			ReconcileGrace:      5 * time.Minute,
			Packs:               []config.PackConfig{{ID: "starter", Credits: 20, Downloads: 10}},
		},
		Outbox: config.OutboxConfig{MaxRetryCount: 2},
	}
	db := testutil.NewDB(t)
	m := metrics.New(prometheus.NewRegistry())
	ledger := service.NewLedgerService(db, nil, cfg, m, testutil.DiscardLogger())

	_, err := ledger.CreateAccount(context.Background(), "user-1")
	require.NoError(t, err)

	return &fixture{
		db:       db,
		cfg:      cfg,
		metrics:  m,
		ledger:   ledger,
		purchase: service.NewPurchaseService(db, cfg, ledger, testutil.DiscardLogger()),
	}
}
