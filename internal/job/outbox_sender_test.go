package job

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"biblesketch/internal/infrastructure/mq"
	"biblesketch/internal/model"
	"biblesketch/internal/testutil"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outboxStatuses(t *testing.T, f *fixture) map[string]int {
	t.Helper()
	var messages []*model.OutboxMessage
	require.NoError(t, f.db.Find(&messages).Error)
	statuses := make(map[string]int)
	for _, m := range messages {
		statuses[m.Status]++
	}
	return statuses
}

func TestOutboxSender_PublishesBalanceEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.DeductCredits(ctx, "user-1", 1, "Generated: Genesis 1"))
	require.NoError(t, f.ledger.DeductDownload(ctx, "user-1"))

	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if !json.Valid(val) {
			return errors.New("payload is not json")
		}
		return nil
	})
	producer.ExpectSendMessageAndSucceed()

	sender := NewOutboxSender(f.db, mq.NewKafkaPublisher(producer), f.cfg, f.metrics, testutil.DiscardLogger())
	sender.processPendingMessages(ctx)
	require.NoError(t, producer.Close())

	assert.Equal(t, map[string]int{model.OutboxStatusSent: 2}, outboxStatuses(t, f))
	assert.Equal(t, 2.0, promtest.ToFloat64(f.metrics.OutboxPublished().WithLabelValues("sent")))
}

type failingPublisher struct {
	calls int
}

func (p *failingPublisher) Send(topic, key, value string) error {
	p.calls++
	return errors.New("broker unavailable")
}

func TestOutboxSender_MarksFailedAfterMaxRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.DeductCredits(ctx, "user-1", 1, "Generated: Exodus 14"))

	publisher := &failingPublisher{}
	sender := NewOutboxSender(f.db, publisher, f.cfg, f.metrics, testutil.DiscardLogger())

	sender.processPendingMessages(ctx)
	assert.Equal(t, map[string]int{model.OutboxStatusPending: 1}, outboxStatuses(t, f))

	sender.processPendingMessages(ctx)
	assert.Equal(t, map[string]int{model.OutboxStatusFailed: 1}, outboxStatuses(t, f))

	sender.processPendingMessages(ctx)
	assert.Equal(t, 2, publisher.calls, "failed messages are not retried")
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.OutboxPublished().WithLabelValues("failed")))
}

func TestOutboxSender_StartStop(t *testing.T) {
	f := newFixture(t)
	sender := NewOutboxSender(f.db, &failingPublisher{}, f.cfg, f.metrics, testutil.DiscardLogger())

	done := make(chan struct{})
	go func() {
		sender.Start(context.Background())
		close(done)
	}()
	sender.Stop()
	<-done
}
