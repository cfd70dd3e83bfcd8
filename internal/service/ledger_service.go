package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"biblesketch/internal/config"
	"biblesketch/internal/infrastructure/lock"
	"biblesketch/internal/metrics"
	"biblesketch/internal/model"
	"biblesketch/internal/repository"
	"biblesketch/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// LedgerService 维护账户的生成次数和下载次数
//
// 所有余额变动都走 mutate：事务内读账户 -> 校验 -> 带版本号的条件更新 -> 写 outbox。
// 版本冲突回滚后重试，最多 MaxTxAttempts 次。事务提交后再追加流水，
// 流水写失败只记日志，不影响已经提交的余额。
type LedgerService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         config.LedgerConfig
	topic       string
	accountRepo *repository.AccountRepository
	ledgerRepo  *repository.LedgerRepository
	outboxRepo  *repository.OutboxRepository
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewLedgerService redisClient 为 nil 或未开启 lock_enabled 时不加账户锁
func NewLedgerService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg.Ledger,
		topic:       cfg.Kafka.Topic.BalanceEvents,
		accountRepo: repository.NewAccountRepository(db),
		ledgerRepo:  repository.NewLedgerRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		metrics:     m,
		logger:      logger,
	}
}

// DownloadAllowance 下载额度查询结果，会员时 Remaining 为 -1
type DownloadAllowance struct {
	Allowed   bool  `json:"allowed"`
	Remaining int64 `json:"remaining"`
	IsPremium bool  `json:"is_premium"`
}

// mutation 描述一次余额变动
type mutation struct {
	op          string
	counter     model.Counter
	delta       int64
	kind        model.EntryKind
	description string
	// skip 返回 true 时不做任何修改（会员下载）
	skip func(*model.Account) bool
}

// mutationResult 提交后的快照，用于写流水
type mutationResult struct {
	skipped bool
	before  *model.Account
}

// CreateAccount 创建账户并发放初始额度，重复调用返回已有账户
func (s *LedgerService) CreateAccount(ctx context.Context, accountID string) (*model.Account, error) {
	if accountID == "" {
		return nil, ErrInvalidAccountID
	}

	account := &model.Account{
		UserID:            accountID,
		GenerationCredits: s.cfg.SeedCredits,
		DownloadAllowance: s.cfg.SeedDownloads,
	}
	created, err := s.accountRepo.CreateIfAbsent(ctx, nil, account)
	if err != nil {
		return nil, fmt.Errorf("创建账户失败: %w", err)
	}

	current, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !created {
		return current, nil
	}

	s.logger.Info("账户已创建", "account_id", accountID,
		"credits", s.cfg.SeedCredits, "downloads", s.cfg.SeedDownloads)

	if s.cfg.SeedCredits > 0 {
		s.appendEntry(ctx, &model.LedgerEntry{
			UserID:        accountID,
			Counter:       model.CounterCredits,
			Amount:        s.cfg.SeedCredits,
			Kind:          model.EntryKindBonus,
			BalanceBefore: 0,
			BalanceAfter:  s.cfg.SeedCredits,
			Description:   "Welcome bonus",
		})
	}
	return current, nil
}

// GetAccount 查询账户
func (s *LedgerService) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	account, err := s.accountRepo.GetByUserID(ctx, nil, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// CheckDownloadAllowance 只读查询下载额度，可以随意重复调用
func (s *LedgerService) CheckDownloadAllowance(ctx context.Context, accountID string) (*DownloadAllowance, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.IsPremium {
		return &DownloadAllowance{Allowed: true, Remaining: -1, IsPremium: true}, nil
	}
	return &DownloadAllowance{
		Allowed:   account.DownloadAllowance > 0,
		Remaining: account.DownloadAllowance,
	}, nil
}

// DeductCredits 扣减生成次数，余额不足返回 ErrInsufficientBalance 且不做任何修改
func (s *LedgerService) DeductCredits(ctx context.Context, accountID string, amount int64, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	_, err := s.mutate(ctx, accountID, mutation{
		op:          "deduct_credits",
		counter:     model.CounterCredits,
		delta:       -amount,
		kind:        model.EntryKindUsage,
		description: description,
	})
	return err
}

// DeductDownload 扣减一次下载；会员直接返回，不改余额也不写流水
func (s *LedgerService) DeductDownload(ctx context.Context, accountID string) error {
	_, err := s.mutate(ctx, accountID, mutation{
		op:          "deduct_download",
		counter:     model.CounterDownloads,
		delta:       -1,
		kind:        model.EntryKindUsage,
		description: "Download",
		skip:        func(a *model.Account) bool { return a.IsPremium },
	})
	return err
}

// GrantCredits 增加生成次数，kind 只能是 bonus / purchase / refund
func (s *LedgerService) GrantCredits(ctx context.Context, accountID string, amount int64, kind model.EntryKind, description string) error {
	return s.grant(ctx, accountID, model.CounterCredits, amount, kind, description)
}

// GrantDownloads 增加下载次数
func (s *LedgerService) GrantDownloads(ctx context.Context, accountID string, amount int64, kind model.EntryKind, description string) error {
	return s.grant(ctx, accountID, model.CounterDownloads, amount, kind, description)
}

// RefundCredits 生成失败后退回已扣的次数
func (s *LedgerService) RefundCredits(ctx context.Context, accountID string, amount int64, description string) error {
	return s.grant(ctx, accountID, model.CounterCredits, amount, model.EntryKindRefund, description)
}

func (s *LedgerService) grant(ctx context.Context, accountID string, counter model.Counter, amount int64, kind model.EntryKind, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if !kind.Valid() || kind == model.EntryKindUsage {
		return ErrInvalidKind
	}
	_, err := s.mutate(ctx, accountID, mutation{
		op:          "grant_" + string(counter),
		counter:     counter,
		delta:       amount,
		kind:        kind,
		description: description,
	})
	return err
}

// SetPremium 修改会员状态，不写流水
func (s *LedgerService) SetPremium(ctx context.Context, accountID string, premium bool) error {
	if accountID == "" {
		return ErrInvalidAccountID
	}
	err := s.withAccountLock(ctx, accountID, func() error {
		return s.retry(ctx, "set_premium", func() error {
			return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return s.setPremiumTx(ctx, tx, accountID, premium)
			})
		})
	})
	if err != nil {
		return translateLedgerError(err, model.CounterCredits)
	}
	s.logger.Info("会员状态已更新", "account_id", accountID, "premium", premium)
	return nil
}

func (s *LedgerService) setPremiumTx(ctx context.Context, tx *gorm.DB, accountID string, premium bool) error {
	account, err := s.accountRepo.GetByUserID(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if account.IsPremium == premium {
		return nil
	}
	return s.accountRepo.SetPremium(ctx, tx, accountID, premium, account.Version)
}

// ListEntries 分页查询流水，最新的在前
func (s *LedgerService) ListEntries(ctx context.Context, accountID string, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	return s.ledgerRepo.ListByUserID(ctx, accountID, page, pageSize)
}

// mutate 执行一次余额变动，成功后追加流水
func (s *LedgerService) mutate(ctx context.Context, accountID string, m mutation) (*mutationResult, error) {
	if accountID == "" {
		return nil, ErrInvalidAccountID
	}

	var res *mutationResult
	err := s.withAccountLock(ctx, accountID, func() error {
		return s.retry(ctx, m.op, func() error {
			var err error
			res, err = s.mutateOnce(ctx, accountID, m)
			return err
		})
	})
	if err != nil {
		s.metrics.ObserveLedgerMutation(m.op, resultLabel(err))
		return nil, translateLedgerError(err, m.counter)
	}

	if res.skipped {
		s.metrics.ObserveLedgerMutation(m.op, "skipped")
		return res, nil
	}
	s.metrics.ObserveLedgerMutation(m.op, "ok")

	before := res.before.Balance(m.counter)
	s.appendEntry(ctx, &model.LedgerEntry{
		UserID:        accountID,
		Counter:       m.counter,
		Amount:        m.delta,
		Kind:          m.kind,
		BalanceBefore: before,
		BalanceAfter:  before + m.delta,
		Description:   m.description,
	})
	return res, nil
}

func (s *LedgerService) mutateOnce(ctx context.Context, accountID string, m mutation) (*mutationResult, error) {
	res := &mutationResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByUserID(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if m.skip != nil && m.skip(account) {
			res.skipped = true
			return nil
		}
		if err := s.applyTx(ctx, tx, account, m); err != nil {
			return err
		}
		res.before = account
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// applyTx 在给定事务内对已读出的账户做条件更新并写 outbox
func (s *LedgerService) applyTx(ctx context.Context, tx *gorm.DB, account *model.Account, m mutation) error {
	if account.Balance(m.counter)+m.delta < 0 {
		return repository.ErrBalanceNotEnough
	}
	if err := s.accountRepo.ApplyDelta(ctx, tx, account.UserID, m.counter, m.delta, account.Version); err != nil {
		return err
	}

	payload, err := json.Marshal(model.BalanceEvent{
		UserID:       account.UserID,
		Counter:      m.counter,
		Delta:        m.delta,
		Kind:         m.kind,
		BalanceAfter: account.Balance(m.counter) + m.delta,
		Version:      account.Version + 1,
		OccurredAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("序列化余额事件失败: %w", err)
	}
	return s.outboxRepo.Enqueue(ctx, tx, &model.OutboxMessage{
		MessageKey: account.UserID,
		Topic:      s.topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

// retry 只对版本冲突重试
func (s *LedgerService) retry(ctx context.Context, op string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if !errors.Is(err, repository.ErrOptimisticLock) {
			return err
		}
		if attempt >= s.cfg.MaxTxAttempts {
			s.logger.Warn("版本冲突重试次数用尽", "op", op, "attempts", attempt)
			return ErrConcurrentUpdate
		}
		s.metrics.ObserveConflictRetry(op)

		backoff := time.Duration(attempt)*5*time.Millisecond + time.Duration(rand.Intn(5))*time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (s *LedgerService) withAccountLock(ctx context.Context, accountID string, fn func() error) error {
	if s.redisClient == nil || !s.cfg.LockEnabled {
		return fn()
	}

	accountLock := lock.NewAccountLock(s.redisClient, accountID, s.cfg.LockTTL)
	if err := accountLock.Lock(ctx, 20*time.Millisecond, 50); err != nil {
		if errors.Is(err, lock.ErrLockFailed) {
			return ErrLockBusy
		}
		return fmt.Errorf("获取账户锁失败: %w", err)
	}
	defer func() {
		// 请求上下文可能已取消，释放锁用独立的上下文
		unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := accountLock.Unlock(unlockCtx); err != nil {
			s.logger.Warn("释放账户锁失败", "account_id", accountID, "error", err)
		}
	}()
	return fn()
}

// appendEntry 尽力写入流水：失败只记录日志和指标，不向调用方返回
func (s *LedgerService) appendEntry(ctx context.Context, entry *model.LedgerEntry) {
	entry.EntryNo = idgen.GenerateEntryNo()
	// 调用方的上下文取消不应该丢掉已提交变动的流水
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.ledgerRepo.Append(ctx, entry); err != nil {
		s.metrics.ObserveEntryAppendFailure()
		s.logger.Warn("写入流水失败",
			"account_id", entry.UserID,
			"counter", entry.Counter,
			"amount", entry.Amount,
			"kind", entry.Kind,
			"error", err,
		)
	}
}

func translateLedgerError(err error, counter model.Counter) error {
	switch {
	case errors.Is(err, repository.ErrAccountNotFound):
		return ErrAccountNotFound
	case errors.Is(err, repository.ErrBalanceNotEnough):
		if counter == model.CounterDownloads {
			return ErrNoDownloadsRemaining
		}
		return ErrInsufficientBalance
	}
	return err
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, repository.ErrBalanceNotEnough):
		return "insufficient"
	case errors.Is(err, repository.ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, ErrConcurrentUpdate), errors.Is(err, ErrLockBusy):
		return "conflict"
	}
	return "error"
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
