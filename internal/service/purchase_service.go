package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"biblesketch/internal/config"
	"biblesketch/internal/model"
	"biblesketch/internal/repository"
	"biblesketch/pkg/idgen"

	"gorm.io/gorm"
)

// PurchaseService 处理套餐购买：下单、支付回调后发放、取消
type PurchaseService struct {
	db        *gorm.DB
	cfg       config.PurchaseConfig
	ledger    *LedgerService
	orderRepo *repository.OrderRepository
	logger    *slog.Logger
}

func NewPurchaseService(db *gorm.DB, cfg *config.Config, ledger *LedgerService, logger *slog.Logger) *PurchaseService {
	return &PurchaseService{
		db:        db,
		cfg:       cfg.Purchase,
		ledger:    ledger,
		orderRepo: repository.NewOrderRepository(db),
		logger:    logger,
	}
}

type CreateOrderRequest struct {
	RequestID string
	AccountID string
	PackID    string
}

// CreateOrder 创建订单，相同 RequestID 返回已有订单
func (s *PurchaseService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*model.PurchaseOrder, error) {
	existingOrder, err := s.orderRepo.GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, fmt.Errorf("查询订单失败: %w", err)
	}
	if existingOrder != nil {
		return existingOrder, nil
	}

	pack, ok := s.cfg.Pack(req.PackID)
	if !ok {
		return nil, ErrUnknownPack
	}
	if _, err := s.ledger.GetAccount(ctx, req.AccountID); err != nil {
		return nil, err
	}

	order := &model.PurchaseOrder{
		OrderNo:   idgen.GenerateOrderNo(),
		RequestID: req.RequestID,
		UserID:    req.AccountID,
		PackID:    pack.ID,
		Credits:   pack.Credits,
		Downloads: pack.Downloads,
		Premium:   pack.Premium,
		Status:    model.OrderStatusCreated,
		ExpiredAt: time.Now().Add(time.Duration(s.cfg.OrderTimeoutMinutes) * time.Minute),
	}
	if err := s.orderRepo.Create(ctx, nil, order); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 并发的同一请求先插入了
			if existing, _ := s.orderRepo.GetByRequestID(ctx, req.RequestID); existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("创建订单失败: %w", err)
	}
	return order, nil
}

// Fulfill 支付成功后发放套餐
//
// 订单状态 CREATED -> FULFILLED 与余额增加在同一个事务里，
// 重复回调看到 FULFILLED 直接返回订单，不会重复发放。
func (s *PurchaseService) Fulfill(ctx context.Context, orderNo string) (*model.PurchaseOrder, error) {
	order, err := s.GetOrder(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.Status == model.OrderStatusFulfilled {
		return order, nil
	}
	if order.Status != model.OrderStatusCreated {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotPayable, order.Status)
	}

	var before *model.Account
	err = s.ledger.withAccountLock(ctx, order.UserID, func() error {
		return s.ledger.retry(ctx, "fulfill_purchase", func() error {
			return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				var err error
				before, err = s.fulfillTx(ctx, tx, order)
				return err
			})
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrOrderStatusChanged) {
			// 另一个回调已经处理，或者订单刚被关闭
			current, getErr := s.GetOrder(ctx, orderNo)
			if getErr != nil {
				return nil, getErr
			}
			if current.Status != model.OrderStatusFulfilled {
				return nil, fmt.Errorf("%w: %s", ErrOrderNotPayable, current.Status)
			}
			return current, nil
		}
		s.ledger.metrics.ObserveLedgerMutation("fulfill_purchase", resultLabel(err))
		return nil, translateLedgerError(err, model.CounterCredits)
	}
	s.ledger.metrics.ObserveLedgerMutation("fulfill_purchase", "ok")

	description := fmt.Sprintf("Purchase: %s", order.PackID)
	if order.Credits > 0 {
		ref := order.CreditsReference()
		s.ledger.appendEntry(ctx, &model.LedgerEntry{
			UserID:        order.UserID,
			Counter:       model.CounterCredits,
			Amount:        order.Credits,
			Kind:          model.EntryKindPurchase,
			BalanceBefore: before.GenerationCredits,
			BalanceAfter:  before.GenerationCredits + order.Credits,
			Description:   description,
			Reference:     &ref,
		})
	}
	if order.Downloads > 0 {
		ref := order.DownloadsReference()
		s.ledger.appendEntry(ctx, &model.LedgerEntry{
			UserID:        order.UserID,
			Counter:       model.CounterDownloads,
			Amount:        order.Downloads,
			Kind:          model.EntryKindPurchase,
			BalanceBefore: before.DownloadAllowance,
			BalanceAfter:  before.DownloadAllowance + order.Downloads,
			Description:   description,
			Reference:     &ref,
		})
	}

	s.logger.Info("套餐已发放", "order_no", order.OrderNo, "account_id", order.UserID,
		"pack_id", order.PackID, "credits", order.Credits, "downloads", order.Downloads)

	return s.GetOrder(ctx, orderNo)
}

// fulfillTx 返回发放前的账户快照
func (s *PurchaseService) fulfillTx(ctx context.Context, tx *gorm.DB, order *model.PurchaseOrder) (*model.Account, error) {
	if err := s.orderRepo.UpdateStatus(ctx, tx, order.OrderNo, model.OrderStatusCreated, model.OrderStatusFulfilled); err != nil {
		return nil, err
	}

	before, err := s.ledger.accountRepo.GetByUserID(ctx, tx, order.UserID)
	if err != nil {
		return nil, err
	}

	grants := []struct {
		counter model.Counter
		amount  int64
	}{
		{model.CounterCredits, order.Credits},
		{model.CounterDownloads, order.Downloads},
	}
	account := before
	for _, g := range grants {
		if g.amount <= 0 {
			continue
		}
		if err := s.ledger.applyTx(ctx, tx, account, mutation{
			counter: g.counter,
			delta:   g.amount,
			kind:    model.EntryKindPurchase,
		}); err != nil {
			return nil, err
		}
		// 版本号已变，下一次更新要基于新快照
		if account, err = s.ledger.accountRepo.GetByUserID(ctx, tx, order.UserID); err != nil {
			return nil, err
		}
	}

	if order.Premium && !account.IsPremium {
		if err := s.ledger.accountRepo.SetPremium(ctx, tx, order.UserID, true, account.Version); err != nil {
			return nil, err
		}
	}
	return before, nil
}

// Cancel 取消未支付订单
func (s *PurchaseService) Cancel(ctx context.Context, orderNo string) error {
	order, err := s.GetOrder(ctx, orderNo)
	if err != nil {
		return err
	}
	if order.Status == model.OrderStatusCancelled {
		return nil
	}
	err = s.orderRepo.UpdateStatus(ctx, nil, orderNo, order.Status, model.OrderStatusCancelled)
	if errors.Is(err, repository.ErrInvalidTransition) || errors.Is(err, repository.ErrOrderStatusChanged) {
		return fmt.Errorf("%w: %s", ErrOrderNotPayable, order.Status)
	}
	return err
}

// GetOrder 查询订单
func (s *PurchaseService) GetOrder(ctx context.Context, orderNo string) (*model.PurchaseOrder, error) {
	order, err := s.orderRepo.GetByOrderNo(ctx, nil, orderNo)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// ListOrders 分页查询账户订单
func (s *PurchaseService) ListOrders(ctx context.Context, accountID string, page, pageSize int) ([]*model.PurchaseOrder, int64, error) {
	page, pageSize = normalizePage(page, pageSize)
	return s.orderRepo.ListByUserID(ctx, accountID, page, pageSize)
}

// CloseExpiredOrders 关闭超时未支付的订单，返回关闭数量
func (s *PurchaseService) CloseExpiredOrders(ctx context.Context, limit int) (int, error) {
	orders, err := s.orderRepo.GetExpiredOrders(ctx, limit)
	if err != nil {
		return 0, err
	}

	closedCount := 0
	for _, order := range orders {
		err := s.orderRepo.UpdateStatus(ctx, nil, order.OrderNo, model.OrderStatusCreated, model.OrderStatusClosed)
		if err != nil {
			s.logger.Warn("关闭订单失败", "order_no", order.OrderNo, "error", err)
			continue
		}
		closedCount++
		s.ledger.metrics.ObserveOrderClosed()
		s.logger.Info("订单已超时关闭", "order_no", order.OrderNo, "account_id", order.UserID)
	}
	return closedCount, nil
}

// ReconcileEntries 为已发放但流水丢失的订单补写流水
//
// 只检查 [since, before) 之间完成的订单；流水的 Reference 唯一，补写最多成功一次。
// 补写的流水 BalanceBefore/After 为 0，表示当时的余额已不可知。
func (s *PurchaseService) ReconcileEntries(ctx context.Context, since, before time.Time, limit int) (int, error) {
	orders, err := s.orderRepo.GetFulfilledBefore(ctx, since, before, limit)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, order := range orders {
		candidates := []struct {
			counter model.Counter
			amount  int64
			ref     string
		}{
			{model.CounterCredits, order.Credits, order.CreditsReference()},
			{model.CounterDownloads, order.Downloads, order.DownloadsReference()},
		}
		for _, c := range candidates {
			if c.amount <= 0 {
				continue
			}
			exists, err := s.ledger.ledgerRepo.ExistsByReference(ctx, c.ref)
			if err != nil {
				return repaired, err
			}
			if exists {
				continue
			}

			ref := c.ref
			entry := &model.LedgerEntry{
				EntryNo:     idgen.GenerateEntryNo(),
				UserID:      order.UserID,
				Counter:     c.counter,
				Amount:      c.amount,
				Kind:        model.EntryKindPurchase,
				Description: fmt.Sprintf("Purchase: %s (reconciled)", order.PackID),
				Reference:   &ref,
			}
			if err := s.ledger.ledgerRepo.Append(ctx, entry); err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					continue
				}
				return repaired, err
			}
			repaired++
			s.ledger.metrics.ObserveEntryReconciled()
			s.logger.Info("补写购买流水", "order_no", order.OrderNo, "reference", ref)
		}
	}
	return repaired, nil
}
