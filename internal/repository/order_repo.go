package repository

import (
	"context"
	"errors"
	"time"

	"biblesketch/internal/model"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound      = errors.New("订单不存在")
	ErrOrderStatusChanged = errors.New("订单状态已变更")
	ErrInvalidTransition  = errors.New("非法的订单状态流转")
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.PurchaseOrder) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) GetByOrderNo(ctx context.Context, tx *gorm.DB, orderNo string) (*model.PurchaseOrder, error) {
	if tx == nil {
		tx = r.db
	}
	var order model.PurchaseOrder
	err := tx.WithContext(ctx).Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// GetByRequestID 幂等查询，不存在时返回 nil, nil
func (r *OrderRepository) GetByRequestID(ctx context.Context, requestID string) (*model.PurchaseOrder, error) {
	var order model.PurchaseOrder
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// UpdateStatus 以 from 状态为条件更新，保证状态流转原子
func (r *OrderRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, orderNo string, from, to string) error {
	if !model.CanTransitionTo(from, to) {
		return ErrInvalidTransition
	}
	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{"status": to}
	if to == model.OrderStatusFulfilled {
		updates["fulfilled_at"] = time.Now()
	}

	result := tx.WithContext(ctx).
		Model(&model.PurchaseOrder{}).
		Where("order_no = ? AND status = ?", orderNo, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderStatusChanged
	}
	return nil
}

func (r *OrderRepository) GetExpiredOrders(ctx context.Context, limit int) ([]*model.PurchaseOrder, error) {
	var orders []*model.PurchaseOrder
	err := r.db.WithContext(ctx).
		Where("status = ? AND expired_at < ?", model.OrderStatusCreated, time.Now()).
		Order("id ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// GetFulfilledBefore 查询在 before 之前完成的订单，供流水补偿使用
func (r *OrderRepository) GetFulfilledBefore(ctx context.Context, since, before time.Time, limit int) ([]*model.PurchaseOrder, error) {
	var orders []*model.PurchaseOrder
	err := r.db.WithContext(ctx).
		Where("status = ? AND fulfilled_at >= ? AND fulfilled_at < ?", model.OrderStatusFulfilled, since, before).
		Order("id ASC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *OrderRepository) ListByUserID(ctx context.Context, userID string, page, pageSize int) ([]*model.PurchaseOrder, int64, error) {
	var orders []*model.PurchaseOrder
	var total int64

	query := r.db.WithContext(ctx).Model(&model.PurchaseOrder{}).Where("user_id = ?", userID).Session(&gorm.Session{})

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&orders).Error

	return orders, total, err
}
