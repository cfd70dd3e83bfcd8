package model

import (
	"time"
)

const (
	OrderStatusCreated   = "CREATED"
	OrderStatusFulfilled = "FULFILLED"
	OrderStatusClosed    = "CLOSED"
	OrderStatusCancelled = "CANCELLED"
)

var ValidStatusTransitions = map[string][]string{
	OrderStatusCreated: {OrderStatusFulfilled, OrderStatusClosed, OrderStatusCancelled},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// PurchaseOrder 套餐购买订单
// 支付渠道回调后调用 Fulfill，订单状态和额度发放在同一个事务里完成
type PurchaseOrder struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo     string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	RequestID   string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"`
	UserID      string     `gorm:"type:varchar(128);index;not null" json:"user_id"`
	PackID      string     `gorm:"type:varchar(32);not null" json:"pack_id"`
	Credits     int64      `gorm:"not null" json:"credits"`
	Downloads   int64      `gorm:"not null" json:"downloads"`
	Premium     bool       `gorm:"not null;default:false" json:"premium"`
	Status      string     `gorm:"type:varchar(20);index;not null" json:"status"`
	ExpiredAt   time.Time  `gorm:"not null" json:"expired_at"`
	FulfilledAt *time.Time `json:"fulfilled_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PurchaseOrder) TableName() string {
	return "purchase_order"
}

// CreditsReference 购买发放生成次数的流水去重键
func (o *PurchaseOrder) CreditsReference() string {
	return o.OrderNo + ":credits"
}

// DownloadsReference 购买发放下载次数的流水去重键
func (o *PurchaseOrder) DownloadsReference() string {
	return o.OrderNo + ":downloads"
}
