package model

import (
	"time"
)

// EntryKind 流水类型
type EntryKind string

const (
	EntryKindPurchase EntryKind = "purchase" // 购买套餐
	EntryKindUsage    EntryKind = "usage"    // 生成/下载消耗
	EntryKindBonus    EntryKind = "bonus"    // 注册赠送等
	EntryKindRefund   EntryKind = "refund"   // 生成失败退回
)

// Valid 是否为已知类型
func (k EntryKind) Valid() bool {
	switch k {
	case EntryKindPurchase, EntryKindUsage, EntryKindBonus, EntryKindRefund:
		return true
	}
	return false
}

// LedgerEntry 账户流水表
//
// 只追加，不修改，不删除。余额变动提交之后才写入，写失败不回滚余额，
// 所以流水是审计用途，不能反推余额。
// Reference 只在需要去重的流水上设置（比如购买订单号），为空时不参与唯一约束。
type LedgerEntry struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntryNo       string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"entry_no"`
	UserID        string    `gorm:"type:varchar(128);index;not null" json:"user_id"`
	Counter       Counter   `gorm:"type:varchar(16);not null" json:"counter"`
	Amount        int64     `gorm:"not null" json:"amount"` // 正数入账，负数消耗
	Kind          EntryKind `gorm:"type:varchar(16);not null" json:"kind"`
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Description   string    `gorm:"type:varchar(256)" json:"description"`
	Reference     *string   `gorm:"type:varchar(64);uniqueIndex" json:"reference,omitempty"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entry"
}
