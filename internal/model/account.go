package model

import (
	"time"
)

// Counter 账户上的两个独立余额
type Counter string

const (
	CounterCredits   Counter = "credits"   // 生成次数，每次生成/编辑消耗 1
	CounterDownloads Counter = "downloads" // 下载/打印次数，会员不消耗
)

// Column 余额对应的列名
func (c Counter) Column() string {
	switch c {
	case CounterCredits:
		return "generation_credits"
	case CounterDownloads:
		return "download_allowance"
	}
	return ""
}

// Account 用户账户表
// 一个身份对应一条记录，两个余额只能通过 LedgerService 的版本号校验事务修改
type Account struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID            string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"user_id"` // 身份提供方给出的账户ID
	GenerationCredits int64     `gorm:"not null;default:0" json:"generation_credits"`
	DownloadAllowance int64     `gorm:"not null;default:0" json:"download_allowance"`
	IsPremium         bool      `gorm:"not null;default:false" json:"is_premium"`
	Version           int       `gorm:"not null;default:0" json:"version"` // 乐观锁版本号
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

// Balance 返回指定余额的当前值
func (a *Account) Balance(c Counter) int64 {
	if c == CounterDownloads {
		return a.DownloadAllowance
	}
	return a.GenerationCredits
}
